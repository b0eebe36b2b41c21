package document

import (
	"os"
	"testing"
	"time"
)

func TestWatcherDetectsWrite(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.md", "one")
	id, _ := IdentityFor(path)

	w, err := NewWatcher(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Add(id); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Identity != id {
			t.Errorf("event identity = %q, want %q", ev.Identity, id)
		}
		if ev.Removed {
			t.Error("write event should not be marked removed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcherDetectsRemove(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.md", "one")
	id, _ := IdentityFor(path)

	w, err := NewWatcher(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Add(id); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if !ev.Removed {
			t.Error("remove event should be marked removed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for remove event")
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.md", "one")
	id, _ := IdentityFor(path)

	w, err := NewWatcher(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Add(id); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("burst"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for coalesced event")
	}

	// The burst should have collapsed into the one event above.
	select {
	case ev := <-w.Events():
		t.Errorf("unexpected second event: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w, err := NewWatcher(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
