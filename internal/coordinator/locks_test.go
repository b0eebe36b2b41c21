package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/vellumedit/vellum/internal/document"
)

func TestLockTableSerializesPerDocument(t *testing.T) {
	lt := newLockTable()
	const id = document.Identity("/a.md")

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lt.withLock(id, func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}

func TestLockTableFIFO(t *testing.T) {
	lt := newLockTable()
	const id = document.Identity("/a.md")

	lt.acquire(id)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			lt.withLock(id, func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}()
		// Give each goroutine time to queue before the next arrives.
		time.Sleep(20 * time.Millisecond)
	}

	lt.release(id)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("wakeup order = %v, want arrival order", order)
		}
	}
}

func TestLockTableIndependentDocuments(t *testing.T) {
	lt := newLockTable()

	lt.acquire("/a.md")
	defer lt.release("/a.md")

	done := make(chan struct{})
	go func() {
		lt.withLock("/b.md", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on one document must not block another")
	}
}
