package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vellumedit/vellum/internal/event"
	"github.com/vellumedit/vellum/internal/view"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.LogLevel == "" {
		opts.LogLevel = "error"
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSessionOpenAndCommands(t *testing.T) {
	s := newTestSession(t, Options{})
	path := writeFile(t, t.TempDir(), "a.md", "# hi")

	id, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mode, err := s.Coordinator().Mode(id); err != nil || mode != view.ModeRichEdit {
		t.Errorf("mode = %v, %v; want rich-edit", mode, err)
	}

	res := s.Execute(context.Background(), "switch-to-mode", []string{path, "rendered"})
	if !res.IsOK() {
		t.Fatalf("switch-to-mode result = %+v", res)
	}
	if mode, _ := s.Coordinator().Mode(id); mode != view.ModeRendered {
		t.Errorf("mode = %s, want rendered", mode)
	}
}

func TestSessionConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "vellum.toml")
	if err := os.WriteFile(cfgPath, []byte(`default_mode = "rendered"`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestSession(t, Options{ConfigPath: cfgPath})
	if s.Config().Options().DefaultMode != "rendered" {
		t.Errorf("DefaultMode = %q, want rendered", s.Config().Options().DefaultMode)
	}

	path := writeFile(t, dir, "a.md", "# hi")
	id, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mode, _ := s.Coordinator().Mode(id); mode != view.ModeRendered {
		t.Errorf("mode = %s, configured default should apply", mode)
	}
}

func TestSessionInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "vellum.toml")
	if err := os.WriteFile(cfgPath, []byte(`default_mode = "preview"`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(Options{ConfigPath: cfgPath, LogLevel: "error"}); err == nil {
		t.Error("New() should reject an invalid config file")
	}
}

func TestSessionEvents(t *testing.T) {
	s := newTestSession(t, Options{})

	var opened int
	s.Events().Subscribe(event.TopicDocumentOpened, func(event.Topic, any) { opened++ })

	path := writeFile(t, t.TempDir(), "a.md", "# hi")
	if _, err := s.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != 1 {
		t.Errorf("opened events = %d, want 1", opened)
	}
}

func TestSessionShutdownSavesDirty(t *testing.T) {
	s := newTestSession(t, Options{})
	path := writeFile(t, t.TempDir(), "a.md", "one")

	id, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// Dirty the document directly, then shut down.
	if err := s.store.UpdateContent(id, "edited"); err != nil {
		t.Fatalf("UpdateContent() error = %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "edited" {
		t.Errorf("file content = %q, shutdown should save dirty documents", data)
	}
}
