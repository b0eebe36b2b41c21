package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vellumedit/vellum/internal/config"
	"github.com/vellumedit/vellum/internal/coordinator"
	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/event"
	"github.com/vellumedit/vellum/internal/render"
	"github.com/vellumedit/vellum/internal/surface"
	"github.com/vellumedit/vellum/internal/view"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()

	store, err := document.NewStore(document.WithoutWatcher())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	cfg, err := config.NewStore(config.Default())
	if err != nil {
		t.Fatalf("config.NewStore() error = %v", err)
	}
	coord := coordinator.New(
		store,
		view.NewTracker(),
		surface.NewRegistry(surface.NewBuiltinFactory(render.New()), surface.WithRequestTimeout(500*time.Millisecond)),
		event.NewBus(),
		cfg,
	)
	t.Cleanup(func() { _ = coord.Shutdown() })

	return NewEngineRegistry(coord), t.TempDir()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistryUnknownCommand(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Execute(context.Background(), "frobnicate", nil)
	if !res.IsError() {
		t.Errorf("result = %+v, want error for unknown command", res)
	}
}

func TestRegistryPanicIsolation(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", func(context.Context, []string) Result {
		panic("kaboom")
	})

	res := r.Execute(context.Background(), "boom", nil)
	if !res.IsError() {
		t.Errorf("result = %+v, want panic converted to error", res)
	}
}

func TestOpenSaveClose(t *testing.T) {
	r, dir := newTestRegistry(t)
	path := writeFile(t, dir, "a.md", "one")
	ctx := context.Background()

	res := r.Execute(ctx, "open", []string{path})
	if !res.IsOK() {
		t.Fatalf("open result = %+v", res)
	}
	if res.Data["identity"] == "" {
		t.Error("open should return the document identity")
	}

	// Nothing dirty yet: save succeeds as a no-op.
	if res := r.Execute(ctx, "save", []string{path}); !res.IsOK() {
		t.Fatalf("save result = %+v", res)
	}

	if res := r.Execute(ctx, "close", []string{path}); !res.IsOK() {
		t.Fatalf("close result = %+v", res)
	}
	// Closing again fails: not open.
	if res := r.Execute(ctx, "close", []string{path}); !res.IsError() {
		t.Errorf("second close result = %+v, want error", res)
	}
}

func TestOpenBadArgs(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		cmd  string
		args []string
	}{
		{"open no args", "open", nil},
		{"open extra args", "open", []string{"a", "b"}},
		{"save no args", "save", nil},
		{"switch missing mode", "switch-to-mode", []string{"a.md"}},
		{"switch bad mode", "switch-to-mode", []string{"a.md", "preview"}},
		{"close bad flag", "close", []string{"a.md", "force"}},
		{"resolve bad resolution", "resolve-conflict", []string{"a.md", "merge"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := r.Execute(context.Background(), tt.cmd, tt.args); !res.IsError() {
				t.Errorf("result = %+v, want error", res)
			}
		})
	}
}

func TestModeCommands(t *testing.T) {
	r, dir := newTestRegistry(t)
	path := writeFile(t, dir, "a.md", "# hi")
	ctx := context.Background()

	if res := r.Execute(ctx, "open", []string{path}); !res.IsOK() {
		t.Fatalf("open result = %+v", res)
	}

	res := r.Execute(ctx, "switch-to-mode", []string{path, "rendered"})
	if !res.IsOK() || res.Data["mode"] != string(view.ModeRendered) {
		t.Fatalf("switch-to-mode result = %+v", res)
	}

	res = r.Execute(ctx, "toggle-mode", []string{path})
	if !res.IsOK() || res.Data["mode"] != string(view.ModeSplit) {
		t.Fatalf("toggle-mode result = %+v, want split", res)
	}
}

func TestSaveAllCommand(t *testing.T) {
	r, dir := newTestRegistry(t)
	ctx := context.Background()

	// Nothing open: no-op.
	if res := r.Execute(ctx, "save-all", nil); res.Status != StatusNoOp {
		t.Errorf("save-all result = %+v, want no-op", res)
	}

	path := writeFile(t, dir, "a.md", "one")
	if res := r.Execute(ctx, "open", []string{path}); !res.IsOK() {
		t.Fatalf("open result = %+v", res)
	}
	// Still clean: no-op again.
	if res := r.Execute(ctx, "save-all", nil); res.Status != StatusNoOp {
		t.Errorf("save-all on clean docs = %+v, want no-op", res)
	}
}

func TestRegistryNames(t *testing.T) {
	r, _ := newTestRegistry(t)
	names := r.Names()

	want := map[string]bool{
		"open": true, "close": true, "save": true, "save-all": true,
		"toggle-mode": true, "switch-to-mode": true, "resolve-conflict": true,
	}
	for _, n := range names {
		delete(want, n)
	}
	if len(want) != 0 {
		t.Errorf("missing commands: %v", want)
	}
}
