// Package command maps named commands onto coordinator operations. It is
// the entry point for host menus, keybindings, and execute-command
// envelopes from surfaces; command handlers report through Result values
// and never panic out to the caller.
package command

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vellumedit/vellum/internal/coordinator"
	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/view"
)

// Handler executes one named command.
type Handler func(ctx context.Context, args []string) Result

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a command name, replacing any previous
// binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a command by name. Unknown commands and handler panics
// become error results.
func (r *Registry) Execute(ctx context.Context, name string, args []string) (result Result) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown command: %s", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Errorf("command %s panicked: %v", name, rec)
		}
	}()
	return h(ctx, args)
}

// NewEngineRegistry creates a registry bound to the coordinator's document
// operations.
func NewEngineRegistry(coord *coordinator.Coordinator) *Registry {
	r := NewRegistry()

	r.Register("open", func(ctx context.Context, args []string) Result {
		if len(args) != 1 {
			return Errorf("open: expected a file path")
		}
		id, err := coord.Open(args[0])
		if err != nil {
			return Error(err)
		}
		return Success().WithData("identity", string(id))
	})

	r.Register("close", func(ctx context.Context, args []string) Result {
		id, discard, err := closeArgs(args)
		if err != nil {
			return Error(err)
		}
		if err := coord.Close(id, discard); err != nil {
			return Error(err)
		}
		return Success()
	})

	r.Register("save", func(ctx context.Context, args []string) Result {
		id, err := identityArg("save", args)
		if err != nil {
			return Error(err)
		}
		if err := coord.Save(id); err != nil {
			return Error(err)
		}
		return Success()
	})

	r.Register("save-all", func(ctx context.Context, args []string) Result {
		results := coord.SaveAll()
		if len(results) == 0 {
			return NoOp()
		}
		failed := 0
		res := Success()
		for _, sr := range results {
			if sr.Err != nil {
				failed++
				res = res.WithData(string(sr.Identity), sr.Err.Error())
			}
		}
		if failed > 0 {
			res.Status = StatusError
			res.Error = fmt.Errorf("save-all: %d of %d failed", failed, len(results))
		}
		return res.WithData("saved", len(results)-failed)
	})

	r.Register("toggle-mode", func(ctx context.Context, args []string) Result {
		id, err := identityArg("toggle-mode", args)
		if err != nil {
			return Error(err)
		}
		if err := coord.ToggleMode(ctx, id); err != nil {
			return Error(err)
		}
		mode, err := coord.Mode(id)
		if err != nil {
			return Error(err)
		}
		return Success().WithData("mode", string(mode))
	})

	r.Register("switch-to-mode", func(ctx context.Context, args []string) Result {
		if len(args) != 2 {
			return Errorf("switch-to-mode: expected a file path and a mode")
		}
		id, err := document.IdentityFor(args[0])
		if err != nil {
			return Error(err)
		}
		mode, err := view.ParseMode(args[1])
		if err != nil {
			return Error(err)
		}
		if err := coord.SwitchMode(ctx, id, mode); err != nil {
			return Error(err)
		}
		return Success().WithData("mode", string(mode))
	})

	r.Register("resolve-conflict", func(ctx context.Context, args []string) Result {
		if len(args) != 2 {
			return Errorf("resolve-conflict: expected a file path and keep-mine or reload")
		}
		id, err := document.IdentityFor(args[0])
		if err != nil {
			return Error(err)
		}
		var res document.Resolution
		switch args[1] {
		case "keep-mine":
			res = document.ResolveKeepMine
		case "reload":
			res = document.ResolveReload
		default:
			return Errorf("resolve-conflict: unknown resolution %q", args[1])
		}
		if err := coord.ResolveConflict(id, res); err != nil {
			return Error(err)
		}
		return Success()
	})

	return r
}

func identityArg(name string, args []string) (document.Identity, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected a file path", name)
	}
	return document.IdentityFor(args[0])
}

func closeArgs(args []string) (document.Identity, bool, error) {
	switch len(args) {
	case 1:
		id, err := document.IdentityFor(args[0])
		return id, false, err
	case 2:
		if args[1] != "discard" {
			return "", false, fmt.Errorf("close: unknown flag %q", args[1])
		}
		id, err := document.IdentityFor(args[0])
		return id, true, err
	default:
		return "", false, fmt.Errorf("close: expected a file path")
	}
}
