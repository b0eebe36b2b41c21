// Package app assembles the engine: document store, mode tracker, surface
// registry, coordinator, command registry, and configuration, wired into
// one Session a host embeds.
package app

import (
	"context"
	"fmt"

	"github.com/vellumedit/vellum/internal/command"
	"github.com/vellumedit/vellum/internal/config"
	"github.com/vellumedit/vellum/internal/coordinator"
	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/event"
	"github.com/vellumedit/vellum/internal/render"
	"github.com/vellumedit/vellum/internal/surface"
	"github.com/vellumedit/vellum/internal/view"
)

// Options configures a Session.
type Options struct {
	// ConfigPath is the TOML configuration file. Empty uses defaults and
	// disables config hot reload.
	ConfigPath string

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string

	// Resolver decides document conflicts automatically. Nil leaves
	// conflicts pending for an explicit resolve-conflict command.
	Resolver coordinator.Resolver

	// Factory overrides the built-in surface factory. Hosts that render
	// with real UI widgets supply their own.
	Factory surface.Factory
}

// Session is one running engine instance.
type Session struct {
	logger   *Logger
	cfg      *config.Store
	cfgWatch *config.FileWatcher
	store    *document.Store
	tracker  *view.Tracker
	registry *surface.Registry
	bus      *event.Bus
	coord    *coordinator.Coordinator
	commands *command.Registry
}

// New builds and starts a session.
func New(opts Options) (*Session, error) {
	logger := NewLogger(LoggerConfig{
		Level:  ParseLogLevel(opts.LogLevel),
		Prefix: "vellum",
	})

	cfgOpts := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		cfgOpts = loaded
	}
	cfgStore, err := config.NewStore(cfgOpts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	store, err := document.NewStore(document.WithWatchDebounce(cfgOpts.WatchDebounce()))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	tracker := view.NewTracker(view.WithListenerFailureHandler(func(err error) {
		logger.WithComponent("view").Error("%v", err)
	}))

	factory := opts.Factory
	if factory == nil {
		factory = surface.NewBuiltinFactory(render.New())
	}
	registry := surface.NewRegistry(factory,
		surface.WithRequestTimeout(cfgOpts.RequestTimeout()),
		surface.WithLogf(logger.WithComponent("surface").Warn),
	)

	bus := event.NewBus(event.WithFailureHandler(func(topic event.Topic, err error) {
		logger.WithComponent("event").Error("%v", err)
	}))

	coordOpts := []coordinator.Option{
		coordinator.WithLogf(logger.WithComponent("coordinator").Warn),
	}
	if opts.Resolver != nil {
		coordOpts = append(coordOpts, coordinator.WithResolver(opts.Resolver))
	}
	coord := coordinator.New(store, tracker, registry, bus, cfgStore, coordOpts...)

	commands := command.NewEngineRegistry(coord)
	coord.SetCommandRunner(func(name string, args []string) error {
		res := commands.Execute(context.Background(), name, args)
		return res.Error
	})

	s := &Session{
		logger:   logger,
		cfg:      cfgStore,
		store:    store,
		tracker:  tracker,
		registry: registry,
		bus:      bus,
		coord:    coord,
		commands: commands,
	}

	if opts.ConfigPath != "" {
		watch, err := config.WatchFile(cfgStore, opts.ConfigPath, func(err error) {
			logger.WithComponent("config").Warn("%v", err)
		})
		if err != nil {
			logger.WithComponent("config").Warn("hot reload unavailable: %v", err)
		} else {
			s.cfgWatch = watch
		}
	}

	coord.Start()
	logger.Info("session started")
	return s, nil
}

// Open loads a document and brings up its surfaces.
func (s *Session) Open(path string) (document.Identity, error) {
	return s.coord.Open(path)
}

// Execute runs a named command.
func (s *Session) Execute(ctx context.Context, name string, args []string) command.Result {
	return s.commands.Execute(ctx, name, args)
}

// Events returns the notification bus for host subscriptions.
func (s *Session) Events() *event.Bus {
	return s.bus
}

// Commands returns the command registry for host extension.
func (s *Session) Commands() *command.Registry {
	return s.commands
}

// Coordinator exposes the document coordinator.
func (s *Session) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Config returns the live configuration store.
func (s *Session) Config() *config.Store {
	return s.cfg
}

// Logger returns the session logger.
func (s *Session) Logger() *Logger {
	return s.logger
}

// Shutdown saves what it can and tears the engine down. Save failures are
// logged per document and do not block teardown.
func (s *Session) Shutdown() error {
	for _, res := range s.coord.SaveAll() {
		if res.Err != nil {
			s.logger.Error("shutdown save %s: %v", res.Identity, res.Err)
		}
	}

	if s.cfgWatch != nil {
		if err := s.cfgWatch.Close(); err != nil {
			s.logger.Warn("close config watcher: %v", err)
		}
	}

	err := s.coord.Shutdown()
	s.logger.Info("session stopped")
	return err
}
