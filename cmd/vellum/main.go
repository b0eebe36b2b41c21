// Package main is the entry point for the vellum engine host.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vellumedit/vellum/internal/app"
	"github.com/vellumedit/vellum/internal/event"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Vellum - multi-document synchronization engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: vellum [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("Vellum %s (%s)\n", version, commit)
		return 0
	}

	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", logLevel)
		return 1
	}

	session, err := app.New(app.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer func() {
		if err := session.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
		}
	}()

	logger := session.Logger()
	session.Events().Subscribe(event.TopicAll, func(topic event.Topic, payload any) {
		logger.Debug("%s: %+v", topic, payload)
	})

	for _, path := range flag.Args() {
		if _, err := session.Open(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: open %s: %v\n", path, err)
			return 1
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	return 0
}
