// Package config supplies the validated options object consumed by the
// engine and notifies subscribers of changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// ErrValidation indicates a malformed configuration value.
var ErrValidation = errors.New("validation failure")

// Option keys, as seen by subscribers and config-update payloads.
const (
	KeyDefaultMode      = "defaultMode"
	KeyAutoSaveEnabled  = "autoSaveEnabled"
	KeyAutoSaveDelayMs  = "autoSaveDelayMs"
	KeyShowToolbar      = "showToolbar"
	KeyRequestTimeoutMs = "requestTimeoutMs"
	KeyWatchDebounceMs  = "watchDebounceMs"
)

// Options is the validated settings object.
type Options struct {
	// DefaultMode is the presentation mode for newly opened documents.
	DefaultMode string `toml:"default_mode"`

	// AutoSaveEnabled turns the debounced auto-save timer on.
	AutoSaveEnabled bool `toml:"auto_save_enabled"`

	// AutoSaveDelayMs is the quiet period before an auto-save fires.
	AutoSaveDelayMs int `toml:"auto_save_delay_ms"`

	// ShowToolbar toggles the host toolbar.
	ShowToolbar bool `toml:"show_toolbar"`

	// RequestTimeoutMs bounds surface request round-trips.
	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// WatchDebounceMs is the quiet period for external change detection.
	WatchDebounceMs int `toml:"watch_debounce_ms"`
}

// Default returns the baseline options.
func Default() Options {
	return Options{
		DefaultMode:      "rich-edit",
		AutoSaveEnabled:  false,
		AutoSaveDelayMs:  1000,
		ShowToolbar:      true,
		RequestTimeoutMs: 3000,
		WatchDebounceMs:  100,
	}
}

// Validate checks every option, reporting the first violation as
// ErrValidation.
func (o Options) Validate() error {
	switch o.DefaultMode {
	case "rich-edit", "rendered", "split":
	default:
		return fmt.Errorf("%w: default_mode %q", ErrValidation, o.DefaultMode)
	}
	if o.AutoSaveDelayMs < 100 {
		return fmt.Errorf("%w: auto_save_delay_ms %d below 100", ErrValidation, o.AutoSaveDelayMs)
	}
	if o.RequestTimeoutMs <= 0 {
		return fmt.Errorf("%w: request_timeout_ms %d", ErrValidation, o.RequestTimeoutMs)
	}
	if o.WatchDebounceMs <= 0 {
		return fmt.Errorf("%w: watch_debounce_ms %d", ErrValidation, o.WatchDebounceMs)
	}
	return nil
}

// Map returns the options keyed for subscribers and config-update
// payloads.
func (o Options) Map() map[string]any {
	return map[string]any{
		KeyDefaultMode:      o.DefaultMode,
		KeyAutoSaveEnabled:  o.AutoSaveEnabled,
		KeyAutoSaveDelayMs:  o.AutoSaveDelayMs,
		KeyShowToolbar:      o.ShowToolbar,
		KeyRequestTimeoutMs: o.RequestTimeoutMs,
		KeyWatchDebounceMs:  o.WatchDebounceMs,
	}
}

// AutoSaveDelay returns the auto-save quiet period as a duration.
func (o Options) AutoSaveDelay() time.Duration {
	return time.Duration(o.AutoSaveDelayMs) * time.Millisecond
}

// RequestTimeout returns the surface request bound as a duration.
func (o Options) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutMs) * time.Millisecond
}

// WatchDebounce returns the watch quiet period as a duration.
func (o Options) WatchDebounce() time.Duration {
	return time.Duration(o.WatchDebounceMs) * time.Millisecond
}

// Load reads options from a TOML file, layered over defaults. A missing
// file yields the defaults.
func Load(path string) (Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return Options{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("%w: parse %s: %v", ErrValidation, path, err)
	}

	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("config %s: %w", path, err)
	}
	return opts, nil
}

// Change notifies a subscriber of one modified option.
type Change struct {
	Key       string
	OldValue  any
	NewValue  any
	Timestamp time.Time
}

// Observer receives option changes.
type Observer func(change Change)

// Subscription is an active observer registration.
type Subscription struct {
	id    string
	store *Store
}

// Unsubscribe removes the observer.
func (s *Subscription) Unsubscribe() {
	if s.store != nil {
		s.store.remove(s.id)
	}
}

// Store holds the current options and fans out changes.
type Store struct {
	mu        sync.RWMutex
	opts      Options
	observers map[string]Observer
}

// NewStore creates a store around validated options.
func NewStore(opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		opts:      opts,
		observers: make(map[string]Observer),
	}, nil
}

// Options returns the current options.
func (s *Store) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Subscribe registers an observer for option changes.
func (s *Store) Subscribe(obs Observer) *Subscription {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[id] = obs
	return &Subscription{id: id, store: s}
}

// Update replaces the options after validation and notifies observers of
// each changed key.
func (s *Store) Update(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	oldMap := s.opts.Map()
	newMap := opts.Map()
	s.opts = opts
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	now := time.Now()
	for key, newVal := range newMap {
		oldVal := oldMap[key]
		if oldVal == newVal {
			continue
		}
		change := Change{Key: key, OldValue: oldVal, NewValue: newVal, Timestamp: now}
		for _, obs := range observers {
			obs(change)
		}
	}
	return nil
}

// remove drops an observer by id.
func (s *Store) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, id)
}
