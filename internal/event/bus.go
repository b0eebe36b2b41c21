// Package event provides the notification bus for host-UI consumers.
//
// Listeners receive plain notifications (document lifecycle, mode changes,
// dirty state); no return value is expected from them and a failing
// listener never affects the publisher or other listeners.
package event

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Topic routes notifications to interested subscribers.
type Topic string

// Topics published by the engine.
const (
	// TopicAll subscribes to every notification.
	TopicAll Topic = "*"

	TopicDocumentOpened   Topic = "document.opened"
	TopicDocumentClosed   Topic = "document.closed"
	TopicDocumentSaved    Topic = "document.saved"
	TopicDocumentReloaded Topic = "document.reloaded"
	TopicDirtyChanged     Topic = "document.dirty-changed"
	TopicConflict         Topic = "document.conflict"
	TopicModeChanged      Topic = "view.mode-changed"
)

// Handler receives published notifications.
type Handler func(topic Topic, payload any)

// Subscription identifies one active handler registration.
type Subscription struct {
	id    string
	topic Topic
	bus   *Bus
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.remove(s.topic, s.id)
	}
}

// Bus is a synchronous publish/subscribe hub with per-handler failure
// isolation: a panicking handler is reported to the failure sink and the
// remaining handlers still run.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[string]Handler
	onFailure func(topic Topic, err error)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithFailureHandler sets the sink for isolated handler panics.
func WithFailureHandler(h func(topic Topic, err error)) BusOption {
	return func(b *Bus) {
		b.onFailure = h
	}
}

// NewBus creates a notification bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:      make(map[Topic]map[string]Handler),
		onFailure: func(Topic, error) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a topic. TopicAll receives everything.
func (b *Bus) Subscribe(topic Topic, h Handler) *Subscription {
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]Handler)
	}
	b.subs[topic][id] = h

	return &Subscription{id: id, topic: topic, bus: b}
}

// Publish delivers a notification to the topic's subscribers and to
// TopicAll subscribers.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic])+len(b.subs[TopicAll]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	if topic != TopicAll {
		for _, h := range b.subs[TopicAll] {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(topic, payload, h)
	}
}

// deliver invokes one handler, converting panics into failure reports.
func (b *Bus) deliver(topic Topic, payload any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.onFailure(topic, fmt.Errorf("handler panic on %s: %v", topic, r))
		}
	}()
	h(topic, payload)
}

// remove drops a subscription by id.
func (b *Bus) remove(topic Topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
}
