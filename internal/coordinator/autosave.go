package coordinator

import (
	"sync"
	"time"

	"github.com/vellumedit/vellum/internal/document"
)

// autoSaver debounces saves per document: every edit restarts the
// document's timer, so a save fires only after the configured quiet
// period. One timer exists per document at most.
type autoSaver struct {
	mu      sync.Mutex
	timers  map[document.Identity]*time.Timer
	save    func(id document.Identity)
	stopped bool
}

func newAutoSaver(save func(id document.Identity)) *autoSaver {
	return &autoSaver{
		timers: make(map[document.Identity]*time.Timer),
		save:   save,
	}
}

// Schedule arms or restarts the document's save timer.
func (a *autoSaver) Schedule(id document.Identity, delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if t, ok := a.timers[id]; ok {
		t.Reset(delay)
		return
	}
	a.timers[id] = time.AfterFunc(delay, func() {
		a.fire(id)
	})
}

// Cancel disarms the document's timer.
func (a *autoSaver) Cancel(id document.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[id]; ok {
		t.Stop()
		delete(a.timers, id)
	}
}

// CancelAll disarms every timer.
func (a *autoSaver) CancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}

// Stop disarms everything and rejects further scheduling.
func (a *autoSaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}

func (a *autoSaver) fire(id document.Identity) {
	a.mu.Lock()
	_, armed := a.timers[id]
	delete(a.timers, id)
	stopped := a.stopped
	a.mu.Unlock()

	// A timer that lost the race with Cancel or Stop does not save.
	if !armed || stopped {
		return
	}
	a.save(id)
}
