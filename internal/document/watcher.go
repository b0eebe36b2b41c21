package document

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent is a debounced notification that a watched file changed on
// disk outside this process.
type ChangeEvent struct {
	Identity  Identity
	Removed   bool
	Timestamp time.Time
}

// Watcher watches individual open files for external modification.
// Rapid bursts of writes to the same file (editors, sync tools) are
// coalesced into a single event after a quiet period.
type Watcher struct {
	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	delay   time.Duration
	pending map[Identity]*pendingChange
	events  chan ChangeEvent
	errs    chan error
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

type pendingChange struct {
	timer   *time.Timer
	removed bool
}

// NewWatcher creates a file watcher with the given debounce delay.
func NewWatcher(delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		delay:   delay,
		pending: make(map[Identity]*pendingChange),
		events:  make(chan ChangeEvent, 64),
		errs:    make(chan error, 16),
		closeCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// Add starts watching the identity's backing file.
// Watching the containing directory would be broader than needed; one watch
// is attached per open identity so every surface viewing the same document
// shares a single reload path.
func (w *Watcher) Add(id Identity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStoreClosed
	}
	return w.fsw.Add(id.Path())
}

// Remove stops watching the identity's backing file.
func (w *Watcher) Remove(id Identity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	// fsnotify drops the watch automatically if the file was deleted.
	_ = w.fsw.Remove(id.Path())
	if p, ok := w.pending[id]; ok {
		p.timer.Stop()
		delete(w.pending, id)
	}
	return nil
}

// Events returns the debounced change channel.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Errors returns the watcher error channel.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for id, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, id)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// processLoop reads raw fsnotify events and debounces them per identity.
func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	id := Identity(filepath.Clean(ev.Name))
	removed := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if p, ok := w.pending[id]; ok {
		// Coalesce into the pending event and restart the quiet period.
		p.removed = p.removed || removed
		p.timer.Reset(w.delay)
		return
	}

	p := &pendingChange{removed: removed}
	p.timer = time.AfterFunc(w.delay, func() {
		w.fire(id)
	})
	w.pending[id] = p
}

// fire delivers a debounced event for the identity.
func (w *Watcher) fire(id Identity) {
	w.mu.Lock()
	p, ok := w.pending[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, id)
	removed := p.removed
	w.mu.Unlock()

	select {
	case w.events <- ChangeEvent{Identity: id, Removed: removed, Timestamp: time.Now()}:
	case <-w.closeCh:
	}
}

// Flush fires all pending events immediately. Test hook.
func (w *Watcher) Flush() {
	w.mu.Lock()
	ids := make([]Identity, 0, len(w.pending))
	for id, p := range w.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.fire(id)
	}
}
