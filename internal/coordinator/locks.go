package coordinator

import (
	"sync"

	"github.com/vellumedit/vellum/internal/document"
)

// lockTable serializes operations per document. Waiters are queued in
// arrival order, so an edit, an external change, and a mode switch on the
// same document run strictly one after another while different documents
// proceed in parallel.
type lockTable struct {
	mu    sync.Mutex
	locks map[document.Identity]*docLock
}

type docLock struct {
	held    bool
	waiters []chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[document.Identity]*docLock)}
}

// acquire blocks until the caller holds the document's lock.
func (t *lockTable) acquire(id document.Identity) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &docLock{}
		t.locks[id] = l
	}
	if !l.held {
		l.held = true
		t.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	t.mu.Unlock()

	<-ch
}

// release hands the lock to the longest waiter, or frees it.
func (t *lockTable) release(id document.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok || !l.held {
		return
	}
	if len(l.waiters) == 0 {
		l.held = false
		delete(t.locks, id)
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

// withLock runs fn while holding the document's lock.
func (t *lockTable) withLock(id document.Identity, fn func()) {
	t.acquire(id)
	defer t.release(id)
	fn()
}
