package document

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"
)

// Conflict describes an external modification to a dirty document. The
// store never resolves these itself; it surfaces them for a user decision.
type Conflict struct {
	Identity    Identity
	DiskContent string
	DiskModTime time.Time
}

// Resolution is the user's decision for a Conflict.
type Resolution int

const (
	// ResolveKeepMine keeps the in-memory edits. The external version is
	// acknowledged so the next save overwrites it deliberately.
	ResolveKeepMine Resolution = iota

	// ResolveReload discards in-memory edits and loads the disk version.
	ResolveReload
)

// SaveResult is the per-identity outcome of SaveAll.
type SaveResult struct {
	Identity Identity
	Err      error
}

// Store owns all open documents and is the sole mutator of their backing
// files. One file watch is attached per open identity.
type Store struct {
	mu      sync.RWMutex
	docs    map[Identity]*Document
	watcher *Watcher
	closed  bool

	onOpen     []func(doc *Document)
	onClose    []func(id Identity)
	onSave     []func(doc *Document)
	onDirty    []func(doc *Document, dirty bool)
	onReload   []func(doc *Document)
	onConflict []func(c Conflict)
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	watchDebounce time.Duration
	watch         bool
}

// WithWatchDebounce sets the debounce delay for external change detection.
func WithWatchDebounce(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.watchDebounce = d
	}
}

// WithoutWatcher disables file watching. Intended for tests that drive
// ApplyExternalChange directly.
func WithoutWatcher() StoreOption {
	return func(c *storeConfig) {
		c.watch = false
	}
}

// NewStore creates a document store.
func NewStore(opts ...StoreOption) (*Store, error) {
	cfg := storeConfig{watchDebounce: 100 * time.Millisecond, watch: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{docs: make(map[Identity]*Document)}

	if cfg.watch {
		w, err := NewWatcher(cfg.watchDebounce)
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}

	return s, nil
}

// ExternalChanges returns the debounced stream of on-disk changes to open
// documents. Nil when the store was built without a watcher.
func (s *Store) ExternalChanges() <-chan ChangeEvent {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Events()
}

// Open loads the file at path and returns its document. If the identity is
// already open the existing document is returned without touching storage.
func (s *Store) Open(path string) (*Document, error) {
	id, err := IdentityFor(path)
	if err != nil {
		return nil, opError("open", Identity(path), err)
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, opError("open", id, ErrStoreClosed)
	}
	if doc, ok := s.docs[id]; ok {
		s.mu.RUnlock()
		return doc, nil
	}
	s.mu.RUnlock()

	content, modTime, err := s.ReadDisk(id)
	if err != nil {
		return nil, err
	}

	doc := New(id, content, modTime)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, opError("open", id, ErrStoreClosed)
	}
	// Another caller may have opened it while we were reading.
	if existing, ok := s.docs[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.docs[id] = doc
	s.mu.Unlock()

	if s.watcher != nil {
		if err := s.watcher.Add(id); err != nil {
			// The document is still usable without a watch; external
			// changes will only be detected at save time.
			select {
			case s.watcher.errs <- err:
			default:
			}
		}
	}

	for _, h := range s.openHandlers() {
		h(doc)
	}
	return doc, nil
}

// Get returns the open document for id.
func (s *Store) Get(id Identity) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// OpenDocuments returns all open documents.
func (s *Store) OpenDocuments() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return docs
}

// DirtyDocuments returns all open documents with unsaved changes.
func (s *Store) DirtyDocuments() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var dirty []*Document
	for _, doc := range s.docs {
		if doc.IsDirty() {
			dirty = append(dirty, doc)
		}
	}
	return dirty
}

// UpdateContent replaces a document's content, typically from a surface
// edit, and fires dirty-changed when the flag flips.
func (s *Store) UpdateContent(id Identity, content string) error {
	doc, ok := s.Get(id)
	if !ok {
		return opError("update", id, ErrNotOpen)
	}

	if doc.SetContent(content) {
		dirty := doc.IsDirty()
		for _, h := range s.dirtyHandlers() {
			h(doc, dirty)
		}
	}
	return nil
}

// Save persists a document's content. A clean document is a no-op. Fails
// with ErrWriteConflict when the backing file was modified externally since
// the last load or save and its content differs; the conflict is surfaced,
// never silently overwritten.
func (s *Store) Save(id Identity) error {
	doc, ok := s.Get(id)
	if !ok {
		return opError("save", id, ErrNotOpen)
	}

	if !doc.IsDirty() {
		return nil
	}

	if info, err := os.Stat(id.Path()); err == nil {
		if doc.HasExternalChange(info.ModTime()) {
			diskContent, _, rerr := s.ReadDisk(id)
			if rerr == nil && diskContent != doc.savedBaseline() {
				return opError("save", id, ErrWriteConflict)
			}
		}
	}
	// A stat failure here usually means the file was deleted externally;
	// writing recreates it.

	content := doc.Content()
	if err := os.WriteFile(id.Path(), []byte(content), 0o644); err != nil {
		return opError("save", id, convertFSError(err))
	}

	modTime := time.Now()
	if info, err := os.Stat(id.Path()); err == nil {
		modTime = info.ModTime()
	}
	doc.MarkSaved(modTime)

	for _, h := range s.saveHandlers() {
		h(doc)
	}
	for _, h := range s.dirtyHandlers() {
		h(doc, false)
	}
	return nil
}

// SaveAll saves every dirty document. One failed save does not abort the
// others; the caller gets a per-identity result list.
func (s *Store) SaveAll() []SaveResult {
	dirty := s.DirtyDocuments()
	results := make([]SaveResult, 0, len(dirty))
	for _, doc := range dirty {
		results = append(results, SaveResult{
			Identity: doc.Identity(),
			Err:      s.Save(doc.Identity()),
		})
	}
	return results
}

// ApplyExternalChange folds an on-disk modification into the store. Clean
// documents are silently reloaded. Dirty documents raise a conflict for the
// coordinator to resolve; in-memory edits are never discarded here.
func (s *Store) ApplyExternalChange(id Identity, newContent string, newModTime time.Time) error {
	doc, ok := s.Get(id)
	if !ok {
		return opError("reload", id, ErrNotOpen)
	}

	if doc.IsDirty() {
		c := Conflict{Identity: id, DiskContent: newContent, DiskModTime: newModTime}
		for _, h := range s.conflictHandlers() {
			h(c)
		}
		return nil
	}

	if doc.Reload(newContent, newModTime) {
		for _, h := range s.reloadHandlers() {
			h(doc)
		}
	}
	return nil
}

// Resolve applies the user's decision for a previously surfaced conflict.
func (s *Store) Resolve(id Identity, res Resolution, c Conflict) error {
	doc, ok := s.Get(id)
	if !ok {
		return opError("resolve", id, ErrNotOpen)
	}

	switch res {
	case ResolveKeepMine:
		doc.AcknowledgeDisk(c.DiskModTime)
		return nil
	case ResolveReload:
		wasDirty := doc.IsDirty()
		doc.Reload(c.DiskContent, c.DiskModTime)
		for _, h := range s.reloadHandlers() {
			h(doc)
		}
		if wasDirty {
			for _, h := range s.dirtyHandlers() {
				h(doc, false)
			}
		}
		return nil
	default:
		return opError("resolve", id, errors.New("unknown resolution"))
	}
}

// Close releases a document. Fails with ErrUnsavedChanges when the document
// is dirty and discard is false.
func (s *Store) Close(id Identity, discard bool) error {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return opError("close", id, ErrNotOpen)
	}
	if !discard && doc.IsDirty() {
		s.mu.Unlock()
		return opError("close", id, ErrUnsavedChanges)
	}
	doc.MarkClosed()
	delete(s.docs, id)
	s.mu.Unlock()

	if s.watcher != nil {
		_ = s.watcher.Remove(id)
	}

	for _, h := range s.closeHandlers() {
		h(id)
	}
	return nil
}

// CloseAll releases every open document. With discard false the first dirty
// document aborts the sweep.
func (s *Store) CloseAll(discard bool) error {
	for _, doc := range s.OpenDocuments() {
		if err := s.Close(doc.Identity(), discard); err != nil {
			if errors.Is(err, ErrNotOpen) {
				continue
			}
			return err
		}
	}
	return nil
}

// Shutdown closes the watcher and releases all documents regardless of
// dirty state. Intended for session teardown after saves were attempted.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.CloseAll(true)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// ReadDisk reads the identity's backing file, converting raw filesystem
// errors to the store taxonomy.
func (s *Store) ReadDisk(id Identity) (string, time.Time, error) {
	info, err := os.Stat(id.Path())
	if err != nil {
		return "", time.Time{}, opError("read", id, convertFSError(err))
	}
	data, err := os.ReadFile(id.Path())
	if err != nil {
		return "", time.Time{}, opError("read", id, convertFSError(err))
	}
	return string(data), info.ModTime(), nil
}

// convertFSError maps raw filesystem errors to the package taxonomy.
func convertFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrAccessDenied
	default:
		return err
	}
}

// savedBaseline exposes the persisted-content snapshot to the store for
// conflict detection.
func (d *Document) savedBaseline() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.savedContent
}

// Handler registration. Handler slices are copied before invocation so
// registration during delivery cannot race.

// OnOpen registers a handler called after a document is opened.
func (s *Store) OnOpen(h func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = append(s.onOpen, h)
}

// OnClose registers a handler called after a document is released.
func (s *Store) OnClose(h func(id Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, h)
}

// OnSave registers a handler called after a successful save.
func (s *Store) OnSave(h func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSave = append(s.onSave, h)
}

// OnDirtyChanged registers a handler called when a dirty flag flips.
func (s *Store) OnDirtyChanged(h func(doc *Document, dirty bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDirty = append(s.onDirty, h)
}

// OnReload registers a handler called after an external reload.
func (s *Store) OnReload(h func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, h)
}

// OnConflict registers a handler called when a dirty document is modified
// externally.
func (s *Store) OnConflict(h func(c Conflict)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConflict = append(s.onConflict, h)
}

func (s *Store) openHandlers() []func(doc *Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(doc *Document), len(s.onOpen))
	copy(out, s.onOpen)
	return out
}

func (s *Store) closeHandlers() []func(id Identity) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(id Identity), len(s.onClose))
	copy(out, s.onClose)
	return out
}

func (s *Store) saveHandlers() []func(doc *Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(doc *Document), len(s.onSave))
	copy(out, s.onSave)
	return out
}

func (s *Store) dirtyHandlers() []func(doc *Document, dirty bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(doc *Document, dirty bool), len(s.onDirty))
	copy(out, s.onDirty)
	return out
}

func (s *Store) reloadHandlers() []func(doc *Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(doc *Document), len(s.onReload))
	copy(out, s.onReload)
	return out
}

func (s *Store) conflictHandlers() []func(c Conflict) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(c Conflict), len(s.onConflict))
	copy(out, s.onConflict)
	return out
}
