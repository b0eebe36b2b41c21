// Package coordinator serializes the flows that touch a document from
// multiple directions: surface edits, external file changes, saves, and
// mode switches. All of them funnel through a per-document lock, so each
// document sees one mutation at a time while unrelated documents proceed
// concurrently.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vellumedit/vellum/internal/config"
	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/event"
	"github.com/vellumedit/vellum/internal/surface"
	"github.com/vellumedit/vellum/internal/view"
)

// Resolver decides a conflict between in-memory edits and an external
// change. When no resolver is installed conflicts stay pending until
// ResolveConflict is called.
type Resolver func(c document.Conflict) document.Resolution

// CommandRunner executes a named command requested by a surface.
type CommandRunner func(name string, args []string) error

// Coordinator wires the document store, mode tracker, and surface registry
// together and owns every cross-component flow.
type Coordinator struct {
	store    *document.Store
	tracker  *view.Tracker
	registry *surface.Registry
	bus      *event.Bus
	cfg      *config.Store

	locks *lockTable
	saver *autoSaver

	mu       sync.Mutex
	resolver Resolver
	runner   CommandRunner
	pending  map[document.Identity]document.Conflict

	logf func(format string, args ...any)

	closeCh chan struct{}
	closed  bool
	wg      sync.WaitGroup

	cfgSub *config.Subscription
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithResolver installs an automatic conflict resolver.
func WithResolver(r Resolver) Option {
	return func(c *Coordinator) {
		c.resolver = r
	}
}

// WithLogf sets the coordinator's log sink.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Coordinator) {
		c.logf = logf
	}
}

// New creates the coordinator and hooks it into the store, tracker,
// registry, and config change stream.
func New(store *document.Store, tracker *view.Tracker, registry *surface.Registry, bus *event.Bus, cfg *config.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		tracker:  tracker,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		locks:    newLockTable(),
		pending:  make(map[document.Identity]document.Conflict),
		logf:     func(string, ...any) {},
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.saver = newAutoSaver(c.autoSave)

	registry.SetMessageHandler(c.handleSurfaceMessage)

	store.OnDirtyChanged(func(doc *document.Document, dirty bool) {
		bus.Publish(event.TopicDirtyChanged, event.DirtyChanged{
			Identity: doc.Identity(),
			Dirty:    dirty,
		})
	})
	store.OnSave(func(doc *document.Document) {
		bus.Publish(event.TopicDocumentSaved, event.DocumentSaved{Identity: doc.Identity()})
	})
	store.OnReload(func(doc *document.Document) {
		c.pushContent(doc.Identity(), doc.Content(), nil)
		bus.Publish(event.TopicDocumentReloaded, event.DocumentReloaded{Identity: doc.Identity()})
	})
	store.OnConflict(c.onConflict)

	tracker.OnChange(func(ev view.ChangeEvent) {
		bus.Publish(event.TopicModeChanged, event.ModeChanged{
			Identity:     ev.Identity,
			PreviousMode: ev.PreviousMode,
			CurrentMode:  ev.CurrentMode,
			Timestamp:    ev.Timestamp,
		})
	})

	c.cfgSub = cfg.Subscribe(c.onConfigChange)

	return c
}

// SetCommandRunner installs the executor for execute-command envelopes.
// The command layer is built on top of the coordinator, so this is wired
// late.
func (c *Coordinator) SetCommandRunner(r CommandRunner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner = r
}

// Start launches the external-change loop. No-op when the store was built
// without a watcher.
func (c *Coordinator) Start() {
	ch := c.store.ExternalChanges()
	if ch == nil {
		return
	}
	c.wg.Add(1)
	go c.externalLoop(ch)
}

// Open loads a document, tracks it in the configured default mode, and
// brings up its surfaces.
func (c *Coordinator) Open(path string) (document.Identity, error) {
	doc, err := c.store.Open(path)
	if err != nil {
		return "", err
	}
	id := doc.Identity()

	// Distinguishes a first open from a re-open so a failure below does not
	// tear down state an earlier open still relies on.
	_, trackErr := c.tracker.Mode(id)
	fresh := trackErr != nil

	def, err := view.ParseMode(c.cfg.Options().DefaultMode)
	if err != nil {
		def = view.ModeRichEdit
	}
	if err := c.tracker.Track(id, def); err != nil {
		return "", err
	}
	mode, err := c.tracker.Mode(id)
	if err != nil {
		return "", err
	}

	modes := modesFor(mode)
	acquired := make([]*surface.Handle, 0, len(modes))
	for _, m := range modes {
		h, err := c.registry.Acquire(id, m)
		if err != nil {
			if fresh {
				for _, ah := range acquired {
					if rerr := c.registry.Release(ah); rerr != nil {
						c.logf("release %s/%s after failed open: %v", id, ah.Mode(), rerr)
					}
				}
				c.tracker.Forget(id)
			}
			return "", err
		}
		acquired = append(acquired, h)
		c.registry.Send(h, surface.MustEnvelope(surface.TypeContentChanged, surface.ContentChangedPayload{
			Content: doc.Content(),
		}))
	}
	c.registry.Activate(id, modes...)

	c.bus.Publish(event.TopicDocumentOpened, event.DocumentOpened{Identity: id, Mode: mode})
	return id, nil
}

// Close releases a document and everything attached to it. Fails with
// ErrUnsavedChanges when the document is dirty and discard is false.
func (c *Coordinator) Close(id document.Identity, discard bool) error {
	var err error
	c.locks.withLock(id, func() {
		err = c.store.Close(id, discard)
	})
	if err != nil {
		return err
	}

	c.saver.Cancel(id)
	c.tracker.Forget(id)
	c.registry.ReleaseAll(id)

	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()

	c.bus.Publish(event.TopicDocumentClosed, event.DocumentClosed{Identity: id})
	return nil
}

// Save persists a document. A write conflict is routed through conflict
// resolution; with a keep-mine decision the save is retried once.
func (c *Coordinator) Save(id document.Identity) error {
	var err error
	c.locks.withLock(id, func() {
		err = c.saveLocked(id)
	})
	return err
}

// SaveAll saves every dirty document, one result per identity.
func (c *Coordinator) SaveAll() []document.SaveResult {
	dirty := c.store.DirtyDocuments()
	results := make([]document.SaveResult, 0, len(dirty))
	for _, doc := range dirty {
		results = append(results, document.SaveResult{
			Identity: doc.Identity(),
			Err:      c.Save(doc.Identity()),
		})
	}
	return results
}

// SwitchMode transitions a document to the target mode. The switch is
// transactional: if the target surface cannot be brought up or does not
// acknowledge, the document stays in its previous mode.
func (c *Coordinator) SwitchMode(ctx context.Context, id document.Identity, target view.Mode) error {
	var err error
	c.locks.withLock(id, func() {
		err = c.switchLocked(ctx, id, target)
	})
	return err
}

// ToggleMode cycles to the next mode the document's content supports.
func (c *Coordinator) ToggleMode(ctx context.Context, id document.Identity) error {
	cur, err := c.tracker.Mode(id)
	if err != nil {
		return err
	}
	next := view.Toggle(cur, func(m view.Mode) bool {
		return view.SupportsContent(id.Path(), m)
	})
	if next == cur {
		return nil
	}
	return c.SwitchMode(ctx, id, next)
}

// Mode returns the document's current presentation mode.
func (c *Coordinator) Mode(id document.Identity) (view.Mode, error) {
	return c.tracker.Mode(id)
}

// PendingConflict returns the unresolved conflict for a document, if any.
func (c *Coordinator) PendingConflict(id document.Identity) (document.Conflict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conflict, ok := c.pending[id]
	return conflict, ok
}

// ResolveConflict applies a decision to a pending conflict.
func (c *Coordinator) ResolveConflict(id document.Identity, res document.Resolution) error {
	c.mu.Lock()
	conflict, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("resolve %s: no pending conflict", id)
	}

	var err error
	c.locks.withLock(id, func() {
		err = c.store.Resolve(id, res, conflict)
	})
	return err
}

// Shutdown stops the background loops and tears down surfaces and
// documents. Unsaved changes are discarded; call SaveAll first when they
// should survive.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.closeCh)
	c.wg.Wait()
	c.saver.Stop()
	if c.cfgSub != nil {
		c.cfgSub.Unsubscribe()
	}
	c.registry.Shutdown()
	return c.store.Shutdown()
}

// externalLoop folds debounced on-disk changes into the store.
func (c *Coordinator) externalLoop(ch <-chan document.ChangeEvent) {
	defer c.wg.Done()

	for {
		select {
		case <-c.closeCh:
			return

		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Removed {
				// The in-memory content is now the only copy; the next
				// save recreates the file.
				c.logf("backing file removed for %s", ev.Identity)
				continue
			}
			c.locks.withLock(ev.Identity, func() {
				content, modTime, err := c.store.ReadDisk(ev.Identity)
				if err != nil {
					if !errors.Is(err, document.ErrNotFound) {
						c.logf("read external change for %s: %v", ev.Identity, err)
					}
					return
				}
				if err := c.store.ApplyExternalChange(ev.Identity, content, modTime); err != nil {
					if !errors.Is(err, document.ErrNotOpen) {
						c.logf("apply external change for %s: %v", ev.Identity, err)
					}
				}
			})
		}
	}
}

// handleSurfaceMessage is the registry's sink for uncorrelated envelopes.
// It runs on the emitting surface's goroutine.
func (c *Coordinator) handleSurfaceMessage(h *surface.Handle, env surface.Envelope) {
	id := h.DocumentID()

	switch env.Type {
	case surface.TypeSurfaceReady:
		// A freshly ready surface has never seen the document; push the
		// current content so it does not render stale or empty state.
		if doc, ok := c.store.Get(id); ok {
			c.registry.Send(h, surface.MustEnvelope(surface.TypeContentChanged, surface.ContentChangedPayload{
				Content: doc.Content(),
			}))
		}

	case surface.TypeContentChanged:
		var p surface.ContentChangedPayload
		if err := env.DecodePayload(&p); err != nil {
			c.logf("content-changed from %s/%s: %v", id, h.Mode(), err)
			return
		}
		c.applyEdit(h, p.Content)

	case surface.TypeSaveRequest:
		if err := c.Save(id); err != nil {
			c.registry.Send(h, surface.MustEnvelope(surface.TypeError, surface.ErrorPayload{
				Message: err.Error(),
				Context: "save",
			}))
		}

	case surface.TypeExecuteCommand:
		var p surface.ExecuteCommandPayload
		if err := env.DecodePayload(&p); err != nil {
			c.logf("execute-command from %s/%s: %v", id, h.Mode(), err)
			return
		}
		c.mu.Lock()
		runner := c.runner
		c.mu.Unlock()
		if runner == nil {
			c.logf("execute-command %q from %s/%s: no runner installed", p.Command, id, h.Mode())
			return
		}
		if err := runner(p.Command, p.Args); err != nil {
			c.registry.Send(h, surface.MustEnvelope(surface.TypeError, surface.ErrorPayload{
				Message: err.Error(),
				Context: p.Command,
			}))
		}

	case surface.TypeError:
		var p surface.ErrorPayload
		if err := env.DecodePayload(&p); err == nil {
			c.logf("surface error from %s/%s: %s (%s)", id, h.Mode(), p.Message, p.Context)
		}

	default:
		c.logf("unhandled %s envelope from %s/%s", env.Type, id, h.Mode())
	}
}

// applyEdit folds a surface edit into the store and propagates it to the
// document's other live surfaces. Edits from a surface the registry no
// longer tracks are stale and dropped.
func (c *Coordinator) applyEdit(sender *surface.Handle, content string) {
	id := sender.DocumentID()

	var applied bool
	c.locks.withLock(id, func() {
		// Validated under the lock: an edit queued behind an in-flight mode
		// switch must not land after the switch has retired its sender.
		if current, ok := c.registry.Lookup(id, sender.Mode()); !ok || current != sender {
			c.logf("dropping edit from stale surface %s/%s", id, sender.Mode())
			return
		}
		if err := c.store.UpdateContent(id, content); err != nil {
			c.logf("apply edit for %s: %v", id, err)
			return
		}
		c.pushContent(id, content, sender)
		applied = true
	})

	if applied && c.cfg.Options().AutoSaveEnabled {
		c.saver.Schedule(id, c.cfg.Options().AutoSaveDelay())
	}
}

// pushContent sends the content to every live surface of the document,
// skipping the originating one.
func (c *Coordinator) pushContent(id document.Identity, content string, skip *surface.Handle) {
	env := surface.MustEnvelope(surface.TypeContentChanged, surface.ContentChangedPayload{Content: content})
	for _, h := range c.registry.HandlesFor(id) {
		if h == skip || !h.IsReady() {
			continue
		}
		c.registry.Send(h, env)
	}
}

// saveLocked runs the save flow under the document's lock.
func (c *Coordinator) saveLocked(id document.Identity) error {
	err := c.store.Save(id)
	if !errors.Is(err, document.ErrWriteConflict) {
		return err
	}

	diskContent, diskModTime, rerr := c.store.ReadDisk(id)
	if rerr != nil {
		return err
	}
	conflict := document.Conflict{Identity: id, DiskContent: diskContent, DiskModTime: diskModTime}

	res, resolved := c.decide(conflict)
	if !resolved {
		return err
	}
	if rerr := c.store.Resolve(id, res, conflict); rerr != nil {
		return rerr
	}
	if res == document.ResolveKeepMine {
		return c.store.Save(id)
	}
	return nil
}

// onConflict handles conflicts surfaced by ApplyExternalChange. It runs
// under the document's lock, which the external loop already holds.
func (c *Coordinator) onConflict(conflict document.Conflict) {
	c.bus.Publish(event.TopicConflict, event.ConflictDetected{Identity: conflict.Identity})

	res, resolved := c.decide(conflict)
	if !resolved {
		c.mu.Lock()
		c.pending[conflict.Identity] = conflict
		c.mu.Unlock()
		return
	}
	if err := c.store.Resolve(conflict.Identity, res, conflict); err != nil {
		c.logf("resolve conflict for %s: %v", conflict.Identity, err)
	}
}

// decide consults the installed resolver.
func (c *Coordinator) decide(conflict document.Conflict) (document.Resolution, bool) {
	c.mu.Lock()
	r := c.resolver
	c.mu.Unlock()
	if r == nil {
		return 0, false
	}
	return r(conflict), true
}

// switchLocked runs the mode-switch transaction under the document's lock.
func (c *Coordinator) switchLocked(ctx context.Context, id document.Identity, target view.Mode) error {
	doc, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("switch %s: %w", id, document.ErrNotOpen)
	}

	cur, err := c.tracker.Mode(id)
	if err != nil {
		return err
	}
	if cur == target {
		return nil
	}

	outgoing := c.captureView(id, cur, doc)
	doc.SetView(outgoing)

	preserved, err := c.tracker.BeginSwitch(id, target, outgoing)
	if err != nil {
		return err
	}

	if err := c.realizeLocked(ctx, id, doc, cur, target, preserved); err != nil {
		if rerr := c.tracker.RollbackSwitch(id); rerr != nil {
			c.logf("rollback switch for %s: %v", id, rerr)
		}
		return fmt.Errorf("switch %s to %s: %w", id, target, err)
	}

	return c.tracker.CommitSwitch(id)
}

// realizeLocked brings up the surfaces for target and retires the previous
// mode's once every target surface has acknowledged. On failure the newly
// acquired surfaces are released so a retry starts from fresh instances; the
// previous mode's surfaces are untouched.
func (c *Coordinator) realizeLocked(ctx context.Context, id document.Identity, doc *document.Document, prev, target view.Mode, preserved document.ViewState) error {
	keep := make(map[view.Mode]bool)
	for _, m := range modesFor(prev) {
		keep[m] = true
	}
	abort := func(handles []*surface.Handle) {
		for _, h := range handles {
			if !keep[h.Mode()] {
				if rerr := c.registry.Release(h); rerr != nil {
					c.logf("release %s/%s after aborted switch: %v", id, h.Mode(), rerr)
				}
			}
		}
	}

	targetModes := modesFor(target)
	handles := make([]*surface.Handle, 0, len(targetModes))
	for _, m := range targetModes {
		h, aerr := c.registry.Acquire(id, m)
		if aerr != nil {
			abort(handles)
			return aerr
		}
		handles = append(handles, h)
	}

	// Every target surface must acknowledge the switch before it becomes
	// fact; an unresponsive surface aborts the whole transition.
	req := surface.MustEnvelope(surface.TypeModeSwitch, surface.ModeSwitchPayload{
		Mode:          target,
		PreservedView: preserved,
	})
	for _, h := range handles {
		if _, rerr := c.registry.Request(ctx, h, req); rerr != nil {
			abort(handles)
			return rerr
		}
	}

	content := surface.MustEnvelope(surface.TypeContentChanged, surface.ContentChangedPayload{
		Content: doc.Content(),
	})
	for _, h := range handles {
		c.registry.Send(h, content)
	}

	c.registry.Activate(id, targetModes...)

	// The outgoing surfaces are no longer reachable from any mode; their
	// view state lives on in the tracker for the return trip.
	want := make(map[view.Mode]bool, len(targetModes))
	for _, m := range targetModes {
		want[m] = true
	}
	for _, h := range c.registry.HandlesFor(id) {
		if !want[h.Mode()] {
			if rerr := c.registry.Release(h); rerr != nil {
				c.logf("release %s/%s after switch: %v", id, h.Mode(), rerr)
			}
		}
	}
	return nil
}

// captureView snapshots the live view of the current mode, preferring the
// editable pane when the mode is split. Falls back to the document's last
// recorded view when no surface can report one.
func (c *Coordinator) captureView(id document.Identity, cur view.Mode, doc *document.Document) document.ViewState {
	modes := modesFor(cur)
	for _, m := range modes {
		h, ok := c.registry.Lookup(id, m)
		if !ok {
			continue
		}
		if v, ok := c.registry.CaptureView(h); ok {
			return v
		}
	}
	return doc.View()
}

// autoSave is the auto-save timer's callback.
func (c *Coordinator) autoSave(id document.Identity) {
	if _, ok := c.store.Get(id); !ok {
		return
	}
	if err := c.Save(id); err != nil {
		c.logf("auto-save %s: %v", id, err)
	}
}

// onConfigChange reacts to option updates and forwards them to surfaces.
func (c *Coordinator) onConfigChange(change config.Change) {
	switch change.Key {
	case config.KeyAutoSaveEnabled:
		if enabled, ok := change.NewValue.(bool); ok && !enabled {
			c.saver.CancelAll()
		}

	case config.KeyDefaultMode:
		if s, ok := change.NewValue.(string); ok {
			if def, err := view.ParseMode(s); err == nil {
				c.applyDefaultMode(def)
			}
		}
	}

	c.registry.Broadcast(surface.MustEnvelope(surface.TypeConfigUpdate, surface.ConfigUpdatePayload{
		Options: map[string]any{change.Key: change.NewValue},
	}))
}

// applyDefaultMode re-homes every open document still following the
// configured default. Documents whose mode the user picked explicitly keep
// it.
func (c *Coordinator) applyDefaultMode(def view.Mode) {
	for _, doc := range c.store.OpenDocuments() {
		id := doc.Identity()
		c.locks.withLock(id, func() {
			prev, err := c.tracker.Mode(id)
			if err != nil {
				return
			}
			changed, err := c.tracker.DefaultTo(id, def)
			if err != nil || !changed {
				return
			}
			target, err := c.tracker.Mode(id)
			if err != nil {
				return
			}

			outgoing := c.captureView(id, prev, doc)
			doc.SetView(outgoing)
			preserved, _ := c.tracker.PreservedView(id, target)

			if err := c.realizeLocked(context.Background(), id, doc, prev, target, preserved); err != nil {
				// The document stays in its previous mode; the default was
				// never user-chosen, so DefaultTo can restore it.
				if _, rerr := c.tracker.DefaultTo(id, prev); rerr != nil {
					c.logf("restore mode for %s: %v", id, rerr)
				}
				c.logf("apply default mode %s to %s: %v", def, id, err)
				return
			}

			c.bus.Publish(event.TopicModeChanged, event.ModeChanged{
				Identity:     id,
				PreviousMode: prev,
				CurrentMode:  target,
				Timestamp:    time.Now(),
			})
		})
	}
}

// modesFor expands a presentation mode into the surface modes that realize
// it. Split is composed from a rich-edit and a rendered surface.
func modesFor(m view.Mode) []view.Mode {
	if m == view.ModeSplit {
		return []view.Mode{view.ModeRichEdit, view.ModeRendered}
	}
	return []view.Mode{m}
}
