package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reloads a store from its backing TOML file when the file
// changes on disk. Invalid intermediate states (editors write in bursts)
// are skipped; the store keeps its last valid options.
type FileWatcher struct {
	mu      sync.Mutex
	store   *Store
	path    string
	fsw     *fsnotify.Watcher
	delay   time.Duration
	timer   *time.Timer
	onError func(err error)
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// WatchFile starts watching path and feeding reloads into store.
func WatchFile(store *Store, path string, onError func(err error)) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if onError == nil {
		onError = func(error) {}
	}

	w := &FileWatcher{
		store:   store,
		path:    path,
		fsw:     fsw,
		delay:   200 * time.Millisecond,
		onError: onError,
		closeCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops the watcher. Idempotent.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *FileWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

// scheduleReload debounces reloads so a burst of writes produces one.
func (w *FileWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.delay)
		return
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *FileWatcher) reload() {
	w.mu.Lock()
	w.timer = nil
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	opts, err := Load(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	if err := w.store.Update(opts); err != nil {
		w.onError(err)
	}
}
