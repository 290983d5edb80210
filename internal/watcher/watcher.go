// Package watcher reports edits to the configuration file. Configuration is
// never reloaded; the callback exists so the owner can be told a restart is
// needed.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceInterval = 500 * time.Millisecond

// ChangeCallback is called once per burst of changes to the watched file.
type ChangeCallback func(path string)

// Watcher monitors a single file through its parent directory, so that
// editors which save by rename are still seen.
type Watcher struct {
	path      string
	callback  ChangeCallback
	debounce  time.Duration
	log       *zap.SugaredLogger
	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	cancel  chan struct{}
	stopped bool
	done    chan struct{}
}

// New starts watching path. The callback runs on a timer goroutine.
func New(path string, callback ChangeCallback, log *zap.SugaredLogger) (*Watcher, error) {
	return newWatcher(path, callback, debounceInterval, log)
}

func newWatcher(path string, callback ChangeCallback, debounce time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:      abs,
		callback:  callback,
		debounce:  debounce,
		log:       log,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Path is the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.cancel:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.log.Debugw("config file event", "op", event.Op.String())
			w.schedule()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("config watcher error", "error", err)
		}
	}
}

// schedule resets the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()

	if stopped || w.callback == nil {
		return
	}
	w.log.Infow("config file changed", "path", w.path)
	w.callback(w.path)
}

// Shutdown stops the watcher. Pending callbacks are dropped.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.cancel)
	w.fsWatcher.Close()
	<-w.done
}
