// Package watch implements the Watcher interface spec.md §6 describes,
// backed by github.com/fsnotify/fsnotify, the canonical Go filesystem-event
// backend (an indirect dependency of mooyang-code-data-collector's stack,
// promoted here to a direct import since this component needs exactly this
// primitive).
package watch

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a single configuration file and emits Ready once, then
// Change on every modification after Ready, then Error on unrecoverable
// backend failures. It does not debounce; the supervisor owns debouncing
// (spec.md §4.3, §6).
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	ready  chan struct{}
	change chan struct{}
	errs   chan error
	closed chan struct{}
}

// New constructs a Watcher for path. The backend watches path's containing
// directory (so that editors which replace the file via rename-and-swap
// still produce events) and filters to path itself.
func New(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new backend: %w", err)
	}

	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", dir, err)
	}

	w := &Watcher{
		path:   abs,
		fsw:    fsw,
		ready:  make(chan struct{}),
		change: make(chan struct{}, 1),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	close(w.ready)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.change <- struct{}{}:
			default:
				// a change is already pending for the supervisor's debounce
				// window; it will observe this modification too.
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.closed:
			return
		}
	}
}

// Ready is closed exactly once, after the backend has begun watching.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Change fires on every filesystem modification to the watched path after
// Ready. It is not debounced.
func (w *Watcher) Change() <-chan struct{} { return w.change }

// Err fires on unrecoverable backend failures.
func (w *Watcher) Err() <-chan error { return w.errs }

// Close stops the watcher. Calls after the first return nil.
func (w *Watcher) Close() error {
	select {
	case <-w.closed:
		return nil
	default:
		close(w.closed)
	}
	return w.fsw.Close()
}
