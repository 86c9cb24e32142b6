// Package watch re-runs work when files under a set of directories change.
//
// A Watcher follows directory trees with fsnotify, skipping ignored names,
// and collapses bursts of events with a Debouncer:
//
//	w, err := watch.New(watch.WithDebounce(300*time.Millisecond))
//	if err != nil { ... }
//	defer w.Close()
//	_ = w.AddRecursive(".")
//	err = w.Run(ctx, func(changed []string) { ... })
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/gantry/internal/logging"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

// DefaultIgnore lists names skipped in every watched tree.
var DefaultIgnore = []string{".git", "node_modules"}

// Errors returned by the watcher.
var (
	ErrClosed       = errors.New("watcher is closed")
	ErrPathNotExist = errors.New("path does not exist")
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore adds glob patterns matched against the base name of each path.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, patterns...)
	}
}

// WithLogger sets the logger for watch diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// Watcher reports changed paths in debounced batches.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	log      *logging.Logger

	mu      sync.Mutex
	dirs    map[string]bool
	changed map[string]bool
	closed  bool
}

// New creates a watcher. It watches nothing until Add or AddRecursive.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: DefaultDebounce,
		ignore:   slices.Clone(DefaultIgnore),
		log:      logging.Discard(),
		dirs:     make(map[string]bool),
		changed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("watch")
	return w, nil
}

// Add watches a single directory, or the directory containing a file.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrPathNotExist, path)
		}
		return err
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	return w.add(abs)
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

// AddRecursive watches a directory and every subdirectory that is not
// ignored. Directories created later are picked up as they appear.
func (w *Watcher) AddRecursive(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrPathNotExist, root)
		}
		return err
	}
	if !info.IsDir() {
		return w.Add(abs)
	}

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && w.ignored(p) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

// Dirs returns the watched directories in sorted order.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		dirs = append(dirs, d)
	}
	slices.Sort(dirs)
	return dirs
}

// Run delivers change batches to fn until ctx ends or the watcher is
// closed. fn receives the changed paths in sorted order and is never
// called concurrently with itself. Run returns only after an fn call in
// progress has returned.
func (w *Watcher) Run(ctx context.Context, fn func(changed []string)) error {
	deb := NewDebouncer(w.debounce, func() {
		if batch := w.takeChanged(); len(batch) > 0 {
			fn(batch)
		}
	})
	defer deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return ErrClosed
			}
			if w.handle(ev) {
				deb.Call()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrClosed
			}
			w.log.Warn("%v", err)
		}
	}
}

// handle records ev and reports whether it counts as a change.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod || w.ignored(ev.Name) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.AddRecursive(ev.Name); err != nil {
				w.log.Warn("%v", err)
			}
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.dirs, ev.Name)
		w.mu.Unlock()
	}

	w.log.Debug("%s %s", ev.Op, ev.Name)
	w.mu.Lock()
	w.changed[ev.Name] = true
	w.mu.Unlock()
	return true
}

func (w *Watcher) takeChanged() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := make([]string, 0, len(w.changed))
	for p := range w.changed {
		batch = append(batch, p)
	}
	clear(w.changed)
	slices.Sort(batch)
	return batch
}

// ignored reports whether the base name of path matches an ignore pattern.
// Ignored directories are never watched, so their contents never report.
func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Close stops watching. Run returns once Close is called.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.fsw.Close()
}
