// Package watcher watches a repository with fsnotify and coalesces bursts of changes into a single
// debounced trigger.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Trigger is called after a quiet period with the repo-relative paths changed since the previous
// call, sorted. Calls never overlap; changes seen during a call produce one more call after it.
type Trigger func(ctx context.Context, changed []string)

// Watcher watches one repository root recursively.
type Watcher struct {
	root     string
	ignore   func(rel string) bool
	onChange Trigger
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]bool
	timer    *time.Timer
	running  bool
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, triggers).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a trigger. Non-positive keeps the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore skips events for repo-relative paths (slash-separated) for which ignore returns true.
// Ignored directories are not watched.
func WithIgnore(ignore func(rel string) bool) WatcherOption {
	return func(w *Watcher) { w.ignore = ignore }
}

// NewWatcher creates a watcher over root that calls onChange.
func NewWatcher(root string, onChange Trigger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		onChange: onChange,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		ignore:   func(string) bool { return false },
		pending:  map[string]bool{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches root and every non-ignored directory below it. It runs until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "watch", Path: w.root, Err: fs.ErrInvalid}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTree(w.root); err != nil {
		_ = fw.Close()
		w.watcher = nil
		return err
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.started = true
	w.logger.Debug("watcher starting", zap.String("root", w.root), zap.Duration("debounce", w.debounce))
	go w.run(w.ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, ok := w.relative(ev.Name)
	if !ok || w.ignore(rel) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", rel))
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.handleNewDirectory(ev.Name)
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.pending[rel] = true
	w.scheduleLocked()
}

// handleNewDirectory watches a directory created or moved in after Start. Files already inside it
// are reported as changed, since their create events happened before the watch existed.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if err := w.addTree(dir); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && !w.ignore(rel) {
			w.pending[rel] = true
		}
		return nil
	})
}

// addTree watches dir and its non-ignored subdirectories. Caller holds mu.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && rel != "." && w.ignore(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		w.logger.Debug("watcher added directory", zap.String("path", p))
		return nil
	})
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// scheduleLocked restarts the quiet-period timer. While a trigger runs, the timer is left for
// fire to re-arm.
func (w *Watcher) scheduleLocked() {
	if w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if !w.started || w.running || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	sort.Strings(changed)
	w.pending = map[string]bool{}
	w.running = true
	ctx := w.ctx
	w.inflight.Add(1)
	w.mu.Unlock()

	w.logger.Debug("watcher triggering", zap.Int("changed", len(changed)))
	if w.onChange != nil {
		w.onChange(ctx, changed)
	}
	w.inflight.Done()

	w.mu.Lock()
	w.running = false
	if w.started && len(w.pending) > 0 {
		w.scheduleLocked()
	}
	w.mu.Unlock()
}

// Stop stops watching, cancels a running trigger's context and waits for it to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel()
	_ = w.watcher.Close()
	w.watcher = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
