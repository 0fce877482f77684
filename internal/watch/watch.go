// Package watch reports debounced file changes under a set of roots using
// OS-native notifications.
package watch

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op indicates a change operation in the filesystem.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) String() string {
	var parts []string
	for _, n := range []struct {
		op   Op
		name string
	}{
		{OpCreate, "create"},
		{OpWrite, "write"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{OpChmod, "chmod"},
	} {
		if op&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event describes a filesystem change. Op accumulates every operation seen
// for Path within one debounce window.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Removed reports whether the file is gone.
func (e Event) Removed() bool {
	return e.Op&(OpRemove|OpRename) != 0
}

func opFrom(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= OpCreate
	}
	if op.Has(fsnotify.Write) {
		out |= OpWrite
	}
	if op.Has(fsnotify.Remove) {
		out |= OpRemove
	}
	if op.Has(fsnotify.Rename) {
		out |= OpRename
	}
	if op.Has(fsnotify.Chmod) {
		out |= OpChmod
	}
	return out
}

// Config configures a Watcher.
type Config struct {
	// Roots are directories watched recursively, or single files.
	Roots []string

	// Match selects the files whose changes are reported. Nil matches all.
	Match func(path string) bool

	// Debounce is how long changes are collected before a batch is sent.
	Debounce time.Duration

	Logger *slog.Logger
}

// Watcher batches file changes under its roots.
type Watcher struct {
	config  Config
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	batches chan []Event

	mu      sync.Mutex
	pending map[string]Event
}

// New creates a watcher and registers its roots. Hidden directories are
// skipped.
func New(config Config) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		config:  config,
		fsw:     fsw,
		logger:  logger,
		batches: make(chan []Event, 16),
		pending: make(map[string]Event),
	}

	for _, root := range config.Roots {
		if err := w.addRoot(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Batches returns the channel of debounced batches. It is closed when Run
// returns.
func (w *Watcher) Batches() <-chan []Event {
	return w.batches
}

func (w *Watcher) addRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsw.Add(filepath.Dir(root))
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
			return nil
		}
		w.logger.Debug("watching directory", "path", path)
		return nil
	})
}

// Run processes notifications until ctx is done or the watcher fails. It
// closes the batch channel and the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.batches)
	defer w.fsw.Close()

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)

		case <-ticker.C:
			if batch := w.flush(); len(batch) > 0 {
				select {
				case w.batches <- batch:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				if err := w.fsw.Add(ev.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}
	}
	w.record(ev.Name, opFrom(ev.Op), time.Now())
}

func (w *Watcher) record(path string, op Op, at time.Time) {
	if w.config.Match != nil && !w.config.Match(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.pending[path]
	e.Path = path
	e.Op |= op
	e.Time = at
	w.pending[path] = e

	w.logger.Debug("change detected", "path", path, "op", op.String())
}

// flush drains the pending changes in path order.
func (w *Watcher) flush() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}

	batch := make([]Event, 0, len(w.pending))
	for _, e := range w.pending {
		batch = append(batch, e)
	}
	clear(w.pending)

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}
