package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/assetstorm/internal/logging"
)

// FSNotifyWatcher reports file system events through fsnotify. fsnotify
// watches single directories, so recursive watching adds every directory
// of the tree and follows directories created later.
type FSNotifyWatcher struct {
	fsw    *fsnotify.Watcher
	root   string
	hidden bool
	ignore *IgnorePatterns
	log    *logging.Logger

	mu     sync.Mutex
	dirs   map[string]bool
	trees  []string
	closed bool

	events chan Event
	errors chan error
	done   chan struct{}
}

// NewFSNotifyWatcher creates a watcher. DefaultIgnores are always applied
// in addition to the configured patterns.
func NewFSNotifyWatcher(opts ...WatcherOption) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	root, err := filepath.Abs(cmpOr(config.Root, "."))
	if err != nil {
		return nil, err
	}
	ignore := NewIgnorePatterns(DefaultIgnores...)
	if err := ignore.AddPatterns(config.IgnorePatterns); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	size := config.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	w := &FSNotifyWatcher{
		fsw:    fsw,
		root:   root,
		hidden: config.IgnoreHidden,
		ignore: ignore,
		log:    logging.OrNull(config.Logger).WithComponent("fsnotify"),
		dirs:   make(map[string]bool),
		events: make(chan Event, size),
		errors: make(chan error, size),
		done:   make(chan struct{}),
	}
	go w.read()
	return w, nil
}

func cmpOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Watch watches one file or directory.
func (w *FSNotifyWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return ErrWatcherClosed
	case w.dirs[abs]:
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.dirs[abs] = true
	return nil
}

// WatchRecursive watches dir and every directory below it that is not
// ignored.
func (w *FSNotifyWatcher) WatchRecursive(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrPathNotExist
	case err != nil:
		return err
	case !info.IsDir():
		return w.Watch(abs)
	}

	w.mu.Lock()
	w.trees = append(w.trees, abs)
	w.mu.Unlock()
	return w.addTree(abs)
}

func (w *FSNotifyWatcher) addTree(top string) error {
	return filepath.WalkDir(top, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != top && w.skip(p, true) {
			return filepath.SkipDir
		}
		if err := w.Watch(p); err != nil && !errors.Is(err, ErrAlreadyWatching) {
			w.log.Warn("cannot watch %s: %v", p, err)
		}
		return nil
	})
}

// Events implements Watcher.
func (w *FSNotifyWatcher) Events() <-chan Event { return w.events }

// Errors implements Watcher.
func (w *FSNotifyWatcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and closes its channels.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

// read translates fsnotify events until fsnotify closes its channels.
func (w *FSNotifyWatcher) read() {
	defer func() {
		close(w.events)
		close(w.errors)
		close(w.done)
	}()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.translate(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *FSNotifyWatcher) translate(ev fsnotify.Event) {
	op := opFrom(ev.Op)
	if op == 0 {
		return
	}
	info, err := os.Stat(ev.Name)
	isDir := err == nil && info.IsDir()
	if w.skip(ev.Name, isDir) {
		return
	}

	if isDir && op.Has(OpCreate) && w.inTree(ev.Name) {
		if err := w.addTree(ev.Name); err != nil {
			w.log.Warn("cannot watch new directory %s: %v", ev.Name, err)
		}
	}
	if op.Has(OpRemove) || op.Has(OpRename) {
		w.mu.Lock()
		delete(w.dirs, ev.Name)
		w.mu.Unlock()
	}

	select {
	case w.events <- Event{Path: ev.Name, Op: op, Timestamp: time.Now()}:
	default:
		w.log.Warn("event buffer full, dropped %s %s", op, ev.Name)
	}
}

func (w *FSNotifyWatcher) inTree(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, top := range w.trees {
		if strings.HasPrefix(path, top+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *FSNotifyWatcher) skip(path string, isDir bool) bool {
	if base := filepath.Base(path); w.hidden && len(base) > 1 && base[0] == '.' {
		return true
	}
	return w.ignore.MatchRelative(path, w.root, isDir)
}

var fsOps = []struct {
	from fsnotify.Op
	to   Op
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpWrite},
	{fsnotify.Remove, OpRemove},
	{fsnotify.Rename, OpRename},
	{fsnotify.Chmod, OpChmod},
}

func opFrom(o fsnotify.Op) Op {
	var op Op
	for _, m := range fsOps {
		if o.Has(m.from) {
			op |= m.to
		}
	}
	return op
}

var _ Watcher = (*FSNotifyWatcher)(nil)
