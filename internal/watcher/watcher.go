// Package watcher observes source trees and re-runs work when matching
// files change.
//
// FSNotifyWatcher reports raw file system events for recursively watched
// directories. DebouncedWatcher coalesces bursts per path. Group binds
// glob rules to callbacks on top of both, guaranteeing that a callback
// never runs concurrently with itself and that at most one re-run is
// queued while it is busy.
package watcher

import (
	"errors"
	"time"

	"github.com/dshills/assetstorm/internal/logging"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 100 * time.Millisecond

// Errors from Watch and WatchRecursive.
var (
	ErrWatcherClosed   = errors.New("watcher closed")
	ErrAlreadyWatching = errors.New("already watching")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Op is a set of file system operations.
type Op uint32

// Operations reported by watchers.
const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

var opNames = map[Op]string{
	OpCreate: "CREATE",
	OpWrite:  "WRITE",
	OpRemove: "REMOVE",
	OpRename: "RENAME",
	OpChmod:  "CHMOD",
}

// String names a single operation. Combined sets are "UNKNOWN".
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// Has reports whether op includes o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Content reports whether the op may have changed a file's contents.
// Chmod on its own does not.
func (op Op) Content() bool {
	return op&^OpChmod != 0
}

// Event is one change to a path.
type Event struct {
	// Path is absolute.
	Path string

	// Op may hold several operations once debounced.
	Op Op

	Timestamp time.Time
}

// Watcher reports changes below watched paths.
type Watcher interface {
	// Watch watches a file or a single directory.
	Watch(path string) error

	// WatchRecursive watches a directory tree, skipping ignored
	// directories.
	WatchRecursive(path string) error

	// Events and Errors are closed by Close.
	Events() <-chan Event
	Errors() <-chan error

	Close() error
}

// Config is shared by FSNotifyWatcher and Group. Root anchors relative
// patterns and ignores and defaults to the working directory.
type Config struct {
	Root           string
	DebounceDelay  time.Duration
	BufferSize     int
	IgnorePatterns []string
	IgnoreHidden   bool
	Logger         *logging.Logger

	// OnReady fires once every rule's base directory is watched.
	OnReady func()
}

const defaultBufferSize = 256

func DefaultConfig() Config {
	return Config{DebounceDelay: DefaultDebounce, BufferSize: defaultBufferSize}
}

// WatcherOption adjusts a Config.
type WatcherOption func(*Config)

func WithDebounceDelay(d time.Duration) WatcherOption { return func(c *Config) { c.DebounceDelay = d } }

func WithBufferSize(n int) WatcherOption { return func(c *Config) { c.BufferSize = n } }

func WithRoot(dir string) WatcherOption { return func(c *Config) { c.Root = dir } }

// WithIgnorePatterns adds gitignore-style rules on top of DefaultIgnores.
func WithIgnorePatterns(p []string) WatcherOption { return func(c *Config) { c.IgnorePatterns = p } }

// WithIgnoreHidden skips dot files and directories.
func WithIgnoreHidden(on bool) WatcherOption { return func(c *Config) { c.IgnoreHidden = on } }

func WithLogger(l *logging.Logger) WatcherOption { return func(c *Config) { c.Logger = l } }

func WithOnReady(fn func()) WatcherOption { return func(c *Config) { c.OnReady = fn } }
