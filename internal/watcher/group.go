package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/logging"
)

// Rule binds a glob to the tasks it re-runs and the reload it requests.
type Rule struct {
	// Pattern is a doublestar glob, relative to the group root.
	Pattern string

	// Tasks are run when a matching file changes.
	Tasks []string

	// Reload is the live-reload scope requested after the tasks
	// succeed: "", "full" or "styles".
	Reload string
}

// String returns the rule's pattern.
func (r Rule) String() string {
	return r.Pattern
}

// RuleFunc handles a change matched by rule.
type RuleFunc func(ctx context.Context, rule Rule, path string)

// matcher is a compiled rule.
type matcher struct {
	rule      Rule
	base      string // absolute directory to watch
	glob      string // pattern relative to base, slash separated
	recursive bool
	trigger   *Trigger
}

func (m *matcher) match(path string) bool {
	rel, err := filepath.Rel(m.base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, _ := doublestar.PathMatch(filepath.FromSlash(m.glob), rel)
	return ok
}

// Group watches the bases of several rules with one debounced watcher and
// dispatches matching events to a per-rule Trigger.
type Group struct {
	config Config
	logger *logging.Logger
	fn     RuleFunc

	matchers []*matcher

	mu      sync.Mutex
	watcher Watcher
	done    chan struct{}
}

// NewGroup compiles rules. Invalid patterns are config faults.
func NewGroup(rules []Rule, fn RuleFunc, opts ...WatcherOption) (*Group, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	root := config.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	config.Root = root

	g := &Group{
		config: config,
		logger: logging.OrNull(config.Logger).WithComponent("watch"),
		fn:     fn,
	}

	for _, rule := range rules {
		m, err := compileRule(root, rule)
		if err != nil {
			return nil, err
		}
		rule := m.rule
		m.trigger = NewTrigger(func(ctx context.Context, path string) {
			g.fn(ctx, rule, path)
		})
		g.matchers = append(g.matchers, m)
	}
	return g, nil
}

func compileRule(root string, rule Rule) (*matcher, error) {
	pattern := filepath.ToSlash(rule.Pattern)
	if pattern == "" {
		return nil, fault.Config("", "watch rule has an empty pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fault.Config(rule.Pattern, "invalid watch pattern: %v", doublestar.ErrBadPattern)
	}

	base, glob := doublestar.SplitPattern(pattern)
	recursive := true
	if !hasMeta(pattern) {
		// A literal file: watch its directory only.
		base, glob = filepath.ToSlash(filepath.Dir(pattern)), filepath.Base(pattern)
		recursive = false
	}

	abs := filepath.FromSlash(base)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	return &matcher{
		rule:      rule,
		base:      filepath.Clean(abs),
		glob:      glob,
		recursive: recursive,
	}, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[{\`)
}

// Rules returns the compiled rules in order.
func (g *Group) Rules() []Rule {
	out := make([]Rule, len(g.matchers))
	for i, m := range g.matchers {
		out[i] = m.rule
	}
	return out
}

// Start watches every rule's base and begins dispatching in the
// background. It returns an error if a base cannot be watched.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.watcher != nil {
		return errors.New("watch group already started")
	}

	inner, err := NewFSNotifyWatcher(
		WithRoot(g.config.Root),
		WithIgnorePatterns(g.config.IgnorePatterns),
		WithIgnoreHidden(g.config.IgnoreHidden),
		WithBufferSize(g.config.BufferSize),
		WithLogger(g.config.Logger),
	)
	if err != nil {
		return err
	}
	w := NewDebouncedWatcher(inner, g.config.DebounceDelay)

	for _, m := range g.matchers {
		var werr error
		if m.recursive {
			werr = w.WatchRecursive(m.base)
		} else {
			werr = w.Watch(m.base)
		}
		if werr != nil && werr != ErrAlreadyWatching {
			_ = w.Close()
			if errors.Is(werr, ErrPathNotExist) || os.IsNotExist(werr) {
				return fault.Config(m.base, "cannot watch %s: %v", m.rule.Pattern, werr)
			}
			return fmt.Errorf("watch %s: %w", m.rule.Pattern, werr)
		}
		g.logger.Debug("watching %s (%s)", m.rule.Pattern, m.base)
	}

	g.watcher = w
	g.done = make(chan struct{})
	go g.dispatch(ctx, w, g.done)

	if g.config.OnReady != nil {
		g.config.OnReady()
	}
	return nil
}

func (g *Group) dispatch(ctx context.Context, w Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			for _, m := range g.matchers {
				m.trigger.Wait()
			}
			return

		case event, ok := <-w.Events():
			if !ok {
				return
			}
			if !event.Op.Content() {
				continue
			}
			for _, m := range g.matchers {
				if m.match(event.Path) {
					g.logger.Debug("%s %s matched %s", event.Op, event.Path, m.rule.Pattern)
					m.trigger.Fire(ctx, event.Path)
				}
			}

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			g.logger.Warn("watch error: %v", err)
		}
	}
}

// Wait blocks until the group has stopped and in-flight runs finished.
func (g *Group) Wait() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Run starts the group and blocks until ctx is cancelled.
func (g *Group) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	g.Wait()
	return nil
}

// Watch calls onChange whenever a file matching pattern changes, until
// ctx is cancelled. Bursts within the debounce window produce one call,
// and calls never overlap.
func Watch(ctx context.Context, pattern string, onChange ChangeFunc, opts ...WatcherOption) error {
	g, err := NewGroup([]Rule{{Pattern: pattern}}, func(ctx context.Context, _ Rule, path string) {
		onChange(ctx, path)
	}, opts...)
	if err != nil {
		return err
	}
	return g.Run(ctx)
}
