// Package preview serves the built site and pushes live-reload signals
// to connected browsers.
package preview

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/assetstorm/internal/debounce"
	"github.com/dshills/assetstorm/internal/logging"
)

// DefaultReloadDelay debounces bursts of reload requests.
const DefaultReloadDelay = 100 * time.Millisecond

// Scope selects what a browser reloads.
type Scope int

const (
	// ScopeNone requests no reload.
	ScopeNone Scope = iota
	// ScopeStyles swaps stylesheets in place.
	ScopeStyles
	// ScopeFull reloads the page.
	ScopeFull
)

// String returns the scope name used on the wire and in config.
func (s Scope) String() string {
	switch s {
	case ScopeStyles:
		return "styles"
	case ScopeFull:
		return "full"
	default:
		return "none"
	}
}

// ParseScope parses a scope name. The empty string is ScopeNone.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "none":
		return ScopeNone, nil
	case "styles", "css":
		return ScopeStyles, nil
	case "full", "page":
		return ScopeFull, nil
	}
	return ScopeNone, fmt.Errorf("unknown reload scope %q", s)
}

// Signal is one reload request.
type Signal struct {
	Scope Scope     `json:"-"`
	Name  string    `json:"scope"`
	Paths []string  `json:"paths,omitempty"`
	At    time.Time `json:"at"`
}

// merge escalates scopes and unions paths.
func merge(acc, next Signal) Signal {
	if next.Scope > acc.Scope {
		acc.Scope = next.Scope
	}
	seen := make(map[string]bool, len(acc.Paths)+len(next.Paths))
	var paths []string
	for _, p := range append(append([]string(nil), acc.Paths...), next.Paths...) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	acc.Paths = paths
	acc.At = next.At
	return acc
}

// Client is one connected browser.
type Client struct {
	ID string
	ch chan Signal
}

// C delivers signals. It holds at most one pending signal.
func (c *Client) C() <-chan Signal {
	return c.ch
}

// Notifier fans reload signals out to clients.
type Notifier struct {
	mu      sync.Mutex
	clients map[string]*Client

	delay  time.Duration
	logger *logging.Logger
	hook   func(Signal, int)
	acc    *debounce.Accumulator[Signal]
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithReloadDelay sets the debounce window. Zero delivers immediately.
func WithReloadDelay(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.delay = d
	}
}

// WithLogger sets the notifier's logger.
func WithLogger(l *logging.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = l
	}
}

// WithSignalHook is called after each broadcast with the signal and the
// number of clients it reached.
func WithSignalHook(fn func(sig Signal, clients int)) NotifierOption {
	return func(n *Notifier) {
		n.hook = fn
	}
}

// NewNotifier creates a Notifier.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{clients: make(map[string]*Client), delay: DefaultReloadDelay}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logging.OrNull(n.logger).WithComponent("reload")
	if n.delay > 0 {
		n.acc = debounce.NewAccumulator(n.delay, merge, n.broadcast)
	}
	return n
}

// Subscribe registers a client. The returned func unsubscribes it.
func (n *Notifier) Subscribe() (*Client, func()) {
	c := &Client{ID: uuid.NewString(), ch: make(chan Signal, 1)}

	n.mu.Lock()
	n.clients[c.ID] = c
	n.mu.Unlock()
	n.logger.Debug("client %s connected", c.ID)

	var once sync.Once
	return c, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.clients, c.ID)
			n.mu.Unlock()
			n.logger.Debug("client %s disconnected", c.ID)
		})
	}
}

// Clients returns the number of connected clients.
func (n *Notifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// NotifyReload requests a reload. It never blocks.
func (n *Notifier) NotifyReload(scope Scope, paths ...string) {
	if scope == ScopeNone {
		return
	}
	sig := Signal{Scope: scope, Paths: append([]string(nil), paths...), At: time.Now()}
	if n.acc == nil {
		n.broadcast(sig)
		return
	}
	n.acc.Add(sig)
}

// Flush delivers any debounced signal now.
func (n *Notifier) Flush() {
	if n.acc != nil {
		n.acc.Flush()
	}
}

// Close drops any pending signal.
func (n *Notifier) Close() {
	if n.acc != nil {
		n.acc.Cancel()
	}
}

func (n *Notifier) broadcast(sig Signal) {
	sig.Name = sig.Scope.String()

	n.mu.Lock()
	clients := make([]*Client, 0, len(n.clients))
	for _, c := range n.clients {
		clients = append(clients, c)
	}
	n.mu.Unlock()

	for _, c := range clients {
		deliver(c.ch, sig)
	}
	n.logger.Debug("%s reload sent to %d client(s)", sig.Name, len(clients))
	if n.hook != nil {
		n.hook(sig, len(clients))
	}
}

// deliver replaces a stale pending signal with sig, keeping the wider
// scope of the two.
func deliver(ch chan Signal, sig Signal) {
	for {
		select {
		case ch <- sig:
			return
		default:
		}
		select {
		case old := <-ch:
			sig = merge(old, sig)
			sig.Name = sig.Scope.String()
		default:
		}
	}
}
