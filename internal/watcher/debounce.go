package watcher

import (
	"sync"
	"time"

	"github.com/dshills/assetstorm/internal/debounce"
)

// DebouncedWatcher coalesces the events of an inner Watcher per path. A
// path's ops are merged until it has been quiet for the delay, then one
// event is emitted for it.
type DebouncedWatcher struct {
	inner Watcher
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*debounce.Accumulator[Event]
	closed  bool

	events chan Event
	errors chan error
	stop   chan struct{}
	loop   sync.WaitGroup
}

// NewDebouncedWatcher wraps inner. A non-positive delay uses
// DefaultDebounce.
func NewDebouncedWatcher(inner Watcher, delay time.Duration) *DebouncedWatcher {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	dw := &DebouncedWatcher{
		inner:   inner,
		delay:   delay,
		pending: make(map[string]*debounce.Accumulator[Event]),
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		stop:    make(chan struct{}),
	}
	dw.loop.Add(1)
	go dw.forward()
	return dw
}

// Watch implements Watcher.
func (dw *DebouncedWatcher) Watch(path string) error { return dw.inner.Watch(path) }

// WatchRecursive implements Watcher.
func (dw *DebouncedWatcher) WatchRecursive(path string) error { return dw.inner.WatchRecursive(path) }

// Events implements Watcher.
func (dw *DebouncedWatcher) Events() <-chan Event { return dw.events }

// Errors implements Watcher.
func (dw *DebouncedWatcher) Errors() <-chan error { return dw.errors }

// Delay returns the quiet period.
func (dw *DebouncedWatcher) Delay() time.Duration { return dw.delay }

// PendingCount returns the number of paths waiting to go quiet.
func (dw *DebouncedWatcher) PendingCount() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return len(dw.pending)
}

// Flush emits every pending path now.
func (dw *DebouncedWatcher) Flush() {
	dw.mu.Lock()
	accs := make([]*debounce.Accumulator[Event], 0, len(dw.pending))
	for _, acc := range dw.pending {
		accs = append(accs, acc)
	}
	dw.mu.Unlock()

	for _, acc := range accs {
		acc.Flush()
	}
}

// Close stops the inner watcher and drops pending events.
func (dw *DebouncedWatcher) Close() error {
	dw.mu.Lock()
	if dw.closed {
		dw.mu.Unlock()
		return nil
	}
	dw.closed = true
	for path, acc := range dw.pending {
		acc.Cancel()
		delete(dw.pending, path)
	}
	close(dw.stop)
	dw.mu.Unlock()

	err := dw.inner.Close()
	dw.loop.Wait()

	dw.mu.Lock()
	close(dw.events)
	close(dw.errors)
	dw.mu.Unlock()
	return err
}

func (dw *DebouncedWatcher) forward() {
	defer dw.loop.Done()
	for {
		select {
		case <-dw.stop:
			return
		case ev, ok := <-dw.inner.Events():
			if !ok {
				return
			}
			dw.add(ev)
		case err, ok := <-dw.inner.Errors():
			if !ok {
				return
			}
			select {
			case dw.errors <- err:
			default:
			}
		}
	}
}

func (dw *DebouncedWatcher) add(ev Event) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed {
		return
	}
	acc, ok := dw.pending[ev.Path]
	if !ok {
		path := ev.Path
		var a *debounce.Accumulator[Event]
		a = debounce.NewAccumulator(dw.delay, mergeEvents, func(e Event) { dw.emit(path, a, e) })
		dw.pending[path] = a
		acc = a
	}
	acc.Add(ev)
}

func mergeEvents(acc, next Event) Event {
	acc.Op |= next.Op
	acc.Timestamp = next.Timestamp
	return acc
}

func (dw *DebouncedWatcher) emit(path string, acc *debounce.Accumulator[Event], ev Event) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed {
		return
	}
	if dw.pending[path] == acc {
		delete(dw.pending, path)
	}
	select {
	case dw.events <- ev:
	default:
	}
}

var _ Watcher = (*DebouncedWatcher)(nil)
