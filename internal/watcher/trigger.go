package watcher

import (
	"context"
	"sync"
)

// ChangeFunc handles a change to path.
type ChangeFunc func(ctx context.Context, path string)

// Trigger serializes runs of a ChangeFunc. Fire never blocks: if a run is
// in flight, one follow-up run is queued and any further Fire calls fold
// into it. In-flight runs are never cancelled by new events.
type Trigger struct {
	fn ChangeFunc

	mu          sync.Mutex
	running     bool
	pending     bool
	pendingPath string
	wg          sync.WaitGroup
}

// NewTrigger creates a trigger for fn.
func NewTrigger(fn ChangeFunc) *Trigger {
	return &Trigger{fn: fn}
}

// Fire requests a run for path.
func (t *Trigger) Fire(ctx context.Context, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.pending = true
		t.pendingPath = path
		return
	}
	t.running = true
	t.wg.Add(1)
	go t.loop(ctx, path)
}

func (t *Trigger) loop(ctx context.Context, path string) {
	defer t.wg.Done()

	for {
		t.fn(ctx, path)

		t.mu.Lock()
		if !t.pending || ctx.Err() != nil {
			t.running = false
			t.pending = false
			t.mu.Unlock()
			return
		}
		path = t.pendingPath
		t.pending = false
		t.mu.Unlock()
	}
}

// Busy reports whether a run is in flight.
func (t *Trigger) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Wait blocks until no run is in flight.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
