// Package debounce groups bursts of calls into a single call after a quiet
// period.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs a callback once no Call has arrived for the delay.
//
// All methods are safe for concurrent use. The callback never runs
// concurrently with itself from the same Debouncer.
type Debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	pending  bool
	seq      uint64
	running  sync.Mutex
	callback func()
}

// New creates a debouncer with the given delay. A delay of zero runs the
// callback on the next timer tick.
func New(delay time.Duration, callback func()) *Debouncer {
	return &Debouncer{delay: delay, callback: callback}
}

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Call schedules the callback, restarting the quiet period.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if !d.pending || d.seq != seq || d.callback == nil {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.running.Lock()
	defer d.running.Unlock()
	d.callback()
}

// Flush runs the callback now if a call is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	if !d.pending || d.callback == nil {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.running.Lock()
	defer d.running.Unlock()
	d.callback()
}

// Cancel drops any pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Accumulator collects values during a burst and delivers the merged
// value once the burst goes quiet.
type Accumulator[T any] struct {
	mu      sync.Mutex
	value   T
	has     bool
	merge   func(acc, next T) T
	deliver func(T)
	d       *Debouncer
}

// NewAccumulator creates an accumulator. merge folds each new value into
// the pending one; deliver receives the folded value.
func NewAccumulator[T any](delay time.Duration, merge func(acc, next T) T, deliver func(T)) *Accumulator[T] {
	a := &Accumulator[T]{merge: merge, deliver: deliver}
	a.d = New(delay, a.emit)
	return a
}

// Add folds v into the pending value and restarts the quiet period.
func (a *Accumulator[T]) Add(v T) {
	a.mu.Lock()
	if a.has {
		a.value = a.merge(a.value, v)
	} else {
		a.value = v
		a.has = true
	}
	a.mu.Unlock()
	a.d.Call()
}

// Flush delivers the pending value now.
func (a *Accumulator[T]) Flush() {
	a.d.Flush()
}

// Cancel drops the pending value.
func (a *Accumulator[T]) Cancel() {
	a.d.Cancel()
	a.mu.Lock()
	var zero T
	a.value, a.has = zero, false
	a.mu.Unlock()
}

func (a *Accumulator[T]) emit() {
	a.mu.Lock()
	if !a.has {
		a.mu.Unlock()
		return
	}
	v := a.value
	var zero T
	a.value, a.has = zero, false
	a.mu.Unlock()

	a.deliver(v)
}
