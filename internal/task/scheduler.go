package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/assetstorm/internal/logging"
)

// State is the state of one task within a run.
type State string

const (
	// StatePending indicates the task is waiting for dependencies.
	StatePending State = "pending"
	// StateRunning indicates a one-shot task's action is executing.
	StateRunning State = "running"
	// StateSucceeded indicates the action returned nil.
	StateSucceeded State = "succeeded"
	// StateFailed indicates the action returned an error.
	StateFailed State = "failed"
	// StateSkipped indicates a dependency failed so the action never ran.
	StateSkipped State = "skipped"
	// StateLaunched indicates a long task was started and is running
	// indefinitely.
	StateLaunched State = "launched"
)

// Done reports whether the state is terminal for one-shot purposes.
func (s State) Done() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	}
	return false
}

// Listener receives task lifecycle callbacks. Calls may arrive
// concurrently from different tasks.
type Listener interface {
	TaskStarted(run *Run, name string)
	TaskFinished(run *Run, name string, state State, d time.Duration, err error)
}

// defaultMaxConcurrent bounds the number of actions executing at once.
const defaultMaxConcurrent = 4

// Scheduler runs tasks from a registry in dependency order.
type Scheduler struct {
	registry      *Registry
	maxConcurrent int
	logger        *logging.Logger
	listeners     []Listener
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxConcurrent limits how many actions execute at once.
// Long tasks do not hold a slot once launched.
func WithMaxConcurrent(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logging.OrNull(l)
	}
}

// WithListener adds a lifecycle listener.
func WithListener(l Listener) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// NewScheduler creates a scheduler over reg.
func NewScheduler(reg *Registry, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:      reg,
		maxConcurrent: defaultMaxConcurrent,
		logger:        logging.Null(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the scheduler's registry.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// node tracks one task inside a run.
type node struct {
	task  *Task
	ready chan struct{} // closed when dependents may start
	state State
	err   error
}

// Run is one invocation of the scheduler.
type Run struct {
	// ID uniquely identifies the run.
	ID string

	// Roots are the requested task names.
	Roots []string

	// StartTime is when the run began.
	StartTime time.Time

	mu    sync.Mutex
	nodes map[string]*node

	long sync.WaitGroup
	errs []error
}

// Run executes the named tasks and their transitive dependencies.
//
// It returns once every one-shot task has finished and every long task
// has been launched. Graph errors (unknown tasks, cycles) are returned
// before any action starts. Action failures are reported through the
// returned Run's Err; the error result of Run is reserved for graph
// errors so callers can tell fatal setup failures from task failures.
func (s *Scheduler) Run(ctx context.Context, names ...string) (*Run, error) {
	if len(names) == 0 {
		return nil, errors.New("no task requested")
	}

	tasks, err := s.registry.closure(names)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.New().String(),
		Roots:     append([]string(nil), names...),
		StartTime: time.Now(),
		nodes:     make(map[string]*node, len(tasks)),
	}
	for name, t := range tasks {
		run.nodes[name] = &node{task: t, ready: make(chan struct{}), state: StatePending}
	}

	log := s.logger.WithField("run", run.ID[:8])
	log.Debug("starting %v (%d tasks)", names, len(tasks))

	sem := make(chan struct{}, s.maxConcurrent)
	var oneShot sync.WaitGroup

	for _, n := range run.nodes {
		n := n
		if n.task.Kind == KindLong {
			run.long.Add(1)
		} else {
			oneShot.Add(1)
		}
		go s.execute(ctx, run, n, sem, &oneShot, log)
	}

	// Wait until every node is ready: one-shots finished, longs launched.
	for _, n := range run.nodes {
		<-n.ready
	}
	oneShot.Wait()

	log.Debug("launched in %s", time.Since(run.StartTime))
	return run, nil
}

// execute runs a single node once its dependencies are ready.
func (s *Scheduler) execute(ctx context.Context, run *Run, n *node, sem chan struct{}, oneShot *sync.WaitGroup, log *logging.Logger) {
	long := n.task.Kind == KindLong
	if long {
		defer run.long.Done()
	} else {
		defer oneShot.Done()
	}

	name := n.task.Name

	for _, dep := range n.task.Deps {
		<-run.nodes[dep].ready
	}

	if failed := run.failedDeps(n.task.Deps); len(failed) > 0 {
		run.finish(n, StateSkipped, fmt.Errorf("%w: %v", ErrSkipped, failed))
		s.notifyFinished(run, name, StateSkipped, 0, nil)
		log.Warn("skipping %s: dependency failed: %v", name, failed)
		close(n.ready)
		return
	}

	if ctx.Err() != nil {
		run.finish(n, StateSkipped, ctx.Err())
		s.notifyFinished(run, name, StateSkipped, 0, ctx.Err())
		close(n.ready)
		return
	}

	// Acquire a slot for the start of the action.
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		run.finish(n, StateSkipped, ctx.Err())
		s.notifyFinished(run, name, StateSkipped, 0, ctx.Err())
		close(n.ready)
		return
	}

	start := time.Now()
	s.notifyStarted(run, name)

	if long {
		run.setState(n, StateLaunched)
		<-sem
		close(n.ready)
		log.Info("launched %s", name)

		err := invoke(ctx, n.task)
		d := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			run.finish(n, StateFailed, &ActionError{Task: name, Err: err})
			s.notifyFinished(run, name, StateFailed, d, err)
			return
		}
		run.finish(n, StateSucceeded, nil)
		s.notifyFinished(run, name, StateSucceeded, d, nil)
		return
	}

	run.setState(n, StateRunning)
	log.Info("starting %s", name)
	err := invoke(ctx, n.task)
	<-sem
	d := time.Since(start)

	if err != nil {
		run.finish(n, StateFailed, &ActionError{Task: name, Err: err})
		s.notifyFinished(run, name, StateFailed, d, err)
		log.Error("%s failed after %s: %v", name, d.Round(time.Millisecond), err)
	} else {
		run.finish(n, StateSucceeded, nil)
		s.notifyFinished(run, name, StateSucceeded, d, nil)
		log.Info("finished %s after %s", name, d.Round(time.Millisecond))
	}
	close(n.ready)
}

// invoke calls the action, converting panics into errors. Grouping tasks
// have no action and succeed once their deps have.
func invoke(ctx context.Context, t *Task) (err error) {
	if t.Action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Action(ctx)
}

func (s *Scheduler) notifyStarted(run *Run, name string) {
	for _, l := range s.listeners {
		l.TaskStarted(run, name)
	}
}

func (s *Scheduler) notifyFinished(run *Run, name string, state State, d time.Duration, err error) {
	for _, l := range s.listeners {
		l.TaskFinished(run, name, state, d, err)
	}
}

func (r *Run) setState(n *node, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.state = state
}

func (r *Run) finish(n *node, state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.state = state
	n.err = err
	if state == StateFailed && err != nil {
		r.errs = append(r.errs, err)
	}
}

func (r *Run) failedDeps(deps []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	for _, dep := range deps {
		switch r.nodes[dep].state {
		case StateFailed, StateSkipped:
			failed = append(failed, dep)
		}
	}
	return failed
}

// State returns the current state of a task in this run.
func (r *Run) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok {
		return "", false
	}
	return n.state, true
}

// Result returns a snapshot of every task's state.
func (r *Run) Result() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.nodes))
	for name, n := range r.nodes {
		out[name] = n.state
	}
	return out
}

// Launched returns the long tasks that are still running, sorted.
func (r *Run) Launched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name, n := range r.nodes {
		if n.state == StateLaunched {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Err returns the joined action failures so far, or nil.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

// Wait blocks until every long task has returned and reports all action
// failures of the run.
func (r *Run) Wait() error {
	r.long.Wait()
	return r.Err()
}
