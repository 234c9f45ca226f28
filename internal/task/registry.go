// Package task provides the task registry and dependency scheduler.
//
// Tasks are registered once at startup, validated, and then frozen. The
// scheduler resolves a requested task's dependency closure, rejects
// cycles before anything runs, and executes each action at most once per
// run, starting a task only when its dependencies are ready.
package task

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/assetstorm/internal/fault"
)

// Kind determines how the scheduler treats a task's completion.
type Kind int

const (
	// KindOneShot tasks are complete when their action returns.
	KindOneShot Kind = iota
	// KindLong tasks (servers, watchers) run until their context is
	// cancelled. Dependents may start as soon as they are launched.
	KindLong
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindLong {
		return "long"
	}
	return "oneshot"
}

// Action is the work a task performs.
type Action func(ctx context.Context) error

// Task is a named unit of work with dependencies.
type Task struct {
	// Name uniquely identifies the task.
	Name string

	// Description is shown by the task listing.
	Description string

	// Deps are the tasks that must be ready before this one starts.
	Deps []string

	// Kind selects one-shot or long-running semantics.
	Kind Kind

	// Action performs the task. It may be nil for a task that only
	// groups its Deps.
	Action Action
}

// Registry stores tasks by name.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register adds a task. The task is copied; later changes to t have no
// effect on the registry.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return fault.Config("", "task name must not be empty")
	}
	if t.Action == nil && len(t.Deps) == 0 {
		return fault.Config("", "task %q has neither an action nor dependencies", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.tasks[t.Name]; exists {
		return &DuplicateTaskError{Name: t.Name}
	}

	cp := t
	cp.Deps = append([]string(nil), t.Deps...)
	r.tasks[t.Name] = &cp
	return nil
}

// MustRegister registers t and panics on error. Intended for static
// task tables.
func (r *Registry) MustRegister(t Task) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Resolve returns the task with the given name.
func (r *Registry) Resolve(name string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	if !ok {
		return nil, &UnknownTaskError{Name: name}
	}
	return t, nil
}

// Names returns all task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Frozen reports whether the registry rejects new tasks.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Validate checks that every dependency resolves and that the whole graph
// is acyclic.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return r.validateLocked(names)
}

// Freeze validates the registry and makes it read-only.
func (r *Registry) Freeze() error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	return nil
}

// closure returns the tasks reachable from roots, validated.
func (r *Registry) closure(roots []string) (map[string]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Task)
	var visit func(name, requiredBy string) error
	visit = func(name, requiredBy string) error {
		if _, seen := out[name]; seen {
			return nil
		}
		t, ok := r.tasks[name]
		if !ok {
			return &UnknownTaskError{Name: name, RequiredBy: requiredBy}
		}
		out[name] = t
		for _, dep := range t.Deps {
			if err := visit(dep, name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := visit(root, ""); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := r.validateLocked(names); err != nil {
		return nil, err
	}
	return out, nil
}

// validateLocked checks the subgraph induced by names. Caller holds r.mu.
func (r *Registry) validateLocked(names []string) error {
	for _, name := range names {
		for _, dep := range r.tasks[name].Deps {
			if _, ok := r.tasks[dep]; !ok {
				return &UnknownTaskError{Name: dep, RequiredBy: name}
			}
		}
	}

	if cycle := r.findCycleLocked(names); cycle != nil {
		return &CyclicDependencyError{Cycle: cycle}
	}
	return nil
}

// findCycleLocked runs a DFS over names in sorted order, following sorted
// dependency edges, and returns one cycle rotated so that its smallest
// member comes first. The result is independent of registration order.
func (r *Registry) findCycleLocked(names []string) []string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(names))
	var stack []string
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		stack = append(stack, u)

		deps := append([]string(nil), r.tasks[u].Deps...)
		sort.Strings(deps)
		for _, v := range deps {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for _, name := range names {
		if color[name] != white {
			continue
		}
		if dfs(name) {
			break
		}
	}

	if len(cycle) == 0 {
		return nil
	}

	// Rotate so the smallest member leads, then close the loop.
	minIdx := 0
	for i, n := range cycle {
		if n < cycle[minIdx] {
			minIdx = i
		}
	}
	rotated := make([]string, 0, len(cycle)+1)
	rotated = append(rotated, cycle[minIdx:]...)
	rotated = append(rotated, cycle[:minIdx]...)
	rotated = append(rotated, rotated[0])
	return rotated
}
