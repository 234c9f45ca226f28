package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/assetstorm/internal/fault"
)

// Sentinel errors for the task package.
var (
	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("task registry is frozen")

	// ErrSkipped marks a task that did not run because a dependency failed.
	ErrSkipped = errors.New("skipped: dependency failed")
)

// DuplicateTaskError is returned when a task name is registered twice.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already registered", e.Name)
}

// FaultKind implements fault.Kinded.
func (e *DuplicateTaskError) FaultKind() fault.Kind { return fault.KindScheduling }

// UnknownTaskError is returned when a task name cannot be resolved.
type UnknownTaskError struct {
	Name string
	// RequiredBy is the task that listed Name as a dependency, if any.
	RequiredBy string
}

func (e *UnknownTaskError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("task %q not found (required by %q)", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("task %q not found", e.Name)
}

// FaultKind implements fault.Kinded.
func (e *UnknownTaskError) FaultKind() fault.Kind { return fault.KindScheduling }

// CyclicDependencyError is returned when the dependency graph has a cycle.
// Cycle starts and ends with the same task, e.g. [a b a].
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// FaultKind implements fault.Kinded.
func (e *CyclicDependencyError) FaultKind() fault.Kind { return fault.KindScheduling }

// Members returns the distinct tasks on the cycle.
func (e *CyclicDependencyError) Members() []string {
	if len(e.Cycle) <= 1 {
		return e.Cycle
	}
	return e.Cycle[:len(e.Cycle)-1]
}

// ActionError wraps a failure returned by a task's action.
type ActionError struct {
	Task string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
