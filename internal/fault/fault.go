// Package fault defines the error taxonomy shared by the scheduler, the
// pipeline runner and the CLI.
//
// Every failure surfaced to the user carries a Kind:
//
//   - KindConfig: fatal, aborts the entire run (bad glob, missing file).
//   - KindCompilation: per-file, reported and the file's output withheld.
//   - KindScheduling: fatal at startup (duplicate, unknown or cyclic tasks).
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindConfig is a configuration error.
	KindConfig
	// KindCompilation is a per-file error raised by a pipeline stage.
	KindCompilation
	// KindScheduling is a task graph error.
	KindScheduling
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindCompilation:
		return "compilation"
	case KindScheduling:
		return "scheduling"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by errors.Is against an *Error of the same kind.
var (
	ErrConfig      = errors.New("configuration error")
	ErrCompilation = errors.New("compilation error")
	ErrScheduling  = errors.New("scheduling error")
)

// Kinded is implemented by errors that belong to the taxonomy without
// being an *Error.
type Kinded interface {
	FaultKind() Kind
}

// Error is a structured failure report.
type Error struct {
	Kind Kind
	// Stage is the pipeline stage that failed (compilation errors).
	Stage string
	// Path is the file involved, if any.
	Path string
	// Task is the task that was running, if known.
	Task string
	// Message is the human-readable description.
	Message string
	// Err is the underlying error.
	Err error
}

// Config creates a configuration error.
func Config(path string, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Compilation wraps a stage failure for one file.
func Compilation(stage, path string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindCompilation, Stage: stage, Path: path, Message: msg, Err: err}
}

// Scheduling creates a task graph error.
func Scheduling(task string, format string, args ...any) *Error {
	return &Error{Kind: KindScheduling, Task: task, Message: fmt.Sprintf(format, args...)}
}

// WithTask returns a copy of e attributed to task.
func (e *Error) WithTask(task string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Task = task
	return &cp
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString("[")
		b.WriteString(e.Stage)
		b.WriteString("] ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	b.WriteString(msg)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfig:
		return e.Kind == KindConfig
	case ErrCompilation:
		return e.Kind == KindCompilation
	case ErrScheduling:
		return e.Kind == KindScheduling
	}
	return false
}

// FaultKind implements Kinded.
func (e *Error) FaultKind() Kind {
	return e.Kind
}

// KindOf reports the kind of the first error in err's chain that belongs
// to the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.FaultKind()
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindConfig, KindScheduling:
		return true
	}
	return false
}
