package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/assetstorm/internal/logging"
)

// Sentinel errors.
var (
	// ErrNotRunning is returned when signalling a process that has exited.
	ErrNotRunning = errors.New("process not running")

	// ErrAlreadyStarted is returned when starting a process twice.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrShutdown is returned by Start and Run after Shutdown.
	ErrShutdown = errors.New("supervisor is shutting down")

	// ErrEmptyCommand is returned when a Command has neither Shell nor Path.
	ErrEmptyCommand = errors.New("empty command")
)

// ExitError reports a command that exited unsuccessfully.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
	if s := firstLine(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Result is the outcome of Run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// defaultGracePeriod is how long a cancelled child gets between SIGTERM
// and SIGKILL.
const defaultGracePeriod = 3 * time.Second

// Supervisor starts and tracks child processes.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool

	grace  time.Duration
	logger *logging.Logger
	onExit func(p *Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithGracePeriod sets the delay between SIGTERM and SIGKILL when a run is
// cancelled.
func WithGracePeriod(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(l *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logging.OrNull(l)
	}
}

// WithExitCallback sets a callback invoked after each process exits.
func WithExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		grace:     defaultGracePeriod,
		logger:    logging.Null(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts cmd and tracks it until it exits. The caller configures
// cmd's I/O.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrShutdown
	}

	proc := newProcess(uuid.New().String(), name, cmd)
	if err := proc.start(); err != nil {
		return nil, err
	}
	s.processes[proc.ID] = proc
	s.logger.Debug("started %s (pid %d)", name, proc.PID())

	go s.monitor(proc)
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	<-proc.Done()

	if s.onExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("exit callback for %s panicked: %v", proc.Name, r)
				}
			}()
			s.onExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Run starts c, waits for it to exit and returns its captured output.
// A non-zero exit is reported as *ExitError. If ctx is cancelled the
// process is terminated and ctx.Err() is returned.
func (s *Supervisor) Run(ctx context.Context, c Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd, err := c.build()
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(c.Stdin)
	cmd.Stdout = teeWriter(&stdout, c.Stdout)
	cmd.Stderr = teeWriter(&stderr, c.Stderr)

	proc, err := s.Start(c.label(), cmd)
	if err != nil {
		return nil, err
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		s.stop(proc)
		return nil, ctx.Err()
	}

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: proc.ExitCode(),
		Duration: proc.Runtime(),
	}
	if werr := proc.Err(); werr != nil {
		return res, &ExitError{
			Name:   c.label(),
			Code:   proc.ExitCode(),
			Stderr: stderr.String(),
			Err:    werr,
		}
	}
	return res, nil
}

// Filter pipes input through a shell command line and returns its stdout.
func (s *Supervisor) Filter(ctx context.Context, name, cmdline string, input []byte) ([]byte, error) {
	res, err := s.Run(ctx, Command{Name: name, Shell: cmdline, Stdin: input})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// stop terminates proc, escalating to SIGKILL after the grace period.
func (s *Supervisor) stop(proc *Process) {
	if !proc.IsRunning() {
		return
	}
	_ = proc.Terminate()
	select {
	case <-proc.Done():
	case <-time.After(s.grace):
		s.logger.Warn("%s did not exit after %s, killing", proc.Name, s.grace)
		_ = proc.Kill()
		<-proc.Done()
	}
}

// Get returns a tracked process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p)
	}
	return out
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// Shutdown refuses further Starts, sends SIGTERM to every tracked child
// and SIGKILL to those still alive after timeout. It returns once all of
// them have been reaped and forgotten.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	signalAll(procs, (*Process).Terminate)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-deadline.C:
			s.logger.Warn("shutdown timed out after %s, killing children", timeout)
			signalAll(procs, (*Process).Kill)
			<-p.Done()
		}
	}

	for s.Count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

func signalAll(procs []*Process, send func(*Process) error) {
	for _, p := range procs {
		if p.IsRunning() {
			_ = send(p)
		}
	}
}

func teeWriter(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
