package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is where a Process is in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateExited
	// StateKilled means the child was ended by a signal.
	StateKilled
)

var stateNames = [...]string{"created", "running", "exited", "killed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", s)
}

// Process is a child started by a Supervisor. Name is usually the task
// or stage that spawned it.
type Process struct {
	ID      string
	Name    string
	Cmd     *exec.Cmd
	Started time.Time

	done chan struct{}

	mu    sync.RWMutex
	state State
	code  int
	err   error
	ended time.Time
}

func newProcess(id, name string, cmd *exec.Cmd) *Process {
	return &Process{ID: id, Name: name, Cmd: cmd, done: make(chan struct{}), code: -1}
}

func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ExitCode is -1 until the process has exited.
func (p *Process) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code
}

// Err is the error returned by exec.Cmd.Wait.
func (p *Process) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) IsRunning() bool { return p.State() == StateRunning }

// PID is -1 before the process starts.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Runtime is the wall time from start to exit, or to now while running.
func (p *Process) Runtime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.Started.IsZero():
		return 0
	case p.ended.IsZero():
		return time.Since(p.Started)
	}
	return p.ended.Sub(p.Started)
}

// Signal delivers sig to the whole process group, so a shell's children
// see it as well.
func (p *Process) Signal(sig syscall.Signal) error {
	pid := p.PID()
	if !p.IsRunning() || pid <= 0 {
		return fmt.Errorf("signal %s: %w", p.Name, ErrNotRunning)
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = p.Cmd.Process.Signal(sig)
	}
	return err
}

func (p *Process) Terminate() error { return p.Signal(syscall.SIGTERM) }

func (p *Process) Kill() error { return p.Signal(syscall.SIGKILL) }

func (p *Process) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCreated {
		return ErrAlreadyStarted
	}

	attr := p.Cmd.SysProcAttr
	if attr == nil {
		attr = &syscall.SysProcAttr{}
		p.Cmd.SysProcAttr = attr
	}
	attr.Setpgid = true

	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Name, err)
	}
	p.Started = time.Now()
	p.state = StateRunning
	go p.reap()
	return nil
}

func (p *Process) reap() {
	err := p.Cmd.Wait()
	code, state := 0, StateExited

	var ee *exec.ExitError
	switch {
	case errors.As(err, &ee):
		code = ee.ExitCode()
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			state = StateKilled
		}
	case err != nil:
		code = -1
	}

	p.mu.Lock()
	p.err, p.code, p.state, p.ended = err, code, state, time.Now()
	p.mu.Unlock()
	close(p.done)
}
