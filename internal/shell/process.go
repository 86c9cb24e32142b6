package shell

import (
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a supervised process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a child process tracked by a Supervisor.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is the command line, for logs and listings.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	waitOnce sync.Once
}

func newProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 if the process has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// KillGroup sends SIGKILL to the process group of the process.
func (p *Process) KillGroup() error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return syscall.Kill(-p.Cmd.Process.Pid, syscall.SIGKILL)
}

// TerminateGroup sends SIGTERM to the process group of the process.
func (p *Process) TerminateGroup() error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return syscall.Kill(-p.Cmd.Process.Pid, syscall.SIGTERM)
}

// start launches the process in its own process group.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if p.Cmd.SysProcAttr == nil {
		p.Cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	p.Cmd.SysProcAttr.Setpgid = true

	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	return nil
}

// wait waits for the process to exit and records how it ended.
// The caller must have finished reading the command's pipes.
func (p *Process) wait() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}

// Sentinel errors for processes.
var (
	// ErrProcessNotStarted is returned when operations require a running process.
	ErrProcessNotStarted = fmt.Errorf("process not started")

	// ErrProcessAlreadyStarted is returned when starting a process twice.
	ErrProcessAlreadyStarted = fmt.Errorf("process already started")
)

// Wait blocks until the process exits and returns the wait error.
// Output pipes must be drained before calling Wait.
func (p *Process) Wait() error {
	p.wait()
	return p.ExitError()
}
