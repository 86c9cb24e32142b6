package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Supervisor tracks the child processes started by a Proxy so they can be
// listed, killed with their context, and cleaned up at shutdown.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool

	// maxProcesses limits concurrent processes (0 = unlimited)
	maxProcesses int

	onExit func(p *Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithExitCallback sets a callback invoked when a process exits.
func WithExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts cmd and tracks it until it exits.
// When ctx ends before the process does, its process group is killed.
func (s *Supervisor) Start(ctx context.Context, name string, cmd *exec.Cmd) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}

	proc := newProcess(uuid.New().String(), name, cmd)
	if err := proc.start(); err != nil {
		return nil, err
	}
	s.processes[proc.ID] = proc

	go s.monitor(ctx, proc)
	return proc, nil
}

// monitor kills proc when ctx ends and untracks it on exit.
func (s *Supervisor) monitor(ctx context.Context, proc *Process) {
	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.KillGroup()
		<-proc.Done()
	}

	if s.onExit != nil {
		func() {
			defer func() { _ = recover() }()
			s.onExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all running processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Kill kills a process group by process ID.
func (s *Supervisor) Kill(id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	if !proc.IsRunning() {
		return nil
	}
	return proc.KillGroup()
}

// Shutdown stops accepting new processes, sends SIGTERM to every tracked
// process group, and kills whatever is still running after timeout.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		_ = p.TerminateGroup()
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			_ = p.KillGroup()
		}
		<-done
	}
}

// Sentinel errors.
var (
	// ErrProcessNotFound is returned when a process ID is not found.
	ErrProcessNotFound = fmt.Errorf("process not found")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = fmt.Errorf("supervisor is shutting down")

	// ErrProcessLimit is returned when the process limit is reached.
	ErrProcessLimit = errors.New("process limit reached")
)
