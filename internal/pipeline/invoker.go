package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Listener receives task lifecycle events.
// Callbacks run on the invoker's goroutines and must not block.
type Listener interface {
	// OnTaskStarted is called before the body runs.
	OnTaskStarted(rc *Context, t *Task)

	// OnTaskSettled is called once per invocation with its result.
	OnTaskSettled(rc *Context, t *Task, err error, elapsed time.Duration)

	// OnContractViolation is called for every ignored settlement.
	OnContractViolation(rc *Context, t *Task, v Violation)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	Started   func(rc *Context, t *Task)
	Settled   func(rc *Context, t *Task, err error, elapsed time.Duration)
	Violation func(rc *Context, t *Task, v Violation)
}

// OnTaskStarted implements Listener.
func (f ListenerFuncs) OnTaskStarted(rc *Context, t *Task) {
	if f.Started != nil {
		f.Started(rc, t)
	}
}

// OnTaskSettled implements Listener.
func (f ListenerFuncs) OnTaskSettled(rc *Context, t *Task, err error, elapsed time.Duration) {
	if f.Settled != nil {
		f.Settled(rc, t, err, elapsed)
	}
}

// OnContractViolation implements Listener.
func (f ListenerFuncs) OnContractViolation(rc *Context, t *Task, v Violation) {
	if f.Violation != nil {
		f.Violation(rc, t, v)
	}
}

// Invoker runs one task body under the settle-once contract.
type Invoker struct {
	listeners   []Listener
	listenersMu sync.RWMutex
}

// NewInvoker creates an invoker without listeners.
func NewInvoker() *Invoker {
	return &Invoker{}
}

// AddListener adds a lifecycle listener.
func (inv *Invoker) AddListener(l Listener) {
	inv.listenersMu.Lock()
	defer inv.listenersMu.Unlock()
	inv.listeners = append(inv.listeners, l)
}

// Invoke starts t with the run context rc and returns its completion handle.
//
// The handle settles exactly once: with the body's first settlement, with
// ErrTaskTimeout when t.Options.Timeout elapses first, or with
// ErrTaskFailed when rc's context ends first. Timing out cancels the
// invocation's context but cannot stop work that ignores it.
func (inv *Invoker) Invoke(rc *Context, t *Task) *Handle {
	h := newHandle(t.Name)
	go inv.run(rc, t, h)
	return h
}

func (inv *Invoker) run(rc *Context, t *Task, h *Handle) {
	parent := rc.Context()
	// An ended context never starts a body.
	if err := parent.Err(); err != nil {
		rc.log.WithField("task", t.Name).Debug("not started: %v", err)
		h.settle(&TaskError{Task: t.Name, Kind: ErrTaskFailed, Err: err})
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	view := rc.forTask(ctx, t)
	s := newSettler(t.Name)
	s.onViolation = func(v Violation) {
		view.log.Warn("ignored %s (result %v, standing %v)", v.Kind, v.Attempted, v.Settled)
		inv.notifyViolation(view, t, v)
	}

	var timeout <-chan time.Time
	if t.Options.Timeout > 0 {
		timer := time.NewTimer(t.Options.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	start := time.Now()
	view.log.Info("task started")
	inv.notifyStarted(view, t)

	go inv.call(view, t, s)

	select {
	case <-s.done:
	case <-timeout:
		s.resolve(&TaskError{
			Task: t.Name,
			Kind: ErrTaskTimeout,
			Err:  fmt.Errorf("not settled within %s", t.Options.Timeout),
		}, true)
	case <-parent.Done():
		s.resolve(&TaskError{Task: t.Name, Kind: ErrTaskFailed, Err: parent.Err()}, true)
	}

	err := s.result()
	elapsed := time.Since(start)
	if err != nil {
		view.log.Error("task failed after %s: %v", elapsed.Round(time.Millisecond), err)
	} else {
		view.log.Info("task succeeded in %s", elapsed.Round(time.Millisecond))
	}
	inv.notifySettled(view, t, err, elapsed)

	h.settle(err)
}

// call runs the body, converting a panic into a failure.
func (inv *Invoker) call(rc *Context, t *Task, s *Settler) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			s.Fail(&PanicError{Value: r, Stack: string(stack[:n])})
		}
	}()

	t.Body(rc, s)
}

// Notification helpers

func (inv *Invoker) snapshot() []Listener {
	inv.listenersMu.RLock()
	defer inv.listenersMu.RUnlock()
	listeners := make([]Listener, len(inv.listeners))
	copy(listeners, inv.listeners)
	return listeners
}

func (inv *Invoker) notifyStarted(rc *Context, t *Task) {
	for _, l := range inv.snapshot() {
		l.OnTaskStarted(rc, t)
	}
}

func (inv *Invoker) notifySettled(rc *Context, t *Task, err error, elapsed time.Duration) {
	for _, l := range inv.snapshot() {
		l.OnTaskSettled(rc, t, err, elapsed)
	}
}

func (inv *Invoker) notifyViolation(rc *Context, t *Task, v Violation) {
	for _, l := range inv.snapshot() {
		l.OnContractViolation(rc, t, v)
	}
}
