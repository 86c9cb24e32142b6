package pipeline

import (
	"slices"
	"sync"
	"time"
)

// Body is the execution function of a task.
// It must settle s exactly once, from any goroutine.
type Body func(rc *Context, s *Settler)

// Func adapts a synchronous function to a Body.
// A nil return settles with success; anything else settles with failure.
func Func(fn func(rc *Context) error) Body {
	return func(rc *Context, s *Settler) {
		s.Done(fn(rc))
	}
}

// Options holds the amendable settings of a task.
type Options struct {
	// Timeout bounds how long the invoker waits for the task to settle.
	// Zero means no timeout.
	Timeout time.Duration

	// Description is a human-readable summary shown by listings.
	Description string

	// Reads lists the flags the task consults.
	Reads []string

	// Writes lists the flags the task sets or clears. When non-empty,
	// writes to other flags are logged as warnings.
	Writes []string
}

// merge returns o amended by other. Non-zero fields of other win;
// flag lists are unioned.
func (o Options) merge(other Options) Options {
	if other.Timeout != 0 {
		o.Timeout = other.Timeout
	}
	if other.Description != "" {
		o.Description = other.Description
	}
	o.Reads = union(o.Reads, other.Reads)
	o.Writes = union(o.Writes, other.Writes)
	return o
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return slices.Clone(a)
	}
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Task is a registered unit of work.
type Task struct {
	// Name is the unique registry key.
	Name string

	// Body is the execution function. It never changes after registration.
	Body Body

	// Options are the task's settings at lookup time.
	Options Options
}

// clone returns a snapshot of t safe to hand to an invocation.
func (t *Task) clone() *Task {
	return &Task{
		Name: t.Name,
		Body: t.Body,
		Options: Options{
			Timeout:     t.Options.Timeout,
			Description: t.Options.Description,
			Reads:       slices.Clone(t.Options.Reads),
			Writes:      slices.Clone(t.Options.Writes),
		},
	}
}

// ViolationKind identifies a breach of the settle-once contract.
type ViolationKind string

const (
	// ViolationDoubleSettle means the body settled more than once.
	ViolationDoubleSettle ViolationKind = "double-settle"
	// ViolationLateSettle means the body settled after the invoker had
	// already failed the task (timeout or cancellation).
	ViolationLateSettle ViolationKind = "late-settle"
)

// Violation describes an ignored settlement.
type Violation struct {
	Kind ViolationKind
	// Attempted is the ignored result (nil for an ignored success).
	Attempted error
	// Settled is the result that stood.
	Settled error
}

// Settler carries the onSuccess/onFailure callbacks of one invocation.
// The first settlement wins; later ones are ignored and reported.
type Settler struct {
	task string

	mu        sync.Mutex
	settled   bool
	byInvoker bool
	err       error
	done      chan struct{}

	onViolation func(Violation)
}

func newSettler(task string) *Settler {
	return &Settler{
		task: task,
		done: make(chan struct{}),
	}
}

// Succeed settles the invocation with success.
func (s *Settler) Succeed() {
	s.resolve(nil, false)
}

// Fail settles the invocation with failure.
// A nil err still counts as failure.
func (s *Settler) Fail(err error) {
	s.resolve(failure(s.task, err), false)
}

// Done settles with success when err is nil and with failure otherwise.
func (s *Settler) Done(err error) {
	if err == nil {
		s.Succeed()
		return
	}
	s.Fail(err)
}

// Settled reports whether the invocation has settled.
func (s *Settler) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// resolve records the first settlement. byInvoker marks settlements forced
// by the invoker (timeout, cancellation); those are never violations.
func (s *Settler) resolve(err error, byInvoker bool) bool {
	s.mu.Lock()
	if s.settled {
		first := s.err
		late := s.byInvoker
		report := s.onViolation
		s.mu.Unlock()

		if !byInvoker && report != nil {
			kind := ViolationDoubleSettle
			if late {
				kind = ViolationLateSettle
			}
			report(Violation{Kind: kind, Attempted: err, Settled: first})
		}
		return false
	}

	s.settled = true
	s.byInvoker = byInvoker
	s.err = err
	close(s.done)
	s.mu.Unlock()
	return true
}

// result returns the standing settlement. Only valid after done is closed.
func (s *Settler) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
