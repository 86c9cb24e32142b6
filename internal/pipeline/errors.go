package pipeline

import (
	"errors"
	"fmt"
)

// Failure kinds. A *TaskError matches its kind with errors.Is.
var (
	// ErrUnknownTask indicates a name that is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask indicates a registration under a name that already exists.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrTaskTimeout indicates a task did not settle within its timeout.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskFailed indicates a task signaled failure, panicked, or was canceled.
	ErrTaskFailed = errors.New("task failed")

	// ErrCyclicChain indicates a chain that reaches itself.
	ErrCyclicChain = errors.New("cyclic chain")

	// ErrInvalidTask indicates a registration with an empty name or nil body.
	ErrInvalidTask = errors.New("invalid task")
)

// TaskError describes the failure of one task.
type TaskError struct {
	Task string // Name of the task that produced the failure
	Kind error  // One of the Err* kinds above
	Err  error  // Underlying cause, may be nil
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("task %q: %v: %v", e.Task, e.Kind, e.Err)
	}
	return fmt.Sprintf("task %q: %v", e.Task, e.Kind)
}

func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is implements errors.Is for TaskError.
// Matches the same instance and the error's kind; wrapped causes are
// matched through Unwrap.
func (e *TaskError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*TaskError); ok {
		return e == t
	}
	return e.Kind != nil && target == e.Kind
}

// Origin returns the name of the innermost task that produced err, or ""
// if err carries no TaskError.
func Origin(err error) string {
	var origin string
	for err != nil {
		var te *TaskError
		if !errors.As(err, &te) {
			break
		}
		origin = te.Task
		err = te.Err
	}
	return origin
}

// failure normalizes a body-reported error into a *TaskError for task.
// A *TaskError is passed through unchanged so nested chains keep the
// identity of the original failure.
func failure(task string, err error) error {
	if te, ok := err.(*TaskError); ok {
		return te
	}
	return &TaskError{Task: task, Kind: ErrTaskFailed, Err: err}
}

// PanicError wraps a value recovered from a panicking task body.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("panic: %v", e.Value)
}
