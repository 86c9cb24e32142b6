package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrNoTarget indicates a run with no target and no default task.
	ErrNoTarget = errors.New("no target given and no default task")

	// ErrInitialization indicates a bootstrap failure.
	ErrInitialization = errors.New("initialization failed")

	// ErrClosed indicates use of an application after Close.
	ErrClosed = errors.New("application closed")
)

// OperationError represents an error that occurred during a specific operation.
type OperationError struct {
	Op      string // Operation name (e.g., "run", "watch", "load")
	Target  string // Target of the operation (e.g., task names, file path)
	Context string // Additional context
	Err     error  // Underlying error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{
		Op:     op,
		Target: target,
		Err:    err,
	}
}

// WithContext adds context to the error.
// Safe to call on nil receiver - returns nil.
func (e *OperationError) WithContext(ctx string) *OperationError {
	if e == nil {
		return nil
	}
	e.Context = ctx
	return e
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Context != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the same wrapper instance and anything the wrapped error matches.
func (e *OperationError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*OperationError); ok {
		return e == t
	}
	return errors.Is(e.Err, target)
}

// InitError reports the bootstrap step that failed.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Is matches ErrInitialization.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}
