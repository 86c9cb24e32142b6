package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestTaskError(t *testing.T) {
	cause := errors.New("exit 1")
	err := &TaskError{Task: "lint", Kind: ErrTaskFailed, Err: cause}

	if got := err.Error(); got != `task "lint": task failed: exit 1` {
		t.Errorf("Error = %q", got)
	}
	if !errors.Is(err, ErrTaskFailed) {
		t.Error("should match its kind")
	}
	if errors.Is(err, ErrTaskTimeout) {
		t.Error("should not match another kind")
	}
	if !errors.Is(err, cause) {
		t.Error("should match its cause")
	}
	if !errors.Is(err, err) {
		t.Error("should match itself")
	}
	other := &TaskError{Task: "lint", Kind: ErrTaskFailed, Err: cause}
	if errors.Is(err, other) {
		t.Error("distinct instances should not match")
	}

	bare := &TaskError{Task: "x", Kind: ErrUnknownTask}
	if got := bare.Error(); got != `task "x": unknown task` {
		t.Errorf("Error = %q", got)
	}
}

func TestOrigin(t *testing.T) {
	inner := &TaskError{Task: "inner", Kind: ErrTaskFailed, Err: errors.New("x")}
	outer := &TaskError{Task: "outer", Kind: ErrTaskFailed, Err: inner}
	wrapped := fmt.Errorf("run: %w", outer)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), ""},
		{"single", inner, "inner"},
		{"nested", outer, "inner"},
		{"wrapped", wrapped, "inner"},
	}
	for _, tt := range tests {
		if got := Origin(tt.err); got != tt.want {
			t.Errorf("%s: Origin = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFailure(t *testing.T) {
	te := &TaskError{Task: "a", Kind: ErrTaskTimeout}
	if failure("b", te) != te {
		t.Error("TaskError should pass through unchanged")
	}

	plain := errors.New("plain")
	got := failure("b", plain)
	if !errors.Is(got, ErrTaskFailed) || !errors.Is(got, plain) || Origin(got) != "b" {
		t.Errorf("failure = %v", got)
	}

	if !errors.Is(failure("c", nil), ErrTaskFailed) {
		t.Error("nil still fails")
	}
}
