package pipeline

import (
	"context"
	"sync"
)

// Handle is the completion contract of one task invocation or chain run.
// It settles exactly once; Done is closed when it does.
type Handle struct {
	name string
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle(name string) *Handle {
	return &Handle{
		name: name,
		done: make(chan struct{}),
	}
}

// settledHandle returns a handle that has already settled with err.
func settledHandle(name string, err error) *Handle {
	h := newHandle(name)
	h.settle(err)
	return h
}

// settle records the result. Only the first call has an effect.
func (h *Handle) settle(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Name returns the task name, or the comma-joined names of a chain.
func (h *Handle) Name() string {
	return h.name
}

// Done returns a channel that's closed when the handle settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Settled reports whether the handle has settled.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the failure, or nil on success or while still pending.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the handle settles and returns its failure, if any.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// WaitContext is like Wait but gives up when ctx ends.
// Giving up does not affect the underlying work.
func (h *Handle) WaitContext(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then returns a handle that settles with h's failure, or, if h succeeds,
// with the result of the handle next returns. next is not called when h fails.
// A nil handle from next counts as success.
func (h *Handle) Then(next func() *Handle) *Handle {
	out := newHandle(h.name)
	go func() {
		if err := h.Wait(); err != nil {
			out.settle(err)
			return
		}
		if nh := next(); nh != nil {
			out.settle(nh.Wait())
			return
		}
		out.settle(nil)
	}()
	return out
}
