package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestInvoker_Timeout(t *testing.T) {
	f := newFixture(t, RunOptions{})
	taskCtx := make(chan (<-chan struct{}), 1)
	f.register(t, "hang", func(rc *Context, s *Settler) {
		taskCtx <- rc.Context().Done()
	}, Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	err := f.rc.Run("hang")
	elapsed := time.Since(start)

	mustKind(t, err, ErrTaskTimeout)
	if elapsed < 100*time.Millisecond || elapsed >= 150*time.Millisecond {
		t.Errorf("timed out after %s, want [100ms, 150ms)", elapsed)
	}
	done := <-taskCtx
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("task context not canceled on timeout")
	}
}

func TestInvoker_SettleWithinTimeout(t *testing.T) {
	f := newFixture(t, RunOptions{})
	f.register(t, "quick", func(rc *Context, s *Settler) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			s.Succeed()
		}()
	}, Options{Timeout: time.Second})

	if err := f.rc.Run("quick"); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestInvoker_NoTimeoutWaitsForSettlement(t *testing.T) {
	f := newFixture(t, RunOptions{})
	f.register(t, "slow", func(rc *Context, s *Settler) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.Succeed()
		}()
	}, Options{})

	if err := f.rc.Run("slow"); err != nil {
		t.Errorf("err = %v", err)
	}
}

type violationRecorder struct {
	mu         sync.Mutex
	violations []Violation
	settled    []error
	started    []string
}

func (v *violationRecorder) listener() Listener {
	return ListenerFuncs{
		Started: func(_ *Context, t *Task) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.started = append(v.started, t.Name)
		},
		Settled: func(_ *Context, _ *Task, err error, _ time.Duration) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.settled = append(v.settled, err)
		},
		Violation: func(_ *Context, _ *Task, vi Violation) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.violations = append(v.violations, vi)
		},
	}
}

func (v *violationRecorder) snapshot() ([]Violation, []error, []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Violation(nil), v.violations...), append([]error(nil), v.settled...), append([]string(nil), v.started...)
}

func TestInvoker_DoubleSettleFirstWins(t *testing.T) {
	f := newFixture(t, RunOptions{})
	vr := &violationRecorder{}
	f.runner.Invoker().AddListener(vr.listener())

	bodyDone := make(chan struct{})
	f.register(t, "twice", func(rc *Context, s *Settler) {
		defer close(bodyDone)
		s.Succeed()
		s.Fail(errors.New("second"))
	}, Options{})

	if err := f.rc.Run("twice"); err != nil {
		t.Fatalf("err = %v, first settlement should win", err)
	}
	<-bodyDone

	violations, settled, started := vr.snapshot()
	if len(violations) != 1 || violations[0].Kind != ViolationDoubleSettle {
		t.Errorf("violations = %+v", violations)
	}
	if len(settled) != 1 || len(started) != 1 {
		t.Errorf("settled %d times, started %d times; want once each", len(settled), len(started))
	}
	if !strings.Contains(f.logs.String(), "double-settle") {
		t.Errorf("violation not logged:\n%s", f.logs.String())
	}
}

func TestInvoker_LateSettleAfterTimeout(t *testing.T) {
	f := newFixture(t, RunOptions{})
	vr := &violationRecorder{}
	f.runner.Invoker().AddListener(vr.listener())

	settledLate := make(chan struct{})
	f.register(t, "late", func(rc *Context, s *Settler) {
		go func() {
			<-rc.Context().Done()
			s.Succeed()
			close(settledLate)
		}()
	}, Options{Timeout: 20 * time.Millisecond})

	mustKind(t, f.rc.Run("late"), ErrTaskTimeout)
	<-settledLate

	violations, settled, _ := vr.snapshot()
	if len(violations) != 1 || violations[0].Kind != ViolationLateSettle {
		t.Errorf("violations = %+v", violations)
	}
	if !errors.Is(violations[0].Settled, ErrTaskTimeout) {
		t.Errorf("standing result = %v", violations[0].Settled)
	}
	if len(settled) != 1 {
		t.Errorf("settled %d times", len(settled))
	}
}

func TestInvoker_PanicBecomesFailure(t *testing.T) {
	f := newFixture(t, RunOptions{})
	f.register(t, "explode", func(rc *Context, s *Settler) {
		panic("kaboom")
	}, Options{})

	err := f.rc.Run("explode")
	mustKind(t, err, ErrTaskFailed)

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want a PanicError cause", err)
	}
	if pe.Value != "kaboom" || pe.Stack == "" {
		t.Errorf("PanicError = %+v", pe)
	}
}

func TestInvoker_FailWithNil(t *testing.T) {
	f := newFixture(t, RunOptions{})
	f.register(t, "nilfail", func(rc *Context, s *Settler) {
		s.Fail(nil)
	}, Options{})

	mustKind(t, f.rc.Run("nilfail"), ErrTaskFailed)
}

func TestInvoker_ViewCarriesTaskIdentity(t *testing.T) {
	f := newFixture(t, RunOptions{})
	var name string
	var path []string
	f.register(t, "inner", Func(func(rc *Context) error {
		name = rc.TaskName()
		path = rc.Path()
		rc.Info("hello from inner")
		return nil
	}), Options{})
	if err := f.reg.RegisterChain("outer", []string{"inner"}, Options{}); err != nil {
		t.Fatal(err)
	}

	if err := f.rc.Run("outer"); err != nil {
		t.Fatal(err)
	}
	if name != "inner" {
		t.Errorf("TaskName = %q", name)
	}
	if strings.Join(path, ",") != "outer,inner" {
		t.Errorf("Path = %v", path)
	}
	if !strings.Contains(f.logs.String(), "task=inner") {
		t.Errorf("task field missing from logs:\n%s", f.logs.String())
	}
}

func TestInvoker_DirectInvoke(t *testing.T) {
	f := newFixture(t, RunOptions{})
	inv := NewInvoker()
	h := inv.Invoke(f.rc, &Task{Name: "direct", Body: Func(func(*Context) error { return nil })})
	if err := h.Wait(); err != nil {
		t.Errorf("err = %v", err)
	}
	if h.Name() != "direct" {
		t.Errorf("Name = %q", h.Name())
	}
}

func TestInvoker_TimedOutBodyCannotStartNestedTasks(t *testing.T) {
	f := newFixture(t, RunOptions{})
	rec := &recorder{}
	var started []string
	var mu sync.Mutex
	f.runner.Invoker().AddListener(ListenerFuncs{
		Started: func(_ *Context, task *Task) {
			mu.Lock()
			started = append(started, task.Name)
			mu.Unlock()
		},
	})

	f.register(t, "after", rec.step("after", nil), Options{})
	nested := make(chan error, 1)
	f.register(t, "outer", Func(func(rc *Context) error {
		time.Sleep(60 * time.Millisecond)
		err := rc.Run("after")
		nested <- err
		return err
	}), Options{Timeout: 20 * time.Millisecond})

	mustKind(t, f.rc.Run("outer"), ErrTaskTimeout)

	var err error
	select {
	case err = <-nested:
	case <-time.After(time.Second):
		t.Fatal("outer body never returned")
	}
	mustKind(t, err, ErrTaskFailed)
	if !errors.Is(err, context.Canceled) || Origin(err) != "after" {
		t.Errorf("nested err = %v, want after canceled", err)
	}
	if calls := rec.list(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, name := range started {
		if name == "after" {
			t.Errorf("after reported as started: %v", started)
		}
	}
}
