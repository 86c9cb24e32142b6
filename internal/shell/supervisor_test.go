package shell

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisor_StartAndWait(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start(context.Background(), "true", exec.Command("true"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if proc.ID == "" {
		t.Error("expected process ID")
	}
	if proc.PID() <= 0 {
		t.Errorf("PID = %d", proc.PID())
	}
	if err := proc.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if proc.State() != StateExited {
		t.Errorf("State = %v, want exited", proc.State())
	}
	if proc.ExitCode() != 0 {
		t.Errorf("ExitCode = %d", proc.ExitCode())
	}
}

func TestSupervisor_WithMaxProcesses(t *testing.T) {
	s := NewSupervisor(WithMaxProcesses(1))
	defer s.Shutdown(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, err := s.Start(ctx, "sleep", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() { _ = proc.Wait() }()

	if _, err := s.Start(ctx, "sleep", exec.Command("sleep", "10")); !errors.Is(err, ErrProcessLimit) {
		t.Errorf("Start over the limit = %v, want ErrProcessLimit", err)
	}
}

func TestSupervisor_ContextKillsGroup(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := s.Start(ctx, "sh", exec.Command("sh", "-c", "sleep 10 & wait"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() { _ = proc.Wait() }()

	cancel()
	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process not killed after context cancel")
	}
	if proc.State() != StateKilled {
		t.Errorf("State = %v, want killed", proc.State())
	}
}

func TestSupervisor_ExitCallbackAndUntrack(t *testing.T) {
	var called atomic.Bool
	s := NewSupervisor(WithExitCallback(func(*Process) { called.Store(true) }))
	defer s.Shutdown(time.Second)

	proc, err := s.Start(context.Background(), "true", exec.Command("true"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = proc.Wait()

	deadline := time.Now().Add(time.Second)
	for s.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d after exit", s.Count())
	}
	if !called.Load() {
		t.Error("exit callback not called")
	}
	if s.Get(proc.ID) != nil {
		t.Error("exited process still tracked")
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	s := NewSupervisor()

	proc, err := s.Start(context.Background(), "sleep", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() { _ = proc.Wait() }()

	s.Shutdown(time.Second)
	select {
	case <-proc.Done():
	default:
		t.Error("process still running after Shutdown")
	}
	if _, err := s.Start(context.Background(), "true", exec.Command("true")); err != ErrSupervisorShutdown {
		t.Errorf("Start after Shutdown = %v, want ErrSupervisorShutdown", err)
	}
}

func TestSupervisor_KillUnknown(t *testing.T) {
	s := NewSupervisor()
	if err := s.Kill("missing"); err != ErrProcessNotFound {
		t.Errorf("Kill = %v, want ErrProcessNotFound", err)
	}
}
