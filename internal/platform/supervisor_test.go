package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSpecValidation(t *testing.T) {
	s := NewSupervisor(fastPolicy())
	if err := s.StartSpec(SupervisorChildSpec{}, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for missing task name")
	}
	if err := s.StartSpec(SupervisorChildSpec{Name: "t"}, nil); err == nil {
		t.Fatal("expected error for nil runner")
	}
}

func TestStartRejectsDuplicateName(t *testing.T) {
	s := NewSupervisor(fastPolicy())
	block := make(chan struct{})
	defer close(block)

	err := s.Start("worker", func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.StopAll()

	if err := s.Start("worker", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for duplicate task name")
	}
}

func TestPermanentTaskRestartsAfterFailure(t *testing.T) {
	var runs atomic.Int64
	restarted := make(chan struct{}, 16)
	s := NewSupervisorWithHooks(fastPolicy(), SupervisorHooks{
		OnTaskRestart: func(name string, err error, restartCount int) {
			restarted <- struct{}{}
		},
	})

	err := s.StartSpec(SupervisorChildSpec{Name: "flaky", Restart: SupervisorRestartPermanent},
		func(ctx context.Context) error {
			if runs.Add(1) < 3 {
				return errors.New("flake")
			}
			<-ctx.Done()
			return nil
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.StopAll()

	for i := 0; i < 2; i++ {
		select {
		case <-restarted:
		case <-time.After(5 * time.Second):
			t.Fatalf("restart %d never happened", i+1)
		}
	}
	waitFor(t, "third run", func() bool { return runs.Load() >= 3 })
}

func TestTransientTaskStopsOnNormalExit(t *testing.T) {
	var runs atomic.Int64
	s := NewSupervisor(fastPolicy())
	err := s.StartSpec(SupervisorChildSpec{Name: "one-shot", Restart: SupervisorRestartTransient},
		func(ctx context.Context) error {
			runs.Add(1)
			return nil
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "task exit", func() bool { return len(s.Tasks()) == 0 })
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("transient task ran %d times after a clean exit", got)
	}
}

func TestTransientTaskRestartsOnError(t *testing.T) {
	var runs atomic.Int64
	s := NewSupervisor(fastPolicy())
	err := s.StartSpec(SupervisorChildSpec{Name: "retry", Restart: SupervisorRestartTransient},
		func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				return errors.New("first run fails")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "retry after failure", func() bool { return runs.Load() >= 2 })
}

func TestTemporaryTaskNeverRestarts(t *testing.T) {
	var runs atomic.Int64
	s := NewSupervisor(fastPolicy())
	err := s.StartSpec(SupervisorChildSpec{Name: "once", Restart: SupervisorRestartTemporary},
		func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("still no restart")
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "task exit", func() bool { return len(s.Tasks()) == 0 })
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("temporary task ran %d times", got)
	}
}

func TestMaxRestartsMarksPermanentFailure(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRestarts = 2
	failed := make(chan int, 1)
	s := NewSupervisorWithHooks(policy, SupervisorHooks{
		OnTaskPermanentFailure: func(name string, err error, restartCount int) {
			failed <- restartCount
		},
	})

	err := s.StartSpec(SupervisorChildSpec{Name: "doomed", Restart: SupervisorRestartPermanent},
		func(ctx context.Context) error { return errors.New("always") })
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case count := <-failed:
		if count != 2 {
			t.Fatalf("unexpected restart count at failure: %d", count)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("permanent failure hook never fired")
	}

	waitFor(t, "failure status", func() bool {
		children := s.Children()
		return len(children) == 1 && children[0].PermanentFailed
	})
	children := s.Children()
	if children[0].Name != "doomed" || children[0].LastError == "" || children[0].RestartCount != 2 {
		t.Fatalf("unexpected child status: %+v", children[0])
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	started := make(chan struct{})
	var exited atomic.Bool
	s := NewSupervisor(fastPolicy())
	err := s.Start("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		exited.Store(true)
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	s.Stop("long")
	if !exited.Load() {
		t.Fatal("stop returned before the task exited")
	}
	if tasks := s.Tasks(); len(tasks) != 0 {
		t.Fatalf("tasks still registered after stop: %v", tasks)
	}
}

func TestStopAllClearsFinishedStatuses(t *testing.T) {
	s := NewSupervisor(fastPolicy())
	for _, name := range []string{"a", "b"} {
		name := name
		if err := s.Start(name, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}); err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
	}
	if got := s.Tasks(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected task list: %v", got)
	}

	s.StopAll()
	if len(s.Tasks()) != 0 || len(s.Children()) != 0 {
		t.Fatal("supervisor retained state after StopAll")
	}
}

func TestChildrenReportsRestartCounts(t *testing.T) {
	var runs atomic.Int64
	s := NewSupervisor(fastPolicy())
	err := s.Start("counter", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.StopAll()

	waitFor(t, "restart count", func() bool {
		children := s.Children()
		return len(children) == 1 && children[0].RestartCount == 1
	})
	children := s.Children()
	if children[0].LastError != "boom" || children[0].PermanentFailed {
		t.Fatalf("unexpected child status: %+v", children[0])
	}
}
