package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func waitForTerminal(t *testing.T, s Store, jobID string) *Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", jobID)
	return nil
}

func TestRunnerWorkerCompletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(2*time.Minute, nil)
	r := NewRunner(s, nil, nil)

	rec, _ := s.Acquire(ctx, "b1", TypeOCRBatch, 3)
	r.Launch(ctx, rec, func(ctx context.Context) error {
		if err := s.Start(ctx, rec.JobID); err != nil {
			return err
		}
		return s.Release(ctx, rec.JobID, StatusCompleted, "")
	})

	got := waitForTerminal(t, s, rec.JobID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if err := r.Drain(ctx); err != nil {
		t.Errorf("Drain: %v", err)
	}
	if n := r.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount after drain = %d", n)
	}
}

func TestRunnerReleasesOnWorkerError(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(2*time.Minute, nil)
	r := NewRunner(s, nil, nil)

	rec, _ := s.Acquire(ctx, "b1", TypeExtraction, 3)
	r.Launch(ctx, rec, func(ctx context.Context) error {
		s.Start(ctx, rec.JobID)
		return errors.New("llm provider unreachable")
	})

	got := waitForTerminal(t, s, rec.JobID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "llm provider unreachable") {
		t.Errorf("error_message = %v", got.ErrorMessage)
	}
}

func TestRunnerRecoversPanic(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(2*time.Minute, nil)
	r := NewRunner(s, nil, nil)

	rec, _ := s.Acquire(ctx, "b1", TypeOCRBatch, 3)
	r.Launch(ctx, rec, func(ctx context.Context) error {
		s.Start(ctx, rec.JobID)
		panic("nil map write in worker")
	})

	got := waitForTerminal(t, s, rec.JobID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "panic") {
		t.Errorf("error_message = %v, want panic note", got.ErrorMessage)
	}
}

func TestRunnerKeepsWorkerReleaseStatus(t *testing.T) {
	// A worker that already released its job decides the terminal status;
	// the runner's deferred release must not override it.
	ctx := context.Background()
	s := NewMemStore(2*time.Minute, nil)
	r := NewRunner(s, nil, nil)

	rec, _ := s.Acquire(ctx, "b1", TypeOCRBatch, 3)
	r.Launch(ctx, rec, func(ctx context.Context) error {
		s.Start(ctx, rec.JobID)
		s.Release(ctx, rec.JobID, StatusCompleted, "")
		return errors.New("late cleanup error")
	})

	got := waitForTerminal(t, s, rec.JobID)
	// Give the runner's deferred release a moment to run.
	time.Sleep(20 * time.Millisecond)
	got, _ = s.Get(ctx, rec.JobID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed preserved", got.Status)
	}
}

func TestRunnerSurvivesCallerCancel(t *testing.T) {
	// Launch detaches from the request context: cancelling the caller's
	// context must not cancel the worker.
	s := NewMemStore(2*time.Minute, nil)
	r := NewRunner(s, nil, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	rec, _ := s.Acquire(reqCtx, "b1", TypeExtraction, 1)

	started := make(chan struct{})
	r.Launch(reqCtx, rec, func(ctx context.Context) error {
		close(started)
		<-time.After(30 * time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Start(ctx, rec.JobID)
		return s.Release(ctx, rec.JobID, StatusCompleted, "")
	})

	<-started
	cancel()

	got := waitForTerminal(t, s, rec.JobID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed despite caller cancel", got.Status)
	}
}

func TestRunnerDrainTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(2*time.Minute, nil)
	r := NewRunner(s, nil, nil)

	block := make(chan struct{})
	rec, _ := s.Acquire(ctx, "b1", TypeOCRBatch, 1)
	r.Launch(ctx, rec, func(ctx context.Context) error {
		<-block
		return nil
	})

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := r.Drain(short); err == nil {
		t.Error("Drain returned nil while a worker was blocked")
	}
	if n := r.ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}

	workers := r.ActiveWorkers()
	if len(workers) != 1 || workers[0].JobID != rec.JobID {
		t.Errorf("ActiveWorkers = %+v", workers)
	}

	close(block)
	if err := r.Drain(ctx); err != nil {
		t.Errorf("Drain after unblock: %v", err)
	}
}
