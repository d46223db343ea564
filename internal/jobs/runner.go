package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorkit/primer/internal/metrics"
)

// Runner launches one goroutine per accepted job. Workers are not
// cooperative tasks: once launched they run to completion, detached from the
// request context that spawned them. A worker that panics or returns an
// error has its job released failed; a worker that finishes cleanly is
// expected to have released the job itself.
type Runner struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	wg     sync.WaitGroup
	active map[string]ActiveWorker
}

// ActiveWorker describes one in-flight worker goroutine.
type ActiveWorker struct {
	JobID      string    `json:"job_id"`
	BookID     string    `json:"book_id"`
	JobType    JobType   `json:"job_type"`
	LaunchedAt time.Time `json:"launched_at"`
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(store Store, logger *slog.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   store,
		logger:  logger,
		metrics: m,
		active:  make(map[string]ActiveWorker),
	}
}

// Launch starts work for an acquired job on a new goroutine. The context's
// cancellation is stripped so an HTTP request finishing does not kill the
// worker; its values (request-scoped services) survive.
func (r *Runner) Launch(ctx context.Context, rec *Record, work func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)

	r.mu.Lock()
	r.active[rec.JobID] = ActiveWorker{
		JobID:      rec.JobID,
		BookID:     rec.BookID,
		JobType:    rec.JobType,
		LaunchedAt: time.Now().UTC(),
	}
	r.mu.Unlock()
	r.wg.Add(1)

	r.metrics.JobStarted(string(rec.JobType))
	r.logger.Info("worker launched",
		"job_id", rec.JobID, "book_id", rec.BookID, "job_type", rec.JobType)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, rec.JobID)
			r.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				msg := fmt.Sprintf("panic: %v", p)
				r.logger.Error("worker panicked",
					"job_id", rec.JobID, "book_id", rec.BookID, "panic", p)
				if err := r.store.Release(detached, rec.JobID, StatusFailed, msg); err != nil {
					r.logger.Error("failed to release panicked job",
						"job_id", rec.JobID, "error", err)
				}
				r.recordFinished(detached, rec)
			}
		}()

		if err := work(detached); err != nil {
			r.logger.Error("worker failed",
				"job_id", rec.JobID, "book_id", rec.BookID, "error", err)
			// Workers release on their own failure paths; Release
			// no-ops when the job is already terminal.
			if relErr := r.store.Release(detached, rec.JobID, StatusFailed, err.Error()); relErr != nil {
				r.logger.Error("failed to release failed job",
					"job_id", rec.JobID, "error", relErr)
			}
		}
		r.recordFinished(detached, rec)
	}()
}

func (r *Runner) recordFinished(ctx context.Context, rec *Record) {
	final, err := r.store.Get(ctx, rec.JobID)
	if err != nil {
		r.metrics.JobFinished(string(rec.JobType), "unknown")
		return
	}
	r.metrics.JobFinished(string(final.JobType), string(final.Status))
}

// ActiveWorkers returns a snapshot of in-flight workers.
func (r *Runner) ActiveWorkers() []ActiveWorker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveWorker, 0, len(r.active))
	for _, w := range r.active {
		out = append(out, w)
	}
	return out
}

// ActiveCount returns the number of in-flight workers.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Drain blocks until all workers finish or ctx expires. Interrupted workers
// keep running; their heartbeats age out and the next reader fails them.
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with %d workers still running: %w",
			r.ActiveCount(), ctx.Err())
	}
}
