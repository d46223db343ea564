package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore implements Store with an in-process map. It backs tests and the
// blob-only dev mode; semantics match the Postgres store exactly, with the
// package mutex standing in for row locks.
type MemStore struct {
	mu         sync.Mutex
	jobs       map[string]*Record
	seq        map[string]int64 // insertion order, tie-break for Latest
	nextSeq    int64
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewMemStore creates an empty in-memory job store. staleAfter <= 0 uses
// DefaultStaleAfter.
func NewMemStore(staleAfter time.Duration, logger *slog.Logger) *MemStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemStore{
		jobs:       make(map[string]*Record),
		seq:        make(map[string]int64),
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *MemStore) Acquire(_ context.Context, bookID string, jobType JobType, totalItems int) (*Record, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type %q", jobType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.jobs {
		if rec.BookID != bookID || !rec.Status.Active() {
			continue
		}
		if s.staleLocked(rec) {
			s.failStaleLocked(rec)
			continue
		}
		return nil, &LockBusyError{
			BookID:      bookID,
			ActiveJobID: rec.JobID,
			JobType:     rec.JobType,
			StartedAt:   rec.StartedAt,
		}
	}

	rec := &Record{
		JobID:      uuid.NewString(),
		BookID:     bookID,
		JobType:    jobType,
		Status:     StatusPending,
		TotalItems: totalItems,
		StartedAt:  s.now().UTC(),
	}
	s.jobs[rec.JobID] = rec
	s.nextSeq++
	s.seq[rec.JobID] = s.nextSeq

	s.logger.Info("job acquired",
		"job_id", rec.JobID, "book_id", bookID, "job_type", jobType, "total_items", totalItems)
	return rec.Clone(), nil
}

func (s *MemStore) Start(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("start job %s: %w", jobID, ErrNotFound)
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("cannot start job %s: status is %s, want %s", jobID, rec.Status, StatusPending)
	}

	now := s.now().UTC()
	rec.Status = StatusRunning
	rec.HeartbeatAt = &now
	return nil
}

func (s *MemStore) UpdateProgress(_ context.Context, jobID string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, ErrNotFound)
	}
	if rec.Status != StatusRunning {
		// Racing stale detection or an early release; drop the update.
		return nil
	}

	if p.CurrentItem != nil {
		rec.CurrentItem = cloneIntPtr(p.CurrentItem)
	}
	rec.CompletedItems = p.Completed
	rec.FailedItems = p.Failed
	if p.LastCompletedItem != nil {
		rec.LastCompletedItem = cloneIntPtr(p.LastCompletedItem)
	}
	if p.Detail != nil {
		rec.ProgressDetail = cloneStrPtr(p.Detail)
	}
	now := s.now().UTC()
	rec.HeartbeatAt = &now
	return nil
}

func (s *MemStore) Release(_ context.Context, jobID string, status Status, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("release requires a terminal status, got %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		s.logger.Warn("release of unknown job", "job_id", jobID)
		return nil
	}
	if rec.Status.Terminal() {
		s.logger.Debug("release of already-terminal job",
			"job_id", jobID, "status", rec.Status)
		return nil
	}

	now := s.now().UTC()
	rec.Status = status
	rec.CompletedAt = &now
	if errMsg != "" {
		rec.ErrorMessage = cloneStrPtr(&errMsg)
	}
	s.logger.Info("job released", "job_id", jobID, "status", status)
	return nil
}

func (s *MemStore) Latest(_ context.Context, bookID string, jobType JobType) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Record
	for _, rec := range s.jobs {
		if rec.BookID != bookID {
			continue
		}
		if jobType != "" && rec.JobType != jobType {
			continue
		}
		if latest == nil || rec.StartedAt.After(latest.StartedAt) ||
			(rec.StartedAt.Equal(latest.StartedAt) && s.seq[rec.JobID] > s.seq[latest.JobID]) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}

	if latest.Status == StatusRunning && s.staleLocked(latest) {
		s.failStaleLocked(latest)
	}
	return latest.Clone(), nil
}

func (s *MemStore) Get(_ context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", jobID, ErrNotFound)
	}
	return rec.Clone(), nil
}

// staleLocked reports whether rec is a running job with an expired heartbeat.
// Caller holds the mutex.
func (s *MemStore) staleLocked(rec *Record) bool {
	if rec.Status != StatusRunning || rec.HeartbeatAt == nil {
		return false
	}
	return s.now().Sub(*rec.HeartbeatAt) > s.staleAfter
}

// failStaleLocked transitions a stale running job to failed with the canned
// interrupted message. Caller holds the mutex and has re-checked staleness.
func (s *MemStore) failStaleLocked(rec *Record) {
	now := s.now().UTC()
	rec.Status = StatusFailed
	rec.CompletedAt = &now
	msg := staleMessage(rec.LastCompletedItem)
	rec.ErrorMessage = &msg
	s.logger.Warn("stale job failed",
		"job_id", rec.JobID, "book_id", rec.BookID, "job_type", rec.JobType)
}

var _ Store = (*MemStore)(nil)
