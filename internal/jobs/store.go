package jobs

import (
	"context"
	"time"
)

// DefaultStaleAfter is how old a running job's heartbeat may be before any
// reader transitions it to failed.
const DefaultStaleAfter = 2 * time.Minute

// Store is the job-control contract. Implementations guarantee:
//
//   - at most one job per book is pending or running at any instant;
//   - status only ever moves pending → running → {completed, failed};
//   - stale detection runs on every Acquire and Latest, and the row-locked
//     re-check means exactly one reader wins the transition.
type Store interface {
	// Acquire creates a new pending job for the book, first failing any
	// stale running job holding the lock. A live active job yields a
	// *LockBusyError carrying the holder's type and start time.
	Acquire(ctx context.Context, bookID string, jobType JobType, totalItems int) (*Record, error)

	// Start transitions pending → running and stamps the first heartbeat.
	// Any other current status is an error; unknown IDs return ErrNotFound.
	Start(ctx context.Context, jobID string) error

	// UpdateProgress applies an absolute progress snapshot and refreshes the
	// heartbeat. It silently no-ops unless the job is currently running (the
	// worker may be racing stale detection).
	UpdateProgress(ctx context.Context, jobID string, p Progress) error

	// Release transitions an active job to the given terminal status. It
	// no-ops (with a log line) on jobs that are missing or already terminal,
	// so a worker and the runner's deferred release may both call it.
	Release(ctx context.Context, jobID string, status Status, errMsg string) error

	// Latest returns the book's most recent job by start time, after
	// opportunistically failing it if it is a stale running job. jobType ""
	// matches any type. Returns (nil, nil) when the book has no jobs.
	Latest(ctx context.Context, bookID string, jobType JobType) (*Record, error)

	// Get returns one job by ID, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*Record, error)
}
