package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on Postgres. The partial unique index
// jobs_one_active_per_book backstops the application-level active check, and
// every transition runs under SELECT ... FOR UPDATE so racing readers agree
// on who performs a stale transition.
type PGStore struct {
	pool       *pgxpool.Pool
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewPGStore wraps a pgx pool. staleAfter <= 0 uses DefaultStaleAfter.
func NewPGStore(pool *pgxpool.Pool, staleAfter time.Duration, logger *slog.Logger) *PGStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, staleAfter: staleAfter, logger: logger}
}

const jobColumns = `job_id, book_id, job_type, status, total_items, completed_items,
	failed_items, current_item, last_completed_item, progress_detail,
	heartbeat_at, started_at, completed_at, error_message`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.JobID, &rec.BookID, &rec.JobType, &rec.Status,
		&rec.TotalItems, &rec.CompletedItems, &rec.FailedItems,
		&rec.CurrentItem, &rec.LastCompletedItem, &rec.ProgressDetail,
		&rec.HeartbeatAt, &rec.StartedAt, &rec.CompletedAt, &rec.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) Acquire(ctx context.Context, bookID string, jobType JobType, totalItems int) (*Record, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type %q", jobType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin acquire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock any active row for this book. The partial unique index means at
	// most one can exist.
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`,
		       (status = 'running' AND heartbeat_at IS NOT NULL
		        AND heartbeat_at < now() - make_interval(secs => $2)) AS stale
		  FROM jobs
		 WHERE book_id = $1 AND status IN ('pending', 'running')
		   FOR UPDATE`,
		bookID, s.staleAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query active jobs for book %s: %w", bookID, err)
	}

	type activeRow struct {
		rec   *Record
		stale bool
	}
	var active []activeRow
	for rows.Next() {
		var rec Record
		var stale bool
		if err := rows.Scan(
			&rec.JobID, &rec.BookID, &rec.JobType, &rec.Status,
			&rec.TotalItems, &rec.CompletedItems, &rec.FailedItems,
			&rec.CurrentItem, &rec.LastCompletedItem, &rec.ProgressDetail,
			&rec.HeartbeatAt, &rec.StartedAt, &rec.CompletedAt, &rec.ErrorMessage,
			&stale,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan active job: %w", err)
		}
		active = append(active, activeRow{rec: &rec, stale: stale})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read active jobs: %w", err)
	}

	for _, a := range active {
		if !a.stale {
			return nil, &LockBusyError{
				BookID:      bookID,
				ActiveJobID: a.rec.JobID,
				JobType:     a.rec.JobType,
				StartedAt:   a.rec.StartedAt,
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE jobs
			   SET status = 'failed', completed_at = now(), error_message = $2
			 WHERE job_id = $1`,
			a.rec.JobID, staleMessage(a.rec.LastCompletedItem)); err != nil {
			return nil, fmt.Errorf("failed to fail stale job %s: %w", a.rec.JobID, err)
		}
		s.logger.Warn("stale job failed during acquire",
			"job_id", a.rec.JobID, "book_id", bookID, "job_type", a.rec.JobType)
	}

	rec := &Record{
		JobID:      uuid.NewString(),
		BookID:     bookID,
		JobType:    jobType,
		Status:     StatusPending,
		TotalItems: totalItems,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO jobs (job_id, book_id, job_type, status, total_items, started_at)
		VALUES ($1, $2, $3, 'pending', $4, now())
		RETURNING started_at`,
		rec.JobID, bookID, jobType, totalItems).Scan(&rec.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A competitor slipped in between our check and insert; report
			// whoever holds the lock now.
			tx.Rollback(ctx)
			return nil, s.lockBusyFromCurrent(ctx, bookID, err)
		}
		return nil, fmt.Errorf("failed to insert job for book %s: %w", bookID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit acquire: %w", err)
	}

	s.logger.Info("job acquired",
		"job_id", rec.JobID, "book_id", bookID, "job_type", jobType, "total_items", totalItems)
	return rec, nil
}

// lockBusyFromCurrent re-reads the active job after a unique violation so
// the caller still gets a LockBusyError naming the holder.
func (s *PGStore) lockBusyFromCurrent(ctx context.Context, bookID string, cause error) error {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		  FROM jobs
		 WHERE book_id = $1 AND status IN ('pending', 'running')
		 LIMIT 1`, bookID)
	rec, err := scanRecord(row)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for book %s: %w", bookID, cause)
	}
	return &LockBusyError{
		BookID:      bookID,
		ActiveJobID: rec.JobID,
		JobType:     rec.JobType,
		StartedAt:   rec.StartedAt,
	}
}

func (s *PGStore) Start(ctx context.Context, jobID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin start tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("start job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock job %s: %w", jobID, err)
	}
	if status != StatusPending {
		return fmt.Errorf("cannot start job %s: status is %s, want %s", jobID, status, StatusPending)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'running', heartbeat_at = now() WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) UpdateProgress(ctx context.Context, jobID string, p Progress) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		   SET current_item        = COALESCE($2, current_item),
		       completed_items     = $3,
		       failed_items        = $4,
		       last_completed_item = COALESCE($5, last_completed_item),
		       progress_detail     = COALESCE($6, progress_detail),
		       heartbeat_at        = now()
		 WHERE job_id = $1 AND status = 'running'`,
		jobID, p.CurrentItem, p.Completed, p.Failed, p.LastCompletedItem, p.Detail)
	if err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job is no longer running (drop the update, the worker
		// is racing stale detection) or the ID is unknown.
		if _, err := s.Get(ctx, jobID); errors.Is(err, ErrNotFound) {
			return fmt.Errorf("update job %s: %w", jobID, ErrNotFound)
		}
	}
	return nil
}

func (s *PGStore) Release(ctx context.Context, jobID string, status Status, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("release requires a terminal status, got %q", status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Warn("release of unknown job", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock job %s: %w", jobID, err)
	}
	if current.Terminal() {
		s.logger.Debug("release of already-terminal job", "job_id", jobID, "status", current)
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		   SET status = $2, completed_at = now(), error_message = NULLIF($3, '')
		 WHERE job_id = $1`,
		jobID, status, errMsg); err != nil {
		return fmt.Errorf("failed to release job %s: %w", jobID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit release of job %s: %w", jobID, err)
	}

	s.logger.Info("job released", "job_id", jobID, "status", status)
	return nil
}

func (s *PGStore) Latest(ctx context.Context, bookID string, jobType JobType) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`,
		       (status = 'running' AND heartbeat_at IS NOT NULL
		        AND heartbeat_at < now() - make_interval(secs => $3)) AS stale
		  FROM jobs
		 WHERE book_id = $1 AND ($2 = '' OR job_type = $2)
		 ORDER BY started_at DESC
		 LIMIT 1`,
		bookID, string(jobType), s.staleAfter.Seconds())

	var rec Record
	var stale bool
	err := row.Scan(
		&rec.JobID, &rec.BookID, &rec.JobType, &rec.Status,
		&rec.TotalItems, &rec.CompletedItems, &rec.FailedItems,
		&rec.CurrentItem, &rec.LastCompletedItem, &rec.ProgressDetail,
		&rec.HeartbeatAt, &rec.StartedAt, &rec.CompletedAt, &rec.ErrorMessage,
		&stale,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest job for book %s: %w", bookID, err)
	}

	if stale {
		if err := s.failStale(ctx, rec.JobID); err != nil {
			return nil, err
		}
		return s.Get(ctx, rec.JobID)
	}
	return &rec, nil
}

// failStale re-checks staleness under a row lock and performs the running →
// failed transition. Idempotent: a competitor that already transitioned the
// row makes the re-check fail and this becomes a no-op.
func (s *PGStore) failStale(ctx context.Context, jobID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin stale tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var stale bool
	var lastCompleted *int
	err = tx.QueryRow(ctx, `
		SELECT (status = 'running' AND heartbeat_at IS NOT NULL
		        AND heartbeat_at < now() - make_interval(secs => $2)),
		       last_completed_item
		  FROM jobs
		 WHERE job_id = $1
		   FOR UPDATE`,
		jobID, s.staleAfter.Seconds()).Scan(&stale, &lastCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock job %s for stale check: %w", jobID, err)
	}
	if !stale {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		   SET status = 'failed', completed_at = now(), error_message = $2
		 WHERE job_id = $1`,
		jobID, staleMessage(lastCompleted)); err != nil {
		return fmt.Errorf("failed to fail stale job %s: %w", jobID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stale transition for job %s: %w", jobID, err)
	}

	s.logger.Warn("stale job failed", "job_id", jobID)
	return nil
}

func (s *PGStore) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return rec, nil
}

var _ Store = (*PGStore)(nil)
