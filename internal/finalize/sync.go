package finalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tutorkit/primer/internal/guidelines"
)

// DB is the transactional surface the sync step needs. *pgxpool.Pool
// satisfies it; tests substitute a recording implementation.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// guideline_reviews has no book_id column and no cascade; dependents are
// deleted through the guideline ids they reference.
const deleteReviewsSQL = `
	DELETE FROM guideline_reviews
	 WHERE guideline_id IN (SELECT id FROM teaching_guidelines WHERE book_id = $1)`

const deleteGuidelinesSQL = `
	DELETE FROM teaching_guidelines WHERE book_id = $1`

const insertGuidelineSQL = `
	INSERT INTO teaching_guidelines
	       (id, book_id, topic, subtopic, title, content, page_start, page_end, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'TO_BE_REVIEWED')
	RETURNING id`

// sync replaces the book's relational guideline rows with the finalized
// shards inside one transaction: dependents first, then the book's rows, then
// one insert per shard with a fresh UUID. Any error rolls the whole
// transaction back.
func (f *Finalizer) sync(ctx context.Context, bookID string, idx *guidelines.Index, shards map[string]*guidelines.Shard) (int, error) {
	if f.db == nil {
		return 0, errors.New("database sync requested but postgres is not configured")
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sync tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteReviewsSQL, bookID); err != nil {
		return 0, fmt.Errorf("failed to delete dependent reviews: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteGuidelinesSQL, bookID); err != nil {
		return 0, fmt.Errorf("failed to delete existing guidelines: %w", err)
	}

	rows := 0
	for _, as := range idx.AllSubtopics() {
		sh := shards[shardKey(as.Topic.TopicKey, as.Subtopic.SubtopicKey)]
		if sh == nil {
			f.logger.Warn("indexed subtopic has no shard, not synced",
				"topic", as.Topic.TopicKey, "subtopic", as.Subtopic.SubtopicKey)
			continue
		}

		var id string
		err := tx.QueryRow(ctx, insertGuidelineSQL,
			uuid.New().String(), bookID,
			sh.TopicKey, sh.SubtopicKey, sh.SubtopicTitle, sh.Guidelines,
			sh.SourcePageStart, sh.SourcePageEnd,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert guideline %s/%s: %w",
				sh.TopicKey, sh.SubtopicKey, err)
		}
		rows++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit sync: %w", err)
	}
	return rows, nil
}
