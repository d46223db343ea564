package guidelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tutorkit/primer/internal/blob"
)

// PageGuideline is the per-page minisummary document. It exists only as
// context for subsequent pages and reporting.
type PageGuideline struct {
	Page        int       `json:"page"`
	Summary     string    `json:"summary"`
	TopicKey    string    `json:"topic_key,omitempty"`
	SubtopicKey string    `json:"subtopic_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoreConfig configures a guidelines Store.
type StoreConfig struct {
	Blob   blob.Store
	Logger *slog.Logger
	// Snapshots enables best-effort copies of outgoing index versions under
	// the snapshots/ prefix before each overwrite.
	Snapshots bool
}

// Store persists shards, indices and page guidelines in the object store.
// It owns the index version counter and the snapshot policy. Single-writer
// discipline is the caller's job (the book's job lock).
type Store struct {
	blob      blob.Store
	logger    *slog.Logger
	snapshots bool
}

// NewStore creates a guidelines store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blob: cfg.Blob, logger: logger, snapshots: cfg.Snapshots}
}

// LoadIndex reads the book's guidelines index. Returns blob.ErrNotFound
// (wrapped) when the book has none yet.
func (s *Store) LoadIndex(ctx context.Context, bookID string) (*Index, error) {
	var idx Index
	if err := s.blob.DownloadJSON(ctx, blob.GuidelinesIndexKey(bookID), &idx); err != nil {
		return nil, fmt.Errorf("failed to load guidelines index for book %s: %w", bookID, err)
	}
	return &idx, nil
}

// LoadOrCreateIndex reads the index, or returns a fresh empty one if the
// book has never been indexed.
func (s *Store) LoadOrCreateIndex(ctx context.Context, bookID string) (*Index, error) {
	idx, err := s.LoadIndex(ctx, bookID)
	if errors.Is(err, blob.ErrNotFound) {
		return NewIndex(bookID), nil
	}
	return idx, err
}

// SaveIndex snapshots the outgoing version (best effort), bumps the version,
// stamps last_updated and overwrites the canonical key.
func (s *Store) SaveIndex(ctx context.Context, idx *Index) error {
	s.snapshotOutgoing(ctx, blob.GuidelinesIndexKey(idx.BookID), func(version int) string {
		return blob.IndexSnapshotKey(idx.BookID, version)
	})

	idx.Version++
	idx.LastUpdated = time.Now().UTC()
	if err := s.blob.UploadJSON(ctx, blob.GuidelinesIndexKey(idx.BookID), idx); err != nil {
		idx.Version--
		return fmt.Errorf("failed to save guidelines index for book %s: %w", idx.BookID, err)
	}
	return nil
}

// LoadPageIndex reads the page index; blob.ErrNotFound when absent.
func (s *Store) LoadPageIndex(ctx context.Context, bookID string) (*PageIndex, error) {
	var p PageIndex
	if err := s.blob.DownloadJSON(ctx, blob.PageIndexKey(bookID), &p); err != nil {
		return nil, fmt.Errorf("failed to load page index for book %s: %w", bookID, err)
	}
	if p.Pages == nil {
		p.Pages = make(map[string]PageAssignment)
	}
	return &p, nil
}

// LoadOrCreatePageIndex reads the page index or returns a fresh one.
func (s *Store) LoadOrCreatePageIndex(ctx context.Context, bookID string) (*PageIndex, error) {
	p, err := s.LoadPageIndex(ctx, bookID)
	if errors.Is(err, blob.ErrNotFound) {
		return NewPageIndex(bookID), nil
	}
	return p, err
}

// SavePageIndex mirrors SaveIndex for the page index.
func (s *Store) SavePageIndex(ctx context.Context, p *PageIndex) error {
	s.snapshotOutgoing(ctx, blob.PageIndexKey(p.BookID), func(version int) string {
		return blob.PageIndexSnapshotKey(p.BookID, version)
	})

	p.Version++
	p.LastUpdated = time.Now().UTC()
	if err := s.blob.UploadJSON(ctx, blob.PageIndexKey(p.BookID), p); err != nil {
		p.Version--
		return fmt.Errorf("failed to save page index for book %s: %w", p.BookID, err)
	}
	return nil
}

// snapshotOutgoing copies the current document at key to its snapshot path,
// keyed by the stored document's own version. Failures log and proceed; the
// primary write must never be blocked by snapshot trouble.
func (s *Store) snapshotOutgoing(ctx context.Context, key string, snapshotKey func(version int) string) {
	if !s.snapshots {
		return
	}

	data, err := s.blob.DownloadBytes(ctx, key)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("snapshot read failed", "key", key, "error", err)
		}
		return
	}

	var versioned struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &versioned); err != nil {
		s.logger.Warn("snapshot version parse failed", "key", key, "error", err)
		return
	}

	if err := s.blob.UploadBytes(ctx, snapshotKey(versioned.Version), data, "application/json"); err != nil {
		s.logger.Warn("snapshot write failed", "key", key, "version", versioned.Version, "error", err)
	}
}

// LoadShard reads one shard; blob.ErrNotFound when absent.
func (s *Store) LoadShard(ctx context.Context, bookID, topicKey, subtopicKey string) (*Shard, error) {
	var sh Shard
	if err := s.blob.DownloadJSON(ctx, blob.ShardKey(bookID, topicKey, subtopicKey), &sh); err != nil {
		return nil, fmt.Errorf("failed to load shard %s/%s for book %s: %w", topicKey, subtopicKey, bookID, err)
	}
	return &sh, nil
}

// SaveShard validates, bumps the version, stamps updated_at and overwrites
// the shard's canonical path. First save takes a shard from version 0 to 1.
func (s *Store) SaveShard(ctx context.Context, bookID string, sh *Shard) error {
	if err := sh.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid shard: %w", err)
	}
	sh.Version++
	sh.UpdatedAt = time.Now().UTC()
	if err := s.blob.UploadJSON(ctx, blob.ShardKey(bookID, sh.TopicKey, sh.SubtopicKey), sh); err != nil {
		sh.Version--
		return fmt.Errorf("failed to save shard %s/%s for book %s: %w", sh.TopicKey, sh.SubtopicKey, bookID, err)
	}
	return nil
}

// DeleteShard removes a shard's canonical path.
func (s *Store) DeleteShard(ctx context.Context, bookID, topicKey, subtopicKey string) error {
	if err := s.blob.Delete(ctx, blob.ShardKey(bookID, topicKey, subtopicKey)); err != nil {
		return fmt.Errorf("failed to delete shard %s/%s for book %s: %w", topicKey, subtopicKey, bookID, err)
	}
	return nil
}

// SavePageGuideline writes the per-page minisummary document.
func (s *Store) SavePageGuideline(ctx context.Context, bookID string, pg *PageGuideline) error {
	pg.CreatedAt = time.Now().UTC()
	if err := s.blob.UploadJSON(ctx, blob.PageGuidelineKey(bookID, pg.Page), pg); err != nil {
		return fmt.Errorf("failed to save page guideline %d for book %s: %w", pg.Page, bookID, err)
	}
	return nil
}

// LoadPageGuideline reads one page's minisummary; blob.ErrNotFound when the
// page was never processed.
func (s *Store) LoadPageGuideline(ctx context.Context, bookID string, page int) (*PageGuideline, error) {
	var pg PageGuideline
	if err := s.blob.DownloadJSON(ctx, blob.PageGuidelineKey(bookID, page), &pg); err != nil {
		return nil, fmt.Errorf("failed to load page guideline %d for book %s: %w", page, bookID, err)
	}
	return &pg, nil
}
