// Package extraction runs the page-sequential guideline extraction pipeline:
// for each OCR'd page it summarizes, decides topic/subtopic boundaries,
// folds the page's teaching guidance into the matching shard, and keeps the
// guidelines index, page index and job progress current. Page failures are
// isolated; the job completes even when individual pages fail.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/errclass"
	"github.com/tutorkit/primer/internal/guidelines"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/metrics"
)

const (
	// boundaryConfidence is the fixed confidence recorded on page-index
	// entries written by the orchestrator.
	boundaryConfidence = 0.9
	// summaryFallbackTokens is how many whitespace tokens of page text
	// stand in for a failed minisummary call.
	summaryFallbackTokens = 60

	defaultRecentPages        = 5
	defaultPreviewChars       = 300
	defaultStabilityThreshold = 5
)

// Orchestrator processes extraction jobs.
type Orchestrator struct {
	jobs       jobs.Store
	store      blob.Store
	guidelines *guidelines.Store
	svc        *Service
	logger     *slog.Logger
	metrics    *metrics.Metrics

	recentPages        int
	previewChars       int
	stabilityThreshold int
}

// Config carries the orchestrator's dependencies. Logger, Metrics and the
// tuning knobs are optional.
type Config struct {
	Jobs       jobs.Store
	Store      blob.Store
	Guidelines *guidelines.Store
	Service    *Service
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	RecentPages        int
	PreviewChars       int
	StabilityThreshold int
}

// NewOrchestrator creates an extraction orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecentPages <= 0 {
		cfg.RecentPages = defaultRecentPages
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = defaultPreviewChars
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = defaultStabilityThreshold
	}
	return &Orchestrator{
		jobs:               cfg.Jobs,
		store:              cfg.Store,
		guidelines:         cfg.Guidelines,
		svc:                cfg.Service,
		logger:             logger,
		metrics:            cfg.Metrics,
		recentPages:        cfg.RecentPages,
		previewChars:       cfg.PreviewChars,
		stabilityThreshold: cfg.StabilityThreshold,
	}
}

// runState is the in-memory working set for one job. The job lock makes this
// worker the book's only writer, so documents are loaded once and written
// through as the loop advances.
type runState struct {
	book    books.Book
	idx     *guidelines.Index
	pageIdx *guidelines.PageIndex
	shards  map[string]*guidelines.Shard
}

// Run executes an acquired extraction job over pages [startPage, endPage].
// Per-page errors land in progress_detail and the loop continues; only a
// fault outside the loop (metadata or index load) releases the job failed.
// Re-running an already processed page merges into its shard again, so
// resume callers must start past the last completed page.
func (o *Orchestrator) Run(ctx context.Context, jobID, bookID string, startPage, endPage int) error {
	if err := o.jobs.Start(ctx, jobID); err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	log := o.logger.With("job_id", jobID, "book_id", bookID)
	log.Info("extraction started", "start_page", startPage, "end_page", endPage)

	st, err := o.loadState(ctx, bookID)
	if err != nil {
		o.release(ctx, jobID, jobs.StatusFailed, err.Error())
		return err
	}

	detail := jobs.NewProgressDetail()
	completed, failed := 0, 0
	var lastCompleted *int

	for pageNum := startPage; pageNum <= endPage; pageNum++ {
		// current_item first, so a crash mid-page leaves a usable
		// resume point behind.
		o.updateProgress(ctx, jobID, jobs.Progress{
			CurrentItem:       intPtr(pageNum),
			Completed:         completed,
			Failed:            failed,
			LastCompletedItem: lastCompleted,
		})

		if err := o.processPage(ctx, st, jobID, pageNum, detail); err != nil {
			failed++
			detail.SetPageError(pageNum, err)
			o.metrics.PageProcessed(string(jobs.TypeExtraction), "failed")
			log.Warn("page failed", "page", pageNum, "error", err,
				"error_type", errclass.Classify(err))
		} else {
			completed++
			lastCompleted = intPtr(pageNum)
			o.metrics.PageProcessed(string(jobs.TypeExtraction), "completed")
		}

		detailStr := detail.Encode()
		o.updateProgress(ctx, jobID, jobs.Progress{
			CurrentItem:       intPtr(pageNum),
			Completed:         completed,
			Failed:            failed,
			LastCompletedItem: lastCompleted,
			Detail:            &detailStr,
		})
	}

	o.release(ctx, jobID, jobs.StatusCompleted, "")
	log.Info("extraction finished", "completed", completed, "failed", failed,
		"subtopics", st.idx.SubtopicCount())
	return nil
}

// loadState loads the documents the loop works against. A failure here fails
// the whole job.
func (o *Orchestrator) loadState(ctx context.Context, bookID string) (*runState, error) {
	meta, err := books.Load(ctx, o.store, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book metadata: %w", err)
	}
	idx, err := o.guidelines.LoadOrCreateIndex(ctx, bookID)
	if err != nil {
		return nil, err
	}
	pageIdx, err := o.guidelines.LoadOrCreatePageIndex(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return &runState{
		book:    meta.Book,
		idx:     idx,
		pageIdx: pageIdx,
		shards:  make(map[string]*guidelines.Shard),
	}, nil
}

// processPage runs the per-page pipeline: text load, minisummary, context
// pack, boundary decision, shard create/merge, summaries, index updates,
// page guideline write, stability sweep. Any error is a per-page failure.
func (o *Orchestrator) processPage(ctx context.Context, st *runState, jobID string, pageNum int, detail *jobs.ProgressDetail) error {
	ref := Ref{BookID: st.book.BookID, Page: pageNum, JobID: jobID}

	text, err := o.loadPageText(ctx, st.book.BookID, pageNum)
	if err != nil {
		return err
	}

	summary, err := o.svc.Minisummary(ctx, ref, st.book, pageNum, text)
	if err != nil {
		summary = fallbackSummary(text)
		o.logger.Warn("minisummary failed, using page text head",
			"page", pageNum, "error", err)
	}

	pack := o.buildContextPack(ctx, st, pageNum)

	dec, err := o.svc.DetectBoundary(ctx, ref, pack, text)
	if err != nil {
		return fmt.Errorf("boundary detection failed: %w", err)
	}
	o.logger.Debug("boundary decision", "page", pageNum, "new_topic", dec.IsNewTopic,
		"topic", dec.TopicKey, "subtopic", dec.SubtopicKey, "reasoning", dec.Reasoning)

	sh, created, err := o.applyDecision(ctx, st, ref, dec, pageNum)
	if err != nil {
		return err
	}
	if created {
		detail.Stats["subtopics_created"]++
	} else {
		detail.Stats["subtopics_merged"]++
	}

	oneLiner, err := o.svc.SubtopicSummary(ctx, ref, sh.SubtopicTitle, sh.Guidelines)
	if err != nil || oneLiner == "" {
		oneLiner = sh.SubtopicTitle + " — teaching guidelines"
		o.logger.Warn("subtopic summary failed, using title",
			"subtopic", sh.SubtopicKey, "error", err)
	}
	sh.SubtopicSummary = oneLiner

	if err := o.guidelines.SaveShard(ctx, st.book.BookID, sh); err != nil {
		return err
	}
	st.shards[shardCacheKey(sh.TopicKey, sh.SubtopicKey)] = sh

	st.idx.Upsert(sh, guidelines.StatusOpen)
	o.refreshTopicSummary(ctx, st, ref, sh.TopicKey)

	st.pageIdx.Set(pageNum, guidelines.PageAssignment{
		TopicKey:    sh.TopicKey,
		SubtopicKey: sh.SubtopicKey,
		Confidence:  boundaryConfidence,
		Provisional: false,
	})

	// Sweep before the saves so stability changes land in the same index
	// version as the page that aged them out.
	o.sweepStability(st, pageNum)

	if err := o.guidelines.SaveIndex(ctx, st.idx); err != nil {
		return err
	}
	if err := o.guidelines.SavePageIndex(ctx, st.pageIdx); err != nil {
		return err
	}

	return o.guidelines.SavePageGuideline(ctx, st.book.BookID, &guidelines.PageGuideline{
		Page:        pageNum,
		Summary:     summary,
		TopicKey:    sh.TopicKey,
		SubtopicKey: sh.SubtopicKey,
	})
}

// applyDecision creates or merges the shard the boundary decision targets.
// A continuation whose shard is missing degrades to the create path; a
// "new" subtopic whose shard already exists merges instead of overwriting.
func (o *Orchestrator) applyDecision(ctx context.Context, st *runState, ref Ref, dec *BoundaryDecision, pageNum int) (*guidelines.Shard, bool, error) {
	existing, err := o.shard(ctx, st, dec.TopicKey, dec.SubtopicKey)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return nil, false, err
	}

	if existing == nil {
		if !dec.IsNewTopic {
			o.logger.Warn("continuation target missing, creating shard",
				"topic", dec.TopicKey, "subtopic", dec.SubtopicKey, "page", pageNum)
		}
		sh := guidelines.NewShard(dec.TopicKey, dec.TopicTitle,
			dec.SubtopicKey, dec.SubtopicTitle, pageNum, dec.PageGuidelines)
		return sh, true, nil
	}

	if dec.IsNewTopic {
		o.logger.Warn("new subtopic collides with existing shard, merging",
			"topic", dec.TopicKey, "subtopic", dec.SubtopicKey, "page", pageNum)
	}

	merged, err := o.svc.MergeGuidelines(ctx, ref, MergeInput{
		TopicTitle:    existing.TopicTitle,
		SubtopicTitle: existing.SubtopicTitle,
		Existing:      existing.Guidelines,
		Incoming:      dec.PageGuidelines,
	})
	if err != nil {
		merged = existing.Guidelines + "\n\n" + dec.PageGuidelines
		o.logger.Warn("guideline merge failed, concatenating",
			"subtopic", dec.SubtopicKey, "page", pageNum, "error", err)
	}
	existing.Guidelines = merged
	existing.AddPage(pageNum)
	return existing, false, nil
}

// refreshTopicSummary regenerates the topic-level summary from the index's
// subtopic summaries. Failures keep the previous summary.
func (o *Orchestrator) refreshTopicSummary(ctx context.Context, st *runState, ref Ref, topicKey string) {
	t, ok := st.idx.Topic(topicKey)
	if !ok {
		return
	}

	summaries := make([]string, 0, len(t.Subtopics))
	for _, s := range t.Subtopics {
		if s.SubtopicSummary != "" {
			summaries = append(summaries, s.SubtopicSummary)
		}
	}

	sum, err := o.svc.TopicSummary(ctx, ref, t.TopicTitle, summaries)
	if err != nil || sum == "" {
		o.logger.Warn("topic summary failed, keeping previous",
			"topic", topicKey, "error", err)
		return
	}
	t.TopicSummary = sum
}

// sweepStability marks open subtopics stable once the current page has moved
// past them by the stability threshold.
func (o *Orchestrator) sweepStability(st *runState, pageNum int) {
	for _, as := range st.idx.ActiveSubtopics() {
		if as.Subtopic.Status != guidelines.StatusOpen {
			continue
		}
		if pageNum-as.Subtopic.PageRange.End >= o.stabilityThreshold {
			as.Subtopic.Status = guidelines.StatusStable
			o.logger.Debug("subtopic stable",
				"topic", as.Topic.TopicKey, "subtopic", as.Subtopic.SubtopicKey,
				"last_page", as.Subtopic.PageRange.End, "current_page", pageNum)
		}
	}
}

// loadPageText reads a page's OCR text from its canonical key, falling back
// to the legacy flat key. Empty text is an error so the page lands in
// page_errors rather than polluting the guidelines.
func (o *Orchestrator) loadPageText(ctx context.Context, bookID string, pageNum int) (string, error) {
	data, err := o.store.DownloadBytes(ctx, blob.PageTextKey(bookID, pageNum))
	if errors.Is(err, blob.ErrNotFound) {
		data, err = o.store.DownloadBytes(ctx, blob.AltPageTextKey(bookID, pageNum))
	}
	if errors.Is(err, blob.ErrNotFound) {
		return "", fmt.Errorf("page %d has no extracted text", pageNum)
	}
	if err != nil {
		return "", fmt.Errorf("failed to download page %d text: %w", pageNum, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("page %d text is empty", pageNum)
	}
	return text, nil
}

// shard returns the cached shard or loads it from the store. Errors pass
// through (including blob.ErrNotFound); only successful loads are cached.
func (o *Orchestrator) shard(ctx context.Context, st *runState, topicKey, subtopicKey string) (*guidelines.Shard, error) {
	key := shardCacheKey(topicKey, subtopicKey)
	if sh, ok := st.shards[key]; ok {
		return sh, nil
	}
	sh, err := o.guidelines.LoadShard(ctx, st.book.BookID, topicKey, subtopicKey)
	if err != nil {
		return nil, err
	}
	st.shards[key] = sh
	return sh, nil
}

func shardCacheKey(topicKey, subtopicKey string) string {
	return topicKey + "/" + subtopicKey
}

// fallbackSummary is the minisummary stand-in when the LLM call fails: the
// head of the page text, bounded by whitespace tokens.
func fallbackSummary(text string) string {
	fields := strings.Fields(text)
	if len(fields) > summaryFallbackTokens {
		fields = fields[:summaryFallbackTokens]
	}
	return strings.Join(fields, " ")
}

func (o *Orchestrator) updateProgress(ctx context.Context, jobID string, p jobs.Progress) {
	if err := o.jobs.UpdateProgress(ctx, jobID, p); err != nil {
		o.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) release(ctx context.Context, jobID string, status jobs.Status, errMsg string) {
	if err := o.jobs.Release(ctx, jobID, status, errMsg); err != nil {
		o.logger.Error("failed to release job",
			"job_id", jobID, "status", status, "error", err)
	}
}

func intPtr(v int) *int {
	return &v
}
