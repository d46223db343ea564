// Package finalize seals a book's extracted guidelines: every open or stable
// subtopic is marked final, shard names are refined, duplicate subtopics are
// merged, topic summaries are regenerated, and the result is synced into the
// relational guidelines table in a single transaction.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/extraction"
	"github.com/tutorkit/primer/internal/guidelines"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/metrics"
	"github.com/tutorkit/primer/internal/providers"
	"github.com/tutorkit/primer/internal/slug"
)

const (
	promptKeyRename = "finalize.rename"
	promptKeyDedup  = "finalize.dedup"

	// defaultRenameCap bounds the guidelines text sent to name refinement.
	defaultRenameCap = 2000
	// defaultPreviewChars bounds the per-subtopic preview in the dedup prompt.
	defaultPreviewChars = 200
	// defaultLoadConcurrency bounds parallel shard loads before dedup.
	defaultLoadConcurrency = 8
)

// Finalizer processes finalization jobs.
type Finalizer struct {
	jobs       jobs.Store
	store      blob.Store
	guidelines *guidelines.Store
	svc        *extraction.Service
	db         DB
	logger     *slog.Logger
	metrics    *metrics.Metrics

	renameCap       int
	previewChars    int
	loadConcurrency int
}

// Config carries the finalizer's dependencies. DB may be nil when Postgres is
// not configured; sync requests then fail. Logger, Metrics and the tuning
// knobs are optional.
type Config struct {
	Jobs       jobs.Store
	Store      blob.Store
	Guidelines *guidelines.Store
	Service    *extraction.Service
	DB         DB
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	RenameCap       int
	PreviewChars    int
	LoadConcurrency int
}

// NewFinalizer creates a finalizer.
func NewFinalizer(cfg Config) *Finalizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RenameCap <= 0 {
		cfg.RenameCap = defaultRenameCap
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = defaultPreviewChars
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = defaultLoadConcurrency
	}
	return &Finalizer{
		jobs:            cfg.Jobs,
		store:           cfg.Store,
		guidelines:      cfg.Guidelines,
		svc:             cfg.Service,
		db:              cfg.DB,
		logger:          logger,
		metrics:         cfg.Metrics,
		renameCap:       cfg.RenameCap,
		previewChars:    cfg.PreviewChars,
		loadConcurrency: cfg.LoadConcurrency,
	}
}

// runState is the in-memory working set for one job. The job lock makes this
// worker the book's only writer.
type runState struct {
	book    books.Book
	idx     *guidelines.Index
	pageIdx *guidelines.PageIndex
	// shards is populated by the bulk load before dedup and kept current
	// through merges; the sync step reads it.
	shards map[string]*guidelines.Shard
}

// Run executes an acquired finalization job. Per-shard rename failures are
// isolated into progress detail; index load, dedup store faults and sync
// errors fail the job.
func (f *Finalizer) Run(ctx context.Context, jobID, bookID string, autoSync bool) error {
	if err := f.jobs.Start(ctx, jobID); err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	log := f.logger.With("job_id", jobID, "book_id", bookID)
	log.Info("finalization started", "auto_sync", autoSync)

	fail := func(err error) error {
		f.release(ctx, jobID, jobs.StatusFailed, err.Error())
		return err
	}

	st, err := f.loadState(ctx, bookID)
	if err != nil {
		return fail(err)
	}

	detail := jobs.NewProgressDetail()
	ref := extraction.Ref{BookID: bookID, JobID: jobID}

	sealed := markFinal(st.idx)
	log.Info("subtopics sealed", "count", sealed)

	completed, failed := f.renameAll(ctx, st, ref, jobID, detail)

	if err := f.dedupAll(ctx, st, ref, detail); err != nil {
		return fail(err)
	}

	f.refreshTopicSummaries(ctx, st, ref)

	if err := f.guidelines.SaveIndex(ctx, st.idx); err != nil {
		return fail(err)
	}
	if err := f.guidelines.SavePageIndex(ctx, st.pageIdx); err != nil {
		return fail(err)
	}

	if autoSync {
		rows, err := f.sync(ctx, bookID, st.idx, st.shards)
		if err != nil {
			return fail(fmt.Errorf("database sync failed: %w", err))
		}
		detail.Stats["synced_rows"] = rows
		log.Info("guidelines synced", "rows", rows)
	}

	detailStr := detail.Encode()
	f.updateProgress(ctx, jobID, jobs.Progress{
		Completed: completed,
		Failed:    failed,
		Detail:    &detailStr,
	})

	f.release(ctx, jobID, jobs.StatusCompleted, "")
	log.Info("finalization finished",
		"renamed", detail.Stats["renamed"],
		"duplicates_merged", detail.Stats["duplicates_merged"],
		"subtopics", st.idx.SubtopicCount())
	return nil
}

// loadState loads the documents the pass works against. A book with no
// guidelines index cannot be finalized.
func (f *Finalizer) loadState(ctx context.Context, bookID string) (*runState, error) {
	meta, err := books.Load(ctx, f.store, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book metadata: %w", err)
	}
	idx, err := f.guidelines.LoadIndex(ctx, bookID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("book %s has no guidelines index to finalize", bookID)
		}
		return nil, err
	}
	pageIdx, err := f.guidelines.LoadOrCreatePageIndex(ctx, bookID)
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

// markFinal seals every open or stable subtopic. needs_review entries keep
// their flag for the human pass.
func markFinal(idx *guidelines.Index) int {
	n := 0
	for _, as := range idx.AllSubtopics() {
		if as.Subtopic.Status == guidelines.StatusOpen || as.Subtopic.Status == guidelines.StatusStable {
			as.Subtopic.Status = guidelines.StatusFinal
			n++
		}
	}
	return n
}

// renameAll runs name refinement over every indexed shard with per-item
// progress. An item failure (shard unreadable, save failed) is recorded in
// progress detail and the loop continues.
func (f *Finalizer) renameAll(ctx context.Context, st *runState, ref extraction.Ref, jobID string, detail *jobs.ProgressDetail) (completed, failed int) {
	entries := st.idx.AllSubtopics()
	var lastCompleted *int

	for i, as := range entries {
		item := i + 1
		// current_item first, so a crash mid-shard leaves a usable
		// resume point behind.
		f.updateProgress(ctx, jobID, jobs.Progress{
			CurrentItem:       intPtr(item),
			Completed:         completed,
			Failed:            failed,
			LastCompletedItem: lastCompleted,
		})

		changed, err := f.renameShard(ctx, st, ref, as)
		if err != nil {
			failed++
			detail.SetPageError(item, err)
			f.metrics.PageProcessed(string(jobs.TypeFinalization), "failed")
			f.logger.Warn("shard rename failed",
				"topic", as.Topic.TopicKey, "subtopic", as.Subtopic.SubtopicKey, "error", err)
		} else {
			completed++
			lastCompleted = intPtr(item)
			f.metrics.PageProcessed(string(jobs.TypeFinalization), "completed")
			if changed {
				detail.Stats["renamed"]++
			}
		}

		detailStr := detail.Encode()
		f.updateProgress(ctx, jobID, jobs.Progress{
			CurrentItem:       intPtr(item),
			Completed:         completed,
			Failed:            failed,
			LastCompletedItem: lastCompleted,
			Detail:            &detailStr,
		})
	}
	return completed, failed
}

// renameShard asks for refined names and applies them. Key changes swap the
// shard to its new path before the index stops pointing at the old one, so a
// crash between the two leaves both paths readable; the old path is deleted
// last. LLM failures keep the current names and are not item failures.
func (f *Finalizer) renameShard(ctx context.Context, st *runState, ref extraction.Ref, as guidelines.ActiveSubtopic) (bool, error) {
	oldTopic, oldSub := as.Topic.TopicKey, as.Subtopic.SubtopicKey

	sh, err := f.guidelines.LoadShard(ctx, st.book.BookID, oldTopic, oldSub)
	if err != nil {
		return false, err
	}

	res, err := f.proposeNames(ctx, ref, st.book, sh)
	if err != nil {
		f.logger.Warn("name refinement failed, keeping names",
			"topic", oldTopic, "subtopic", oldSub, "error", err)
		return false, nil
	}

	newTopicKey := slug.Slugify(firstNonEmpty(res.TopicKey, res.TopicTitle))
	newSubKey := slug.Slugify(firstNonEmpty(res.SubtopicKey, res.SubtopicTitle))
	if newTopicKey == "" || newSubKey == "" {
		f.logger.Warn("name refinement produced unusable keys, keeping names",
			"topic", oldTopic, "subtopic", oldSub)
		return false, nil
	}
	newTopicTitle := displayTitle(res.TopicTitle, newTopicKey)
	newSubTitle := displayTitle(res.SubtopicTitle, newSubKey)

	keyChanged := newTopicKey != oldTopic || newSubKey != oldSub
	titleChanged := newTopicTitle != sh.TopicTitle || newSubTitle != sh.SubtopicTitle
	if !keyChanged && !titleChanged {
		return false, nil
	}
	if keyChanged {
		if _, exists := st.idx.Subtopic(newTopicKey, newSubKey); exists {
			f.logger.Warn("refined name collides with an existing subtopic, keeping names",
				"topic", oldTopic, "subtopic", oldSub,
				"proposed", newTopicKey+"/"+newSubKey)
			return false, nil
		}
	}

	sh.TopicKey, sh.TopicTitle = newTopicKey, newTopicTitle
	sh.SubtopicKey, sh.SubtopicTitle = newSubKey, newSubTitle

	if err := f.guidelines.SaveShard(ctx, st.book.BookID, sh); err != nil {
		return false, err
	}

	status := as.Subtopic.Status
	if keyChanged {
		st.idx.Remove(oldTopic, oldSub)
	}
	st.idx.Upsert(sh, status)
	if err := f.guidelines.SaveIndex(ctx, st.idx); err != nil {
		return false, err
	}

	if keyChanged {
		if n := st.pageIdx.Remap(oldTopic, oldSub, newTopicKey, newSubKey); n > 0 {
			if err := f.guidelines.SavePageIndex(ctx, st.pageIdx); err != nil {
				return false, err
			}
		}
		if err := f.guidelines.DeleteShard(ctx, st.book.BookID, oldTopic, oldSub); err != nil {
			f.logger.Warn("old shard path not deleted",
				"topic", oldTopic, "subtopic", oldSub, "error", err)
		}
		f.logger.Info("shard renamed",
			"from", oldTopic+"/"+oldSub, "to", newTopicKey+"/"+newSubKey)
	}
	return true, nil
}

func (f *Finalizer) proposeNames(ctx context.Context, ref extraction.Ref, book books.Book, sh *guidelines.Shard) (*renameResult, error) {
	msgs := []providers.Message{
		{Role: "system", Content: renameSystem},
		{Role: "user", Content: renderRenameUser(
			extraction.BookLine(book), sh.TopicTitle, sh.SubtopicTitle,
			sh.PageRange(), truncateRunes(sh.Guidelines, f.renameCap))},
	}
	var out renameResult
	if err := f.svc.CompleteStructured(ctx, ref, promptKeyRename, msgs, RenameSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// dedupAll loads every indexed shard, asks one structured call for duplicate
// pairs and folds each pair's second member into its first. A dedup LLM
// failure merges nothing; store faults fail the job.
func (f *Finalizer) dedupAll(ctx context.Context, st *runState, ref extraction.Ref, detail *jobs.ProgressDetail) error {
	if err := f.loadShards(ctx, st); err != nil {
		return err
	}
	if len(st.shards) < 2 {
		return nil
	}

	for _, p := range f.detectDuplicates(ctx, st, ref) {
		merged, err := f.mergePair(ctx, st, ref, p)
		if err != nil {
			return err
		}
		if merged {
			detail.Stats["duplicates_merged"]++
		}
	}
	return nil
}

// loadShards bulk-loads the shards behind every index entry with bounded
// concurrency. Entries whose shard is gone are logged and skipped.
func (f *Finalizer) loadShards(ctx context.Context, st *runState) error {
	entries := st.idx.AllSubtopics()
	loaded := make([]*guidelines.Shard, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.loadConcurrency)
	for i, as := range entries {
		g.Go(func() error {
			sh, err := f.guidelines.LoadShard(gctx, st.book.BookID,
				as.Topic.TopicKey, as.Subtopic.SubtopicKey)
			if errors.Is(err, blob.ErrNotFound) {
				f.logger.Warn("indexed shard missing",
					"topic", as.Topic.TopicKey, "subtopic", as.Subtopic.SubtopicKey)
				return nil
			}
			if err != nil {
				return err
			}
			loaded[i] = sh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load shards: %w", err)
	}

	for _, sh := range loaded {
		if sh != nil {
			st.shards[shardKey(sh.TopicKey, sh.SubtopicKey)] = sh
		}
	}
	return nil
}

func (f *Finalizer) detectDuplicates(ctx context.Context, st *runState, ref extraction.Ref) []dedupPair {
	entries := make([]dedupEntry, 0, len(st.shards))
	for _, as := range st.idx.AllSubtopics() {
		sh := st.shards[shardKey(as.Topic.TopicKey, as.Subtopic.SubtopicKey)]
		if sh == nil {
			continue
		}
		entries = append(entries, dedupEntry{
			TopicKey:      sh.TopicKey,
			TopicTitle:    sh.TopicTitle,
			SubtopicKey:   sh.SubtopicKey,
			SubtopicTitle: sh.SubtopicTitle,
			PageRange:     as.Subtopic.PageRange,
			Preview:       truncateRunes(sh.Guidelines, f.previewChars),
		})
	}
	if len(entries) < 2 {
		return nil
	}

	msgs := []providers.Message{
		{Role: "system", Content: dedupSystem},
		{Role: "user", Content: renderDedupUser(extraction.BookLine(st.book), entries)},
	}
	var out dedupResult
	if err := f.svc.CompleteStructured(ctx, ref, promptKeyDedup, msgs, DedupSchema, &out); err != nil {
		f.logger.Warn("duplicate detection failed, merging nothing", "error", err)
		return nil
	}
	return out.Pairs
}

// mergePair folds the pair's second subtopic into its first: guidelines
// merged, ranges unioned, summary regenerated, the second shard deleted and
// its index and page-index references rewritten. Unknown or already-consumed
// references are skipped.
func (f *Finalizer) mergePair(ctx context.Context, st *runState, ref extraction.Ref, p dedupPair) (bool, error) {
	t1, s1 := slug.Slugify(p.Topic1), slug.Slugify(p.Subtopic1)
	t2, s2 := slug.Slugify(p.Topic2), slug.Slugify(p.Subtopic2)
	if t1 == "" || s1 == "" || t2 == "" || s2 == "" || (t1 == t2 && s1 == s2) {
		f.logger.Warn("unusable duplicate pair skipped",
			"first", p.Topic1+"/"+p.Subtopic1, "second", p.Topic2+"/"+p.Subtopic2)
		return false, nil
	}

	e1, ok1 := st.idx.Subtopic(t1, s1)
	_, ok2 := st.idx.Subtopic(t2, s2)
	sh1 := st.shards[shardKey(t1, s1)]
	sh2 := st.shards[shardKey(t2, s2)]
	if !ok1 || !ok2 || sh1 == nil || sh2 == nil {
		f.logger.Warn("duplicate pair references unknown subtopics, skipped",
			"first", t1+"/"+s1, "second", t2+"/"+s2)
		return false, nil
	}

	merged, err := f.svc.MergeGuidelines(ctx, ref, extraction.MergeInput{
		TopicTitle:    sh1.TopicTitle,
		SubtopicTitle: sh1.SubtopicTitle,
		Existing:      sh1.Guidelines,
		Incoming:      sh2.Guidelines,
	})
	if err != nil {
		merged = sh1.Guidelines + "\n\n" + sh2.Guidelines
		f.logger.Warn("duplicate merge call failed, concatenating",
			"into", t1+"/"+s1, "error", err)
	}
	sh1.Guidelines = merged
	sh1.UnionRange(sh2)

	if sum, err := f.svc.SubtopicSummary(ctx, ref, sh1.SubtopicTitle, sh1.Guidelines); err == nil && sum != "" {
		sh1.SubtopicSummary = sum
	} else {
		f.logger.Warn("merged summary regeneration failed, keeping previous",
			"subtopic", s1, "error", err)
	}

	if err := f.guidelines.SaveShard(ctx, st.book.BookID, sh1); err != nil {
		return false, err
	}
	st.idx.Remove(t2, s2)
	st.idx.Upsert(sh1, e1.Status)
	if err := f.guidelines.SaveIndex(ctx, st.idx); err != nil {
		return false, err
	}
	if n := st.pageIdx.Remap(t2, s2, t1, s1); n > 0 {
		if err := f.guidelines.SavePageIndex(ctx, st.pageIdx); err != nil {
			return false, err
		}
	}
	if err := f.guidelines.DeleteShard(ctx, st.book.BookID, t2, s2); err != nil {
		f.logger.Warn("duplicate shard not deleted",
			"topic", t2, "subtopic", s2, "error", err)
	}
	delete(st.shards, shardKey(t2, s2))

	f.logger.Info("duplicate merged", "into", t1+"/"+s1, "from", t2+"/"+s2)
	return true, nil
}

// refreshTopicSummaries regenerates every topic's summary from its final
// subtopic summaries. Failures keep the previous summary.
func (f *Finalizer) refreshTopicSummaries(ctx context.Context, st *runState, ref extraction.Ref) {
	for _, t := range st.idx.Topics {
		summaries := make([]string, 0, len(t.Subtopics))
		for _, s := range t.Subtopics {
			if s.SubtopicSummary != "" {
				summaries = append(summaries, s.SubtopicSummary)
			}
		}
		sum, err := f.svc.TopicSummary(ctx, ref, t.TopicTitle, summaries)
		if err != nil || sum == "" {
			f.logger.Warn("topic summary failed, keeping previous",
				"topic", t.TopicKey, "error", err)
			continue
		}
		t.TopicSummary = sum
	}
}

func (f *Finalizer) updateProgress(ctx context.Context, jobID string, p jobs.Progress) {
	if err := f.jobs.UpdateProgress(ctx, jobID, p); err != nil {
		f.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
}

func (f *Finalizer) release(ctx context.Context, jobID string, status jobs.Status, errMsg string) {
	if err := f.jobs.Release(ctx, jobID, status, errMsg); err != nil {
		f.logger.Error("failed to release job",
			"job_id", jobID, "status", status, "error", err)
	}
}

func shardKey(topicKey, subtopicKey string) string {
	return topicKey + "/" + subtopicKey
}

// displayTitle keeps the proposed name as the display title unless it is
// empty or already the slug, in which case a title-cased form is derived.
func displayTitle(name, key string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == key {
		return slug.Deslugify(key)
	}
	return name
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// truncateRunes cuts s to at most n runes without splitting a code point.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func intPtr(v int) *int {
	return &v
}
