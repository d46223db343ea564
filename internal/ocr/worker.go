// Package ocr runs the bulk OCR pipeline: for each uploaded raw page it
// produces a canonical PNG and extracted text, keeping the book's page
// metadata and the job's progress record current as it goes. Page failures
// are isolated; the job completes even when individual pages fail.
package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/errclass"
	"github.com/tutorkit/primer/internal/imaging"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/metrics"
	"github.com/tutorkit/primer/internal/providers"
)

// defaultFlushEvery is how many pages are processed between metadata
// flushes. The document is also flushed once after the loop, so a P-page
// job writes it ⌊P/N⌋+1 times instead of P times.
const defaultFlushEvery = 5

// Worker processes bulk OCR jobs.
type Worker struct {
	jobs       jobs.Store
	store      blob.Store
	provider   providers.OCRProvider
	limiter    *providers.RateLimiter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	flushEvery int
}

// Config carries the worker's dependencies. Logger, Metrics and FlushEvery
// are optional.
type Config struct {
	Jobs       jobs.Store
	Store      blob.Store
	Provider   providers.OCRProvider
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	FlushEvery int
}

// NewWorker creates a bulk OCR worker. The provider's advertised request
// rate seeds a shared token-bucket limiter, so concurrent workers on the
// same Worker value share one budget.
func NewWorker(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flushEvery := cfg.FlushEvery
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}
	return &Worker{
		jobs:       cfg.Jobs,
		store:      cfg.Store,
		provider:   cfg.Provider,
		limiter:    providers.NewRateLimiterPerSecond(cfg.Provider.RequestsPerSecond()),
		logger:     logger,
		metrics:    cfg.Metrics,
		flushEvery: flushEvery,
	}
}

// Run executes an acquired ocr_batch job over the given pages, which must
// already exist as raw blobs. It transitions the job running → completed
// even when pages fail (per-page errors land in progress_detail); only a
// fault outside the per-page loop releases the job failed.
func (w *Worker) Run(ctx context.Context, jobID, bookID string, pageNums []int) error {
	if err := w.jobs.Start(ctx, jobID); err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	log := w.logger.With("job_id", jobID, "book_id", bookID)
	log.Info("bulk OCR started", "pages", len(pageNums))

	meta, err := books.Load(ctx, w.store, bookID)
	if err != nil {
		err = fmt.Errorf("failed to load book metadata: %w", err)
		w.release(ctx, jobID, jobs.StatusFailed, err.Error())
		return err
	}

	detail := jobs.NewProgressDetail()
	completed, failed := 0, 0
	var lastCompleted *int

	for i, pageNum := range pageNums {
		// current_item first, so a crash mid-page leaves a usable
		// resume point behind.
		w.updateProgress(ctx, jobID, jobs.Progress{
			CurrentItem:       intPtr(pageNum),
			Completed:         completed,
			Failed:            failed,
			LastCompletedItem: lastCompleted,
		})

		if err := w.processPage(ctx, meta, bookID, pageNum, detail); err != nil {
			failed++
			detail.SetPageError(pageNum, err)
			detail.Stats["ocr_failed"] = failed
			w.metrics.PageProcessed(string(jobs.TypeOCRBatch), "failed")
			log.Warn("page failed", "page", pageNum, "error", err,
				"error_type", errclass.Classify(err))
		} else {
			completed++
			lastCompleted = intPtr(pageNum)
			detail.Stats["ocr_completed"] = completed
			w.metrics.PageProcessed(string(jobs.TypeOCRBatch), "completed")
		}

		detailStr := detail.Encode()
		w.updateProgress(ctx, jobID, jobs.Progress{
			CurrentItem:       intPtr(pageNum),
			Completed:         completed,
			Failed:            failed,
			LastCompletedItem: lastCompleted,
			Detail:            &detailStr,
		})

		if (i+1)%w.flushEvery == 0 {
			if err := meta.Save(ctx, w.store); err != nil {
				// The document is overwritten whole, so the next
				// flush covers this one.
				log.Warn("metadata flush failed", "error", err)
			} else {
				w.metrics.MetadataFlush()
			}
		}
	}

	if err := meta.Save(ctx, w.store); err != nil {
		err = fmt.Errorf("failed to save book metadata: %w", err)
		w.release(ctx, jobID, jobs.StatusFailed, err.Error())
		return err
	}
	w.metrics.MetadataFlush()

	w.release(ctx, jobID, jobs.StatusCompleted, "")
	log.Info("bulk OCR finished", "completed", completed, "failed", failed)
	return nil
}

// processPage runs the per-page pipeline: raw download, canonical
// conversion, canonical upload, OCR, text upload, in-memory metadata
// update. Any error is a per-page failure; the failure state is still
// recorded on the page's metadata entry.
func (w *Worker) processPage(ctx context.Context, meta *books.Metadata, bookID string, pageNum int, detail *jobs.ProgressDetail) error {
	pm, ok := meta.Page(pageNum)
	if !ok {
		return fmt.Errorf("page %d missing from metadata", pageNum)
	}

	fail := func(err error) error {
		pm.OCRStatus = books.OCRFailed
		pm.OCRError = err.Error()
		meta.SetPage(pageNum, pm)
		return err
	}

	raw, err := w.store.DownloadBytes(ctx, pm.RawImageKey)
	if err != nil {
		return fail(fmt.Errorf("failed to download raw image %s: %w", pm.RawImageKey, err))
	}

	canonical, err := imaging.Canonicalize(raw)
	if err != nil {
		return fail(fmt.Errorf("canonical conversion of %s failed: %w", pm.RawImageKey, err))
	}

	imageKey := blob.PageImageKey(bookID, pageNum)
	if err := w.store.UploadBytes(ctx, imageKey, canonical, "image/png"); err != nil {
		return fail(fmt.Errorf("failed to upload canonical image: %w", err))
	}
	pm.ImageKey = imageKey
	meta.SetPage(pageNum, pm)

	result, err := w.ocrPage(ctx, canonical, pageNum, detail)
	if err != nil {
		return fail(fmt.Errorf("ocr failed: %w", err))
	}

	textKey := blob.PageTextKey(bookID, pageNum)
	if err := w.store.UploadBytes(ctx, textKey, []byte(result.Text), "text/plain; charset=utf-8"); err != nil {
		return fail(fmt.Errorf("failed to upload page text: %w", err))
	}

	pm.TextKey = textKey
	pm.Status = books.PageProcessed
	pm.OCRStatus = books.OCRCompleted
	pm.OCRError = ""
	meta.SetPage(pageNum, pm)
	return nil
}

// ocrPage calls the OCR provider under the shared rate limiter, retrying
// transient failures up to the provider's attempt budget with exponential
// backoff off its base delay. Terminal failures (bad image data, auth) are
// not retried.
func (w *Worker) ocrPage(ctx context.Context, image []byte, pageNum int, detail *jobs.ProgressDetail) (*providers.OCRResult, error) {
	attempts := w.provider.MaxRetries()
	if attempts < 1 {
		attempts = 1
	}

	var result *providers.OCRResult
	err := retry.Do(
		func() error {
			if err := w.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			res, err := w.provider.ProcessImage(ctx, image, pageNum)
			w.metrics.OCRCall(w.provider.Name(), err == nil)
			if err != nil {
				if rle, ok := providers.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
					w.limiter.Record429(rle.RetryAfter)
				}
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(w.provider.RetryDelayBase()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errclass.Classify(err) == errclass.Retryable
		}),
		retry.OnRetry(func(n uint, err error) {
			// OnRetry also fires on the final failed attempt; only
			// count attempts that actually get retried.
			if detail != nil && int(n)+1 < attempts {
				detail.Stats["ocr_retries"]++
			}
			w.logger.Warn("ocr attempt failed",
				"page", pageNum, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Worker) updateProgress(ctx context.Context, jobID string, p jobs.Progress) {
	if err := w.jobs.UpdateProgress(ctx, jobID, p); err != nil {
		w.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
}

func (w *Worker) release(ctx context.Context, jobID string, status jobs.Status, errMsg string) {
	if err := w.jobs.Release(ctx, jobID, status, errMsg); err != nil {
		w.logger.Error("failed to release job",
			"job_id", jobID, "status", status, "error", err)
	}
}

func intPtr(v int) *int {
	return &v
}
