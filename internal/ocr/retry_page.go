package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/imaging"
	"github.com/tutorkit/primer/internal/jobs"
)

// ErrPageNotFound is returned by RetryPage for pages absent from the book's
// metadata document.
var ErrPageNotFound = errors.New("page not found in book metadata")

// RetryPage synchronously re-runs OCR for a single page. It refuses to run
// while any job is active on the book (the caller maps *LockBusyError to
// 409), rebuilds the canonical image if it went missing, and persists the
// updated page entry before returning. The failure outcome is persisted
// too, so repeated failed retries stay visible in the metadata document.
func (w *Worker) RetryPage(ctx context.Context, bookID string, pageNum int) (books.PageMeta, error) {
	var zero books.PageMeta

	latest, err := w.jobs.Latest(ctx, bookID, "")
	if err != nil {
		return zero, fmt.Errorf("failed to check active jobs: %w", err)
	}
	if latest != nil && latest.Status.Active() {
		return zero, &jobs.LockBusyError{
			BookID:      bookID,
			ActiveJobID: latest.JobID,
			JobType:     latest.JobType,
			StartedAt:   latest.StartedAt,
		}
	}

	meta, err := books.Load(ctx, w.store, bookID)
	if err != nil {
		return zero, fmt.Errorf("failed to load book metadata: %w", err)
	}
	pm, ok := meta.Page(pageNum)
	if !ok {
		return zero, fmt.Errorf("%w: page %d of book %s", ErrPageNotFound, pageNum, bookID)
	}

	canonical, err := w.ensureCanonical(ctx, bookID, pageNum, &pm)
	if err != nil {
		return zero, err
	}

	result, ocrErr := w.ocrPage(ctx, canonical, pageNum, nil)
	if ocrErr != nil {
		pm.OCRStatus = books.OCRFailed
		pm.OCRError = ocrErr.Error()
		meta.SetPage(pageNum, pm)
		if err := meta.Save(ctx, w.store); err != nil {
			w.logger.Warn("failed to persist retry failure",
				"book_id", bookID, "page", pageNum, "error", err)
		}
		return zero, fmt.Errorf("ocr retry failed: %w", ocrErr)
	}

	textKey := blob.PageTextKey(bookID, pageNum)
	if err := w.store.UploadBytes(ctx, textKey, []byte(result.Text), "text/plain; charset=utf-8"); err != nil {
		return zero, fmt.Errorf("failed to upload page text: %w", err)
	}

	pm.TextKey = textKey
	pm.Status = books.PageProcessed
	pm.OCRStatus = books.OCRCompleted
	pm.OCRError = ""
	meta.SetPage(pageNum, pm)
	if err := meta.Save(ctx, w.store); err != nil {
		return zero, fmt.Errorf("failed to save book metadata: %w", err)
	}

	w.logger.Info("page re-OCR succeeded", "book_id", bookID, "page", pageNum)
	return pm, nil
}

// ensureCanonical returns the canonical PNG for the page, regenerating it
// from the raw upload when the canonical object is missing.
func (w *Worker) ensureCanonical(ctx context.Context, bookID string, pageNum int, pm *books.PageMeta) ([]byte, error) {
	if pm.ImageKey != "" {
		data, err := w.store.DownloadBytes(ctx, pm.ImageKey)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("failed to download canonical image: %w", err)
		}
	}

	raw, err := w.store.DownloadBytes(ctx, pm.RawImageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download raw image %s: %w", pm.RawImageKey, err)
	}
	canonical, err := imaging.Canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical conversion of %s failed: %w", pm.RawImageKey, err)
	}

	imageKey := blob.PageImageKey(bookID, pageNum)
	if err := w.store.UploadBytes(ctx, imageKey, canonical, "image/png"); err != nil {
		return nil, fmt.Errorf("failed to upload canonical image: %w", err)
	}
	pm.ImageKey = imageKey
	return canonical, nil
}
