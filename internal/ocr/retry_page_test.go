package ocr_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/ocr"
	"github.com/tutorkit/primer/internal/providers"
)

// seedFailedPage marks a page as previously failed, the state RetryPage
// exists to repair.
func seedFailedPage(t *testing.T, store blob.Store, bookID string, pageNum int) {
	t.Helper()
	ctx := context.Background()

	meta, err := books.Load(ctx, store, bookID)
	if err != nil {
		t.Fatal(err)
	}
	pm, ok := meta.Page(pageNum)
	if !ok {
		t.Fatalf("page %d not seeded", pageNum)
	}
	pm.OCRStatus = books.OCRFailed
	pm.OCRError = "ocr failed: 503 service unavailable"
	meta.SetPage(pageNum, pm)
	if err := meta.Save(ctx, store); err != nil {
		t.Fatal(err)
	}
}

func TestRetryPage(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	provider := providers.NewMockOCRProvider()
	w, _ := newTestWorker(store, provider)

	seedBook(t, store, "book-1", []int{1, 2})
	seedFailedPage(t, store, "book-1", 2)

	pm, err := w.RetryPage(ctx, "book-1", 2)
	if err != nil {
		t.Fatalf("RetryPage() error = %v", err)
	}
	if pm.OCRStatus != books.OCRCompleted {
		t.Errorf("ocr_status = %q, want completed", pm.OCRStatus)
	}
	if pm.OCRError != "" {
		t.Errorf("ocr_error = %q, want cleared", pm.OCRError)
	}
	if pm.ImageKey == "" || pm.TextKey == "" {
		t.Errorf("artifact keys not recorded: %+v", pm)
	}

	// The synchronous path persists immediately.
	meta, err := books.Load(ctx, store, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	saved, _ := meta.Page(2)
	if saved.OCRStatus != books.OCRCompleted {
		t.Errorf("persisted ocr_status = %q, want completed", saved.OCRStatus)
	}

	text, err := store.DownloadBytes(ctx, blob.PageTextKey("book-1", 2))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "mock OCR text") {
		t.Errorf("page text = %q", text)
	}
}

func TestRetryPageBlockedByActiveJob(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	provider := providers.NewMockOCRProvider()
	w, js := newTestWorker(store, provider)

	seedBook(t, store, "book-1", []int{1})

	// Any active job blocks the retry, finalization included.
	rec, err := js.Acquire(ctx, "book-1", jobs.TypeFinalization, 0)
	if err != nil {
		t.Fatal(err)
	}

	_, err = w.RetryPage(ctx, "book-1", 1)
	if !jobs.IsLockBusy(err) {
		t.Fatalf("expected LockBusyError, got %v", err)
	}

	// A terminal job releases the lock.
	if err := js.Release(ctx, rec.JobID, jobs.StatusFailed, "gave up"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.RetryPage(ctx, "book-1", 1); err != nil {
		t.Fatalf("RetryPage() after release error = %v", err)
	}
}

func TestRetryPageNotFound(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	provider := providers.NewMockOCRProvider()
	w, _ := newTestWorker(store, provider)

	seedBook(t, store, "book-1", []int{1})

	_, err := w.RetryPage(ctx, "book-1", 42)
	if !errors.Is(err, ocr.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestRetryPageReusesCanonicalImage(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(blob.NewMemStore())
	provider := providers.NewMockOCRProvider()
	w, _ := newTestWorker(store, provider)

	seedBook(t, store, "book-1", []int{1})

	// Materialize the canonical image up front, as a completed bulk run
	// would have.
	meta, err := books.Load(ctx, store, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	pm, _ := meta.Page(1)
	imageKey := blob.PageImageKey("book-1", 1)
	if err := store.UploadBytes(ctx, imageKey, rawPNG(t), "image/png"); err != nil {
		t.Fatal(err)
	}
	pm.ImageKey = imageKey
	meta.SetPage(1, pm)
	if err := meta.Save(ctx, store); err != nil {
		t.Fatal(err)
	}
	store.reset()

	if _, err := w.RetryPage(ctx, "book-1", 1); err != nil {
		t.Fatalf("RetryPage() error = %v", err)
	}

	if got := store.downloadCount(pm.RawImageKey); got != 0 {
		t.Errorf("raw image downloaded %d times, want 0", got)
	}
	if got := store.downloadCount(imageKey); got != 1 {
		t.Errorf("canonical image downloaded %d times, want 1", got)
	}
}

func TestRetryPagePersistsFailure(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	provider := providers.NewMockOCRProvider()
	provider.FailPage(1, errors.New("invalid image: cannot decode"))
	w, _ := newTestWorker(store, provider)

	seedBook(t, store, "book-1", []int{1})

	_, err := w.RetryPage(ctx, "book-1", 1)
	if err == nil {
		t.Fatal("expected error")
	}

	meta, err := books.Load(ctx, store, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	pm, _ := meta.Page(1)
	if pm.OCRStatus != books.OCRFailed {
		t.Errorf("ocr_status = %q, want failed", pm.OCRStatus)
	}
	if !strings.Contains(pm.OCRError, "cannot decode") {
		t.Errorf("ocr_error = %q", pm.OCRError)
	}
}
