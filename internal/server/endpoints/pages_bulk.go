package endpoints

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/ingest"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/ocr"
	"github.com/tutorkit/primer/internal/svcctx"
)

// defaultBulkUploadCap bounds one bulk request when the config carries no cap.
const defaultBulkUploadCap = 200

// imageExts are the raw upload formats the canonicalizer can decode.
var imageExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "bmp": true, "tif": true, "tiff": true,
}

// BulkUploadResponse reports the upload outcome and the launched OCR job.
type BulkUploadResponse struct {
	JobID         string `json:"job_id"`
	PagesUploaded int    `json:"pages_uploaded"`
	TotalPages    int    `json:"total_pages"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// BulkUploadEndpoint handles POST /api/books/{book_id}/pages/bulk. It accepts
// either page images (assigned consecutive page numbers in upload order) or a
// single PDF whose pages are rendered to images. New pages are appended after
// the book's current highest page number.
type BulkUploadEndpoint struct{}

var _ api.Endpoint = (*BulkUploadEndpoint)(nil)

func (e *BulkUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/pages/bulk", e.handler
}

func (e *BulkUploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload pages and start bulk OCR
//	@Description	Uploads page images (or one PDF) and launches the OCR worker
//	@Tags			pages
//	@Accept			mpfd
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			files	formData	file	true	"Page images or a single PDF"
//	@Param			title	formData	string	false	"Book title (used when the book is new)"
//	@Param			grade	formData	string	false	"Grade level (used when the book is new)"
//	@Param			subject	formData	string	false	"Subject (used when the book is new)"
//	@Success		202		{object}	BulkUploadResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	LockBusyResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/pages/bulk [post]
func (e *BulkUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	const maxMemory = 500 << 20 // 500MB
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	ctx := r.Context()
	js := svcctx.JobsFrom(ctx)
	runner := svcctx.RunnerFrom(ctx)
	store := svcctx.BlobFrom(ctx)
	registry := svcctx.RegistryFrom(ctx)
	cfgMgr := svcctx.ConfigMgrFrom(ctx)
	logger := svcctx.LoggerFrom(ctx)
	if js == nil || runner == nil || store == nil || registry == nil || cfgMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	cfg := cfgMgr.Get()
	uploadCap := cfg.Pipeline.BulkUploadCap
	if uploadCap <= 0 {
		uploadCap = defaultBulkUploadCap
	}

	provider, err := registry.GetOCR(cfg.Defaults.OCRProvider)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("ocr provider %s unavailable: %v", cfg.Defaults.OCRProvider, err))
		return
	}

	// Validate everything we can before acquiring the job: file types, the
	// upload cap, and for PDFs the page count.
	isPDF := len(files) == 1 && strings.HasSuffix(strings.ToLower(files[0].Filename), ".pdf")
	var pdfPath string
	totalItems := len(files)
	if isPDF {
		pdfPath, err = saveTempPDF(files[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid PDF upload: %v", err))
			return
		}
		defer os.Remove(pdfPath)

		totalItems, err = ingest.PageCount(pdfPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid PDF: %v", err))
			return
		}
	} else {
		for _, fh := range files {
			ext := fileExt(fh.Filename)
			if !imageExts[ext] {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("file %s is not a supported page image", fh.Filename))
				return
			}
		}
	}
	if totalItems > uploadCap {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("upload of %d pages exceeds the limit of %d", totalItems, uploadCap))
		return
	}

	meta, err := books.Load(ctx, store, bookID)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		meta = books.NewMetadata(books.Book{
			BookID:  bookID,
			Title:   r.FormValue("title"),
			Grade:   r.FormValue("grade"),
			Subject: r.FormValue("subject"),
			Board:   r.FormValue("board"),
			Country: r.FormValue("country"),
		})
	}
	startPage := 1
	if existing := meta.PageNumbers(); len(existing) > 0 {
		startPage = existing[len(existing)-1] + 1
	}

	// The job is acquired before any store write; a failure during upload
	// releases it failed so no pending job leaks.
	rec, err := js.Acquire(ctx, bookID, jobs.TypeOCRBatch, totalItems)
	if err != nil {
		if writeLockBusy(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var pageNums []int
	if isPDF {
		pageNums, err = uploadPDFPages(ctx, store, meta, bookID, pdfPath, startPage)
	} else {
		pageNums, err = uploadImagePages(ctx, store, meta, bookID, files, startPage)
	}
	if err == nil {
		err = meta.Save(ctx, store)
	}
	if err != nil {
		if relErr := js.Release(ctx, rec.JobID, jobs.StatusFailed, err.Error()); relErr != nil && logger != nil {
			logger.Error("failed to release job after upload failure",
				"job_id", rec.JobID, "error", relErr)
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("upload failed: %v", err))
		return
	}

	worker := ocr.NewWorker(ocr.Config{
		Jobs:       js,
		Store:      store,
		Provider:   provider,
		Logger:     logger,
		Metrics:    svcctx.MetricsFrom(ctx),
		FlushEvery: cfg.Pipeline.FlushEvery,
	})
	runner.Launch(ctx, rec, func(ctx context.Context) error {
		return worker.Run(ctx, rec.JobID, bookID, pageNums)
	})

	writeJSON(w, http.StatusAccepted, BulkUploadResponse{
		JobID:         rec.JobID,
		PagesUploaded: len(pageNums),
		TotalPages:    len(meta.PageNumbers()),
		Status:        string(rec.Status),
		Message: fmt.Sprintf("uploaded %d pages starting at page %d; OCR started",
			len(pageNums), startPage),
	})
}

// saveTempPDF copies an uploaded PDF to a temp file so pdfcpu and the page
// renderer can seek in it.
func saveTempPDF(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "primer-upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// uploadPDFPages renders the PDF's pages and uploads each as a raw page
// image, recording the new pages in the metadata document.
func uploadPDFPages(ctx context.Context, store blob.Store, meta *books.Metadata, bookID, pdfPath string, startPage int) ([]int, error) {
	var pageNums []int
	_, err := ingest.SplitPDF(ctx, pdfPath, startPage, func(pageNum int, png []byte) error {
		rawKey := blob.RawPageKey(bookID, pageNum, "png")
		if err := store.UploadBytes(ctx, rawKey, png, "image/png"); err != nil {
			return fmt.Errorf("failed to upload page %d: %w", pageNum, err)
		}
		meta.SetPage(pageNum, books.PageMeta{
			RawImageKey: rawKey,
			Status:      books.PageUploaded,
			OCRStatus:   books.OCRPending,
		})
		pageNums = append(pageNums, pageNum)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Render order is concurrent; the worker wants ascending pages.
	sort.Ints(pageNums)
	return pageNums, nil
}

// uploadImagePages uploads page images in request order, assigning
// consecutive page numbers from startPage.
func uploadImagePages(ctx context.Context, store blob.Store, meta *books.Metadata, bookID string, files []*multipart.FileHeader, startPage int) ([]int, error) {
	pageNums := make([]int, 0, len(files))
	for i, fh := range files {
		pageNum := startPage + i

		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		rawKey := blob.RawPageKey(bookID, pageNum, fileExt(fh.Filename))
		if err := store.UploadBytes(ctx, rawKey, data, contentType); err != nil {
			return nil, fmt.Errorf("failed to upload page %d: %w", pageNum, err)
		}
		meta.SetPage(pageNum, books.PageMeta{
			RawImageKey: rawKey,
			Status:      books.PageUploaded,
			OCRStatus:   books.OCRPending,
		})
		pageNums = append(pageNums, pageNum)
	}
	return pageNums, nil
}

func fileExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func (e *BulkUploadEndpoint) Command(_ func() string) *cobra.Command {
	// No CLI mirror for multipart upload; use curl or the web client.
	return nil
}
