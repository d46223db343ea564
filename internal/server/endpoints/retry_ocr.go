package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/ocr"
	"github.com/tutorkit/primer/internal/svcctx"
)

// RetryOCRResponse reports the page entry after a synchronous re-OCR.
type RetryOCRResponse struct {
	Page    int            `json:"page"`
	Meta    books.PageMeta `json:"meta"`
	Message string         `json:"message"`
}

// RetryOCREndpoint handles POST /api/books/{book_id}/pages/{page_num}/retry-ocr.
// The retry is synchronous and refuses to run while any job holds the book's
// lock, finalization included.
type RetryOCREndpoint struct{}

var _ api.Endpoint = (*RetryOCREndpoint)(nil)

func (e *RetryOCREndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/pages/{page_num}/retry-ocr", e.handler
}

func (e *RetryOCREndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Re-OCR a single page
//	@Description	Synchronously re-runs OCR for one page; refuses while any job is active on the book
//	@Tags			pages
//	@Produce		json
//	@Param			book_id		path		string	true	"Book ID"
//	@Param			page_num	path		int		true	"Page number"
//	@Success		200			{object}	RetryOCRResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	LockBusyResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/books/{book_id}/pages/{page_num}/retry-ocr [post]
func (e *RetryOCREndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}
	pageNum, err := strconv.Atoi(r.PathValue("page_num"))
	if err != nil || pageNum < 1 {
		writeError(w, http.StatusBadRequest, "page_num must be a positive integer")
		return
	}

	ctx := r.Context()
	js := svcctx.JobsFrom(ctx)
	store := svcctx.BlobFrom(ctx)
	registry := svcctx.RegistryFrom(ctx)
	cfgMgr := svcctx.ConfigMgrFrom(ctx)
	if js == nil || store == nil || registry == nil || cfgMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	cfg := cfgMgr.Get()
	provider, err := registry.GetOCR(cfg.Defaults.OCRProvider)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("ocr provider %s unavailable: %v", cfg.Defaults.OCRProvider, err))
		return
	}

	worker := ocr.NewWorker(ocr.Config{
		Jobs:     js,
		Store:    store,
		Provider: provider,
		Logger:   svcctx.LoggerFrom(ctx),
		Metrics:  svcctx.MetricsFrom(ctx),
	})

	pm, err := worker.RetryPage(ctx, bookID, pageNum)
	if err != nil {
		if writeLockBusy(w, err) {
			return
		}
		if errors.Is(err, ocr.ErrPageNotFound) || errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RetryOCRResponse{
		Page:    pageNum,
		Meta:    pm,
		Message: fmt.Sprintf("page %d re-OCR completed", pageNum),
	})
}

func (e *RetryOCREndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-ocr <book-id> <page>",
		Short: "Synchronously re-OCR a single page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := "/api/books/" + args[0] + "/pages/" + args[1] + "/retry-ocr"
			var resp RetryOCRResponse
			if err := client.Post(ctx, path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
