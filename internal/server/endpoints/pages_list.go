package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/svcctx"
)

// presignExpiry bounds how long a page image URL stays valid.
const presignExpiry = 15 * time.Minute

// PageSummary is one page's metadata plus a presigned image URL.
type PageSummary struct {
	Page      int    `json:"page"`
	Status    string `json:"status,omitempty"`
	OCRStatus string `json:"ocr_status"`
	OCRError  string `json:"ocr_error,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// PagesResponse lists a book's pages.
type PagesResponse struct {
	BookID string        `json:"book_id"`
	Book   books.Book    `json:"book"`
	Pages  []PageSummary `json:"pages"`
}

// ListPagesEndpoint handles GET /api/books/{book_id}/pages.
type ListPagesEndpoint struct{}

var _ api.Endpoint = (*ListPagesEndpoint)(nil)

func (e *ListPagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/pages", e.handler
}

func (e *ListPagesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List a book's pages
//	@Description	Page metadata summary with presigned image URLs
//	@Tags			pages
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Success		200		{object}	PagesResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/pages [get]
func (e *ListPagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	store := svcctx.BlobFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact store not initialized")
		return
	}
	logger := svcctx.LoggerFrom(r.Context())

	meta, err := books.Load(r.Context(), store, bookID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("book %s not found", bookID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := PagesResponse{
		BookID: bookID,
		Book:   meta.Book,
		Pages:  make([]PageSummary, 0, len(meta.Pages)),
	}
	for _, pageNum := range meta.PageNumbers() {
		pm, _ := meta.Page(pageNum)
		summary := PageSummary{
			Page:      pageNum,
			Status:    pm.Status,
			OCRStatus: string(pm.OCRStatus),
			OCRError:  pm.OCRError,
		}
		// Canonical image when OCR has run, raw upload otherwise.
		imageKey := pm.ImageKey
		if imageKey == "" {
			imageKey = pm.RawImageKey
		}
		if imageKey != "" {
			url, err := store.PresignGet(r.Context(), imageKey, presignExpiry)
			if err != nil {
				if logger != nil {
					logger.Warn("failed to presign page image",
						"book_id", bookID, "page", pageNum, "error", err)
				}
			} else {
				summary.ImageURL = url
			}
		}
		resp.Pages = append(resp.Pages, summary)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPagesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "pages <book-id>",
		Short: "List a book's pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp PagesResponse
			if err := client.Get(ctx, "/api/books/"+args[0]+"/pages", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
