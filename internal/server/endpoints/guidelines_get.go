package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/guidelines"
	"github.com/tutorkit/primer/internal/svcctx"
)

// GetGuidelinesEndpoint handles GET /api/books/{book_id}/guidelines. It
// returns the guidelines index; readers may see intermediate states while an
// extraction job is writing.
type GetGuidelinesEndpoint struct{}

var _ api.Endpoint = (*GetGuidelinesEndpoint)(nil)

func (e *GetGuidelinesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/guidelines", e.handler
}

func (e *GetGuidelinesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a book's guidelines index
//	@Tags		guidelines
//	@Produce	json
//	@Param		book_id	path		string	true	"Book ID"
//	@Success	200		{object}	guidelines.Index
//	@Failure	404		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/api/books/{book_id}/guidelines [get]
func (e *GetGuidelinesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	gs := svcctx.GuidelinesFrom(r.Context())
	if gs == nil {
		writeError(w, http.StatusServiceUnavailable, "guideline store not initialized")
		return
	}

	idx, err := gs.LoadIndex(r.Context(), bookID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("book %s has no guidelines index", bookID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (e *GetGuidelinesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "guidelines <book-id>",
		Short: "Get a book's guidelines index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var idx guidelines.Index
			if err := client.Get(ctx, "/api/books/"+args[0]+"/guidelines", &idx); err != nil {
				return err
			}
			return api.Output(idx)
		},
	}
}
