package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/extraction"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/svcctx"
)

// GenerateGuidelinesRequest selects the page range to extract. All fields are
// optional: the default range is every page in the book's metadata, and
// resume starts after the latest extraction job's last completed page. An
// explicit start_page overrides resume.
type GenerateGuidelinesRequest struct {
	StartPage int  `json:"start_page,omitempty"`
	EndPage   int  `json:"end_page,omitempty"`
	Resume    bool `json:"resume,omitempty"`
}

// GenerateGuidelinesResponse reports the launched extraction job.
type GenerateGuidelinesResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	TotalPages int    `json:"total_pages"`
	Message    string `json:"message"`
}

// GenerateGuidelinesEndpoint handles POST /api/books/{book_id}/generate-guidelines.
type GenerateGuidelinesEndpoint struct{}

var _ api.Endpoint = (*GenerateGuidelinesEndpoint)(nil)

func (e *GenerateGuidelinesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/generate-guidelines", e.handler
}

func (e *GenerateGuidelinesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start guideline extraction for a book
//	@Description	Launches the page-sequential extraction pipeline over a page range
//	@Tags			guidelines
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string						true	"Book ID"
//	@Param			body	body		GenerateGuidelinesRequest	false	"Page range selection"
//	@Success		202		{object}	GenerateGuidelinesResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	LockBusyResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/generate-guidelines [post]
func (e *GenerateGuidelinesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	var req GenerateGuidelinesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx := r.Context()
	js := svcctx.JobsFrom(ctx)
	runner := svcctx.RunnerFrom(ctx)
	store := svcctx.BlobFrom(ctx)
	gs := svcctx.GuidelinesFrom(ctx)
	registry := svcctx.RegistryFrom(ctx)
	cfgMgr := svcctx.ConfigMgrFrom(ctx)
	if js == nil || runner == nil || store == nil || gs == nil || registry == nil || cfgMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	meta, err := books.Load(ctx, store, bookID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("book %s not found", bookID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pages := meta.PageNumbers()
	if len(pages) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("book %s has no uploaded pages", bookID))
		return
	}

	start, end := pages[0], pages[len(pages)-1]
	if req.Resume {
		latest, err := js.Latest(ctx, bookID, jobs.TypeExtraction)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if latest != nil && latest.LastCompletedItem != nil {
			start = *latest.LastCompletedItem + 1
		}
	}
	if req.StartPage > 0 {
		start = req.StartPage
	}
	if req.EndPage > 0 {
		end = req.EndPage
	}
	if start > end {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("start_page %d is past end_page %d; nothing to extract", start, end))
		return
	}
	totalPages := end - start + 1

	cfg := cfgMgr.Get()
	client, err := registry.GetLLM(cfg.Defaults.LLMProvider)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("llm provider %s unavailable: %v", cfg.Defaults.LLMProvider, err))
		return
	}

	svc := extraction.NewService(extraction.ServiceConfig{
		Client:          client,
		Recorder:        svcctx.LLMLogFrom(ctx),
		Metrics:         svcctx.MetricsFrom(ctx),
		Logger:          svcctx.LoggerFrom(ctx),
		Timeout:         cfg.Pipeline.LLMTimeout(),
		Temperature:     cfg.Pipeline.Temperature,
		ReasoningEffort: cfg.Pipeline.ReasoningEffort,
	})
	orc := extraction.NewOrchestrator(extraction.Config{
		Jobs:               js,
		Store:              store,
		Guidelines:         gs,
		Service:            svc,
		Logger:             svcctx.LoggerFrom(ctx),
		Metrics:            svcctx.MetricsFrom(ctx),
		RecentPages:        cfg.Pipeline.RecentPages,
		PreviewChars:       cfg.Pipeline.PreviewChars,
		StabilityThreshold: cfg.Pipeline.StabilityThreshold,
	})

	rec, err := js.Acquire(ctx, bookID, jobs.TypeExtraction, totalPages)
	if err != nil {
		if writeLockBusy(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runner.Launch(ctx, rec, func(ctx context.Context) error {
		return orc.Run(ctx, rec.JobID, bookID, start, end)
	})

	writeJSON(w, http.StatusAccepted, GenerateGuidelinesResponse{
		JobID:      rec.JobID,
		Status:     string(rec.Status),
		StartPage:  start,
		EndPage:    end,
		TotalPages: totalPages,
		Message:    fmt.Sprintf("guideline extraction started for pages %d-%d", start, end),
	})
}

func (e *GenerateGuidelinesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		startPage int
		endPage   int
		resume    bool
	)
	cmd := &cobra.Command{
		Use:   "generate-guidelines <book-id>",
		Short: "Start guideline extraction for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			req := GenerateGuidelinesRequest{
				StartPage: startPage,
				EndPage:   endPage,
				Resume:    resume,
			}
			var resp GenerateGuidelinesResponse
			if err := client.Post(ctx, "/api/books/"+args[0]+"/generate-guidelines", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&startPage, "start", 0, "First page to extract (default: first uploaded page)")
	cmd.Flags().IntVar(&endPage, "end", 0, "Last page to extract (default: last uploaded page)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume after the latest extraction job's last completed page")
	return cmd
}
