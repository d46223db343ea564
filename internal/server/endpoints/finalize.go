package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/extraction"
	"github.com/tutorkit/primer/internal/finalize"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/svcctx"
)

// FinalizeRequest configures a finalization run. AutoSyncToDB defaults to
// true; a nil pointer means "not specified".
type FinalizeRequest struct {
	AutoSyncToDB *bool `json:"auto_sync_to_db,omitempty"`
}

// FinalizeResponse reports the launched finalization job.
type FinalizeResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FinalizeEndpoint handles POST /api/books/{book_id}/finalize.
type FinalizeEndpoint struct{}

var _ api.Endpoint = (*FinalizeEndpoint)(nil)

func (e *FinalizeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/finalize", e.handler
}

func (e *FinalizeEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Finalize a book's extracted guidelines
//	@Description	Seals subtopics, refines names, merges duplicates and optionally syncs to postgres
//	@Tags			guidelines
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string			true	"Book ID"
//	@Param			body	body		FinalizeRequest	false	"Finalization options"
//	@Success		202		{object}	FinalizeResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	LockBusyResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/finalize [post]
func (e *FinalizeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	var req FinalizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	autoSync := req.AutoSyncToDB == nil || *req.AutoSyncToDB

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

	idx, err := gs.LoadIndex(ctx, bookID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("book %s has no guidelines index; run extraction first", bookID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cfg := cfgMgr.Get()
	client, err := registry.GetLLM(cfg.Defaults.LLMProvider)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("llm provider %s unavailable: %v", cfg.Defaults.LLMProvider, err))
		return
	}

	// A nil pool must become a nil interface, not an interface holding a
	// typed nil.
	var db finalize.DB
	if pool := svcctx.PoolFrom(ctx); pool != nil {
		db = pool
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
	fin := finalize.NewFinalizer(finalize.Config{
		Jobs:         js,
		Store:        store,
		Guidelines:   gs,
		Service:      svc,
		DB:           db,
		Logger:       svcctx.LoggerFrom(ctx),
		Metrics:      svcctx.MetricsFrom(ctx),
		RenameCap:    cfg.Pipeline.RenameContentCap,
		PreviewChars: cfg.Pipeline.DedupPreviewChars,
	})

	rec, err := js.Acquire(ctx, bookID, jobs.TypeFinalization, idx.SubtopicCount())
	if err != nil {
		if writeLockBusy(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runner.Launch(ctx, rec, func(ctx context.Context) error {
		return fin.Run(ctx, rec.JobID, bookID, autoSync)
	})

	msg := "finalization started"
	if autoSync {
		msg = "finalization started with database sync"
	}
	writeJSON(w, http.StatusAccepted, FinalizeResponse{
		JobID:   rec.JobID,
		Status:  string(rec.Status),
		Message: msg,
	})
}

func (e *FinalizeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "finalize <book-id>",
		Short: "Finalize a book's extracted guidelines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			autoSync := !noSync
			req := FinalizeRequest{AutoSyncToDB: &autoSync}
			var resp FinalizeResponse
			if err := client.Post(ctx, "/api/books/"+args[0]+"/finalize", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Skip the postgres sync step")
	return cmd
}
