package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/svcctx"
)

// LatestJobEndpoint handles GET /api/books/{book_id}/jobs/latest. Reading the
// latest job runs stale detection, so a worker that died mid-run is failed by
// the first poll that notices its heartbeat expired.
type LatestJobEndpoint struct{}

var _ api.Endpoint = (*LatestJobEndpoint)(nil)

func (e *LatestJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/jobs/latest", e.handler
}

func (e *LatestJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get the latest job for a book
//	@Description	Returns the most recent job record, or a null body when the book has none
//	@Tags			jobs
//	@Produce		json
//	@Param			book_id		path		string	true	"Book ID"
//	@Param			job_type	query		string	false	"Filter by job type (ocr_batch, extraction, finalization)"
//	@Success		200			{object}	jobs.Record
//	@Failure		400			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/books/{book_id}/jobs/latest [get]
func (e *LatestJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	jobType := jobs.JobType(r.URL.Query().Get("job_type"))
	if jobType != "" && !jobType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job_type %q", jobType))
		return
	}

	js := svcctx.JobsFrom(r.Context())
	if js == nil {
		writeError(w, http.StatusServiceUnavailable, "job store not initialized")
		return
	}

	rec, err := js.Latest(r.Context(), bookID, jobType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// No job yet is a null body, not a 404: the book may simply be new.
	writeJSON(w, http.StatusOK, rec)
}

func (e *LatestJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var jobType string
	cmd := &cobra.Command{
		Use:   "latest <book-id>",
		Short: "Get the latest job for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := "/api/books/" + args[0] + "/jobs/latest"
			if jobType != "" {
				path += "?job_type=" + jobType
			}
			var rec *jobs.Record
			if err := client.Get(ctx, path, &rec); err != nil {
				return err
			}
			if rec == nil {
				cmd.Println("no jobs for this book")
				return nil
			}
			return api.Output(rec)
		},
	}
	cmd.Flags().StringVar(&jobType, "job-type", "", "Filter by job type (ocr_batch, extraction, finalization)")
	return cmd
}

// GetJobEndpoint handles GET /api/books/{book_id}/jobs/{job_id}.
type GetJobEndpoint struct{}

var _ api.Endpoint = (*GetJobEndpoint)(nil)

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/jobs/{job_id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a job by ID
//	@Tags		jobs
//	@Produce	json
//	@Param		book_id	path		string	true	"Book ID"
//	@Param		job_id	path		string	true	"Job ID"
//	@Success	200		{object}	jobs.Record
//	@Failure	404		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/api/books/{book_id}/jobs/{job_id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	jobID := r.PathValue("job_id")
	if bookID == "" || jobID == "" {
		writeError(w, http.StatusBadRequest, "book id and job id are required")
		return
	}

	js := svcctx.JobsFrom(r.Context())
	if js == nil {
		writeError(w, http.StatusServiceUnavailable, "job store not initialized")
		return
	}

	rec, err := js.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// A job from another book is not this book's job.
	if rec.BookID != bookID {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "job <book-id> <job-id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var rec jobs.Record
			if err := client.Get(ctx, "/api/books/"+args[0]+"/jobs/"+args[1], &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}
