package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tutorkit/primer/internal/jobs"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// LockBusyResponse is the 409 body returned when a book's job lock is held.
type LockBusyResponse struct {
	Error     string    `json:"error"`
	JobType   string    `json:"job_type"`
	StartedAt time.Time `json:"started_at"`
}

// writeLockBusy maps a *jobs.LockBusyError to a 409 response. Returns false
// when err is some other error, leaving it for the caller to handle.
func writeLockBusy(w http.ResponseWriter, err error) bool {
	var lb *jobs.LockBusyError
	if !errors.As(err, &lb) {
		return false
	}
	writeJSON(w, http.StatusConflict, LockBusyResponse{
		Error:     lb.Error(),
		JobType:   string(lb.JobType),
		StartedAt: lb.StartedAt,
	})
	return true
}

// decodeBody decodes an optional JSON request body into v. An empty body is
// not an error; all listed fields stay at their zero values.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
