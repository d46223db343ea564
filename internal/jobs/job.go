// Package jobs is the job-control substrate: a per-book lock, a four-state
// lifecycle, heartbeat-based stale detection and progress records. Every
// long-running pipeline (bulk OCR, extraction, finalization) runs under
// exactly one job here, and every state transition goes through a Store.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tutorkit/primer/internal/errclass"
)

// JobType identifies which pipeline owns a job.
type JobType string

const (
	TypeOCRBatch     JobType = "ocr_batch"
	TypeExtraction   JobType = "extraction"
	TypeFinalization JobType = "finalization"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case TypeOCRBatch, TypeExtraction, TypeFinalization:
		return true
	}
	return false
}

// Status is a job lifecycle state. Transitions are exactly
// pending → running → {completed, failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether s holds the book lock.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Record is a job row. Field names and JSON tags are the stable wire format
// returned by the jobs endpoints.
type Record struct {
	JobID             string     `json:"job_id"`
	BookID            string     `json:"book_id"`
	JobType           JobType    `json:"job_type"`
	Status            Status     `json:"status"`
	TotalItems        int        `json:"total_items"`
	CompletedItems    int        `json:"completed_items"`
	FailedItems       int        `json:"failed_items"`
	CurrentItem       *int       `json:"current_item"`
	LastCompletedItem *int       `json:"last_completed_item"`
	ProgressDetail    *string    `json:"progress_detail"`
	HeartbeatAt       *time.Time `json:"heartbeat_at"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	ErrorMessage      *string    `json:"error_message"`
}

// Clone returns a deep copy so callers can never alias store-internal state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.CurrentItem = cloneIntPtr(r.CurrentItem)
	cp.LastCompletedItem = cloneIntPtr(r.LastCompletedItem)
	cp.ProgressDetail = cloneStrPtr(r.ProgressDetail)
	cp.HeartbeatAt = cloneTimePtr(r.HeartbeatAt)
	cp.CompletedAt = cloneTimePtr(r.CompletedAt)
	cp.ErrorMessage = cloneStrPtr(r.ErrorMessage)
	return &cp
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Progress carries one absolute progress snapshot. Pointer fields are left
// unchanged on the record when nil.
type Progress struct {
	CurrentItem       *int
	Completed         int
	Failed            int
	LastCompletedItem *int
	Detail            *string
}

// ErrNotFound is returned by Get and Start for unknown job IDs.
var ErrNotFound = errors.New("jobs: job not found")

// LockBusyError reports an acquire attempt against a live active job. The
// HTTP layer maps it to 409.
type LockBusyError struct {
	BookID      string
	ActiveJobID string
	JobType     JobType
	StartedAt   time.Time
}

func (e *LockBusyError) Error() string {
	return fmt.Sprintf("book %s already has an active %s job (id %s, started %s)",
		e.BookID, e.JobType, e.ActiveJobID, e.StartedAt.UTC().Format(time.RFC3339))
}

// IsLockBusy reports whether err is (or wraps) a LockBusyError.
func IsLockBusy(err error) bool {
	var lb *LockBusyError
	return errors.As(err, &lb)
}

// staleMessage is the canned error_message written when a reader fails a
// job whose heartbeat expired. It names the resume point for operators.
func staleMessage(lastCompleted *int) string {
	if lastCompleted == nil {
		return "job interrupted: heartbeat expired before any item completed"
	}
	return fmt.Sprintf("job interrupted: heartbeat expired after item %d; resume from item %d",
		*lastCompleted, *lastCompleted+1)
}

// PageError is one page's failure entry inside progress detail.
type PageError struct {
	Error     string        `json:"error"`
	ErrorType errclass.Kind `json:"error_type"`
}

// ProgressDetail is the JSON document workers serialize into the job's
// progress_detail column: per-page errors plus running pipeline stats.
type ProgressDetail struct {
	PageErrors map[string]PageError `json:"page_errors"`
	Stats      map[string]int       `json:"stats"`
}

// NewProgressDetail returns an empty detail document.
func NewProgressDetail() *ProgressDetail {
	return &ProgressDetail{
		PageErrors: make(map[string]PageError),
		Stats:      make(map[string]int),
	}
}

// SetPageError records a classified failure for a page.
func (d *ProgressDetail) SetPageError(page int, err error) {
	d.PageErrors[fmt.Sprintf("%d", page)] = PageError{
		Error:     err.Error(),
		ErrorType: errclass.Classify(err),
	}
}

// Encode serializes the detail for UpdateProgress. Marshal failures cannot
// happen for this shape; Encode still degrades to "{}" rather than panic.
func (d *ProgressDetail) Encode() string {
	data, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DecodeProgressDetail parses a progress_detail column value.
func DecodeProgressDetail(s string) (*ProgressDetail, error) {
	var d ProgressDetail
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("failed to decode progress detail: %w", err)
	}
	if d.PageErrors == nil {
		d.PageErrors = make(map[string]PageError)
	}
	if d.Stats == nil {
		d.Stats = make(map[string]int)
	}
	return &d, nil
}
