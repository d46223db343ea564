// Package llmlog records LLM API calls to Postgres for traceability and
// cost accounting. Every orchestrator and finalizer call is captured with its
// prompt key, response, token usage, and outcome.
package llmlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorkit/primer/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int64     `json:"latency_ms"`

	// Context references
	BookID string `json:"book_id,omitempty"`
	Page   int    `json:"page,omitempty"` // 0 = not page-scoped
	JobID  string `json:"job_id,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Usage
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`

	// Response
	Response string `json:"response"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	// Context references (all optional)
	BookID string
	Page   int
	JobID  string

	// Prompt identification (required for traceability)
	PromptKey string
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		LatencyMs:    result.ExecutionTime.Milliseconds(),
		BookID:       opts.BookID,
		Page:         opts.Page,
		JobID:        opts.JobID,
		PromptKey:    opts.PromptKey,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		CostUSD:      result.CostUSD,
		Response:     result.Content,
		Success:      result.Success,
	}

	if !result.Success {
		call.Error = result.ErrorMessage
	}

	return call
}

// Recorder writes call records to the llm_calls table. A nil Recorder or one
// constructed without a pool drops records silently (blob-only dev mode).
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pool: pool, logger: logger}
}

// Record captures the outcome of an LLM call.
// Recording never fails the caller: errors are logged and dropped.
func (r *Recorder) Record(ctx context.Context, result *providers.ChatResult, opts RecordOptions) {
	if r == nil || r.pool == nil {
		return
	}
	r.RecordCall(ctx, FromChatResult(result, opts))
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(ctx context.Context, call *Call) {
	if r == nil || r.pool == nil || call == nil {
		return
	}

	// Records must survive job-context cancellation (failure paths record too).
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var page any
	if call.Page > 0 {
		page = call.Page
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO llm_calls (
			id, created_at, latency_ms, book_id, page, job_id,
			prompt_key, provider, model, input_tokens, output_tokens,
			cost_usd, response, success, error
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, '')::uuid,
			$7, $8, $9, $10, $11,
			$12, $13, $14, NULLIF($15, '')
		)`,
		call.ID, call.Timestamp, call.LatencyMs, call.BookID, page, call.JobID,
		call.PromptKey, call.Provider, call.Model, call.InputTokens, call.OutputTokens,
		call.CostUSD, call.Response, call.Success, call.Error)
	if err != nil {
		r.logger.Warn("failed to record llm call",
			"error", err,
			"prompt_key", call.PromptKey,
			"book_id", call.BookID)
	}
}
