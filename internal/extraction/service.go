package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tutorkit/primer/internal/books"
	"github.com/tutorkit/primer/internal/llmlog"
	"github.com/tutorkit/primer/internal/metrics"
	"github.com/tutorkit/primer/internal/providers"
	"github.com/tutorkit/primer/internal/slug"
)

// Prompt keys recorded on every call. Keys shared with finalization live
// under guidelines.*.
const (
	promptKeyMinisummary     = "extraction.minisummary"
	promptKeyBoundary        = "extraction.boundary"
	promptKeyMerge           = "guidelines.merge"
	promptKeySubtopicSummary = "guidelines.subtopic_summary"
	promptKeyTopicSummary    = "guidelines.topic_summary"
)

// Ref ties an LLM call to the page and job it served, for the call log.
type Ref struct {
	BookID string
	Page   int
	JobID  string
}

// Service wraps an LLM client with the pipeline's call conventions: per-call
// timeout, generation parameters, metrics and call-log recording. Both the
// extraction orchestrator and finalization issue their calls through it.
type Service struct {
	client          providers.LLMClient
	recorder        *llmlog.Recorder
	metrics         *metrics.Metrics
	logger          *slog.Logger
	timeout         time.Duration
	temperature     float64
	reasoningEffort string
}

// ServiceConfig carries Service dependencies. Recorder, Metrics and Logger
// are optional.
type ServiceConfig struct {
	Client          providers.LLMClient
	Recorder        *llmlog.Recorder
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Timeout         time.Duration
	Temperature     float64
	ReasoningEffort string
}

// NewService creates an LLM service for guideline extraction.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:          cfg.Client,
		recorder:        cfg.Recorder,
		metrics:         cfg.Metrics,
		logger:          logger,
		timeout:         cfg.Timeout,
		temperature:     cfg.Temperature,
		reasoningEffort: cfg.ReasoningEffort,
	}
}

// Complete runs a plain-text completion and returns the trimmed content.
func (s *Service) Complete(ctx context.Context, ref Ref, promptKey string, msgs []providers.Message) (string, error) {
	req := s.newRequest(msgs, nil)
	start := time.Now()
	result, err := s.client.Chat(ctx, req)
	s.record(ctx, ref, promptKey, result, start)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Content), nil
}

// CompleteStructured runs a schema-constrained completion through the shared
// structured-output path (fence-tolerant parse, schema validation, one repair
// round) and decodes the validated JSON into out.
func (s *Service) CompleteStructured(ctx context.Context, ref Ref, promptKey string, msgs []providers.Message, schema map[string]any, out any) error {
	schemaRaw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to serialize %s schema: %w", promptKey, err)
	}

	req := s.newRequest(msgs, &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: schemaRaw,
	})

	start := time.Now()
	result, err := providers.ChatStructured(ctx, s.client, req)
	s.record(ctx, ref, promptKey, result, start)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result.ParsedJSON, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", promptKey, err)
	}
	return nil
}

func (s *Service) newRequest(msgs []providers.Message, rf *providers.ResponseFormat) *providers.ChatRequest {
	return &providers.ChatRequest{
		Messages:        msgs,
		Temperature:     s.temperature,
		Timeout:         s.timeout,
		ReasoningEffort: s.reasoningEffort,
		ResponseFormat:  rf,
	}
}

func (s *Service) record(ctx context.Context, ref Ref, promptKey string, result *providers.ChatResult, start time.Time) {
	dur := time.Since(start)
	if result == nil {
		s.metrics.LLMCall(s.client.Name(), promptKey, dur, 0, 0, false)
		return
	}
	s.metrics.LLMCall(result.Provider, promptKey, dur, result.PromptTokens, result.CompletionTokens, result.Success)
	s.recorder.Record(ctx, result, llmlog.RecordOptions{
		BookID:    ref.BookID,
		Page:      ref.Page,
		JobID:     ref.JobID,
		PromptKey: promptKey,
	})
}

// Minisummary produces the short extractive summary stored as the page's
// guideline document and fed to later pages' context packs.
func (s *Service) Minisummary(ctx context.Context, ref Ref, book books.Book, pageNum int, pageText string) (string, error) {
	msgs := []providers.Message{
		{Role: "system", Content: minisummarySystem},
		{Role: "user", Content: renderMinisummaryUser(book, pageNum, pageText)},
	}
	out, err := s.Complete(ctx, ref, promptKeyMinisummary, msgs)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("minisummary for page %d came back empty", pageNum)
	}
	return out, nil
}

// BoundaryDecision is the outcome of boundary detection with keys slugified
// and titles normalized.
type BoundaryDecision struct {
	IsNewTopic     bool
	TopicKey       string
	TopicTitle     string
	SubtopicKey    string
	SubtopicTitle  string
	PageGuidelines string
	Reasoning      string
}

// DetectBoundary decides whether the page continues an open subtopic or
// opens a new one, and extracts the page's teaching guidelines, in a single
// structured call.
func (s *Service) DetectBoundary(ctx context.Context, ref Ref, pack *ContextPack, pageText string) (*BoundaryDecision, error) {
	msgs := []providers.Message{
		{Role: "system", Content: boundarySystem},
		{Role: "user", Content: renderBoundaryUser(pack, pageText)},
	}

	var out boundaryResult
	if err := s.CompleteStructured(ctx, ref, promptKeyBoundary, msgs, BoundarySchema, &out); err != nil {
		return nil, err
	}

	topicKey := slug.Slugify(out.TopicName)
	subtopicKey := slug.Slugify(out.SubtopicName)
	if topicKey == "" || subtopicKey == "" {
		return nil, fmt.Errorf("boundary decision has unusable names: topic=%q subtopic=%q",
			out.TopicName, out.SubtopicName)
	}

	return &BoundaryDecision{
		IsNewTopic:     out.IsNewTopic,
		TopicKey:       topicKey,
		TopicTitle:     titleFor(out.TopicName, topicKey),
		SubtopicKey:    subtopicKey,
		SubtopicTitle:  titleFor(out.SubtopicName, subtopicKey),
		PageGuidelines: strings.TrimSpace(out.PageGuidelines),
		Reasoning:      strings.TrimSpace(out.Reasoning),
	}, nil
}

// MergeInput carries both sides of a guidelines merge.
type MergeInput struct {
	TopicTitle    string
	SubtopicTitle string
	Existing      string
	Incoming      string
}

// MergeGuidelines folds new page guidance into a subtopic's existing
// guidelines. Callers fall back to concatenation when it errors.
func (s *Service) MergeGuidelines(ctx context.Context, ref Ref, in MergeInput) (string, error) {
	msgs := []providers.Message{
		{Role: "system", Content: mergeSystem},
		{Role: "user", Content: renderMergeUser(in)},
	}
	out, err := s.Complete(ctx, ref, promptKeyMerge, msgs)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("merge for %s came back empty", in.SubtopicTitle)
	}
	return out, nil
}

// SubtopicSummary reduces a subtopic's guidelines to one line for the index.
func (s *Service) SubtopicSummary(ctx context.Context, ref Ref, title, guidelinesText string) (string, error) {
	msgs := []providers.Message{
		{Role: "system", Content: subtopicSummarySystem},
		{Role: "user", Content: renderSubtopicSummaryUser(title, guidelinesText)},
	}
	return s.Complete(ctx, ref, promptKeySubtopicSummary, msgs)
}

// TopicSummary condenses a topic's subtopic summaries into a short
// topic-level summary.
func (s *Service) TopicSummary(ctx context.Context, ref Ref, topicTitle string, subtopicSummaries []string) (string, error) {
	msgs := []providers.Message{
		{Role: "system", Content: topicSummarySystem},
		{Role: "user", Content: renderTopicSummaryUser(topicTitle, subtopicSummaries)},
	}
	return s.Complete(ctx, ref, promptKeyTopicSummary, msgs)
}

// titleFor keeps the model's name as the display title unless it already is
// the slug, in which case a title-cased form is derived from the key.
func titleFor(name, key string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == key {
		return slug.Deslugify(key)
	}
	return name
}
