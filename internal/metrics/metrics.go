// Package metrics exposes Prometheus instrumentation for the pipeline: job
// lifecycle transitions, per-page outcomes, metadata flushes, and LLM/OCR
// call accounting. All record methods are safe on a nil receiver so code
// paths under test need no metrics wiring.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	jobsStarted     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	pagesProcessed  *prometheus.CounterVec
	metadataFlushes prometheus.Counter
	llmCalls        *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	ocrCalls        *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primer_jobs_started_total",
			Help: "Jobs acquired, by job type.",
		}, []string{"job_type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primer_jobs_finished_total",
			Help: "Jobs released to a terminal state, by job type and status.",
		}, []string{"job_type", "status"}),
		pagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primer_pages_processed_total",
			Help: "Pages processed by workers, by job type and outcome.",
		}, []string{"job_type", "outcome"}),
		metadataFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "primer_metadata_flushes_total",
			Help: "Page-metadata document flushes to the object store.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primer_llm_calls_total",
			Help: "LLM calls, by provider, prompt key and outcome.",
		}, []string{"provider", "prompt", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primer_llm_tokens_total",
			Help: "LLM token usage, by provider and direction.",
		}, []string{"provider", "direction"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "primer_llm_call_duration_seconds",
			Help:    "LLM call latency, by provider and prompt key.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider", "prompt"}),
		ocrCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primer_ocr_calls_total",
			Help: "OCR calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}

	reg.MustRegister(
		m.jobsStarted,
		m.jobsFinished,
		m.pagesProcessed,
		m.metadataFlushes,
		m.llmCalls,
		m.llmTokens,
		m.llmDuration,
		m.ocrCalls,
	)
	return m
}

// Handler serves this registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobStarted records a successful acquire.
func (m *Metrics) JobStarted(jobType string) {
	if m == nil {
		return
	}
	m.jobsStarted.WithLabelValues(jobType).Inc()
}

// JobFinished records a release to a terminal status.
func (m *Metrics) JobFinished(jobType, status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(jobType, status).Inc()
}

// PageProcessed records one page outcome ("completed" or "failed").
func (m *Metrics) PageProcessed(jobType, outcome string) {
	if m == nil {
		return
	}
	m.pagesProcessed.WithLabelValues(jobType, outcome).Inc()
}

// MetadataFlush records one flush of a page-metadata document.
func (m *Metrics) MetadataFlush() {
	if m == nil {
		return
	}
	m.metadataFlushes.Inc()
}

// LLMCall records one chat call with its latency and token usage.
func (m *Metrics) LLMCall(provider, promptKey string, dur time.Duration, promptTokens, completionTokens int, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.llmCalls.WithLabelValues(provider, promptKey, outcome).Inc()
	m.llmDuration.WithLabelValues(provider, promptKey).Observe(dur.Seconds())
	if promptTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "input").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "output").Add(float64(completionTokens))
	}
}

// OCRCall records one OCR call outcome.
func (m *Metrics) OCRCall(provider string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.ocrCalls.WithLabelValues(provider, outcome).Inc()
}
