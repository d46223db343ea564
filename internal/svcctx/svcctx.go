// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/config"
	"github.com/tutorkit/primer/internal/guidelines"
	"github.com/tutorkit/primer/internal/home"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/llmlog"
	"github.com/tutorkit/primer/internal/metrics"
	"github.com/tutorkit/primer/internal/providers"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Jobs       jobs.Store
	Runner     *jobs.Runner
	Blob       blob.Store
	Guidelines *guidelines.Store
	Registry   *providers.Registry
	ConfigMgr  *config.Manager
	Metrics    *metrics.Metrics
	LLMLog     *llmlog.Recorder
	Pool       *pgxpool.Pool
	Home       *home.Dir
	Logger     *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// JobsFrom extracts the job store from context.
func JobsFrom(ctx context.Context) jobs.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Jobs
	}
	return nil
}

// RunnerFrom extracts the worker runner from context.
func RunnerFrom(ctx context.Context) *jobs.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// BlobFrom extracts the artifact store from context.
func BlobFrom(ctx context.Context) blob.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Blob
	}
	return nil
}

// GuidelinesFrom extracts the guideline store from context.
func GuidelinesFrom(ctx context.Context) *guidelines.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Guidelines
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ConfigMgrFrom extracts the config manager from context.
func ConfigMgrFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigMgr
	}
	return nil
}

// MetricsFrom extracts the metrics collector from context.
func MetricsFrom(ctx context.Context) *metrics.Metrics {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// LLMLogFrom extracts the LLM call recorder from context.
func LLMLogFrom(ctx context.Context) *llmlog.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.LLMLog
	}
	return nil
}

// PoolFrom extracts the postgres pool from context.
// Returns nil when the server runs without postgres.
func PoolFrom(ctx context.Context) *pgxpool.Pool {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pool
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
