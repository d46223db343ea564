package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/blob"
	"github.com/tutorkit/primer/internal/config"
	"github.com/tutorkit/primer/internal/guidelines"
	"github.com/tutorkit/primer/internal/home"
	"github.com/tutorkit/primer/internal/jobs"
	"github.com/tutorkit/primer/internal/llmlog"
	"github.com/tutorkit/primer/internal/metrics"
	"github.com/tutorkit/primer/internal/postgres"
	"github.com/tutorkit/primer/internal/providers"
	"github.com/tutorkit/primer/internal/server/endpoints"
	"github.com/tutorkit/primer/internal/svcctx"
)

// Server is the main Primer HTTP server.
// It owns the artifact store, the job store and the postgres lifecycle:
// when postgres is managed it starts the container on server start and
// stops it on shutdown.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	home       *home.Dir
	registry   *providers.Registry
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Populated during Start.
	pgManager *postgres.DockerManager
	pool      *pgxpool.Pool
	store     blob.Store
	jobStore  jobs.Store
	runner    *jobs.Runner

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	addr     string
	services *svcctx.Services
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the primer home directory (store root, postgres data, config).
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Home == nil {
		return nil, errors.New("server requires a home directory")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("server requires a config manager")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Explicit host/port win over config values.
	fileCfg := cfg.ConfigManager.Get()
	if cfg.Host == "" {
		cfg.Host = fileCfg.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = fileCfg.Server.Port
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)
	registry.Reload(fileCfg.ToProviderRegistryConfig())

	// Watch for config changes
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderRegistryConfig())
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		registry:  registry,
		metrics:   metrics.New(),
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: endpoints.GetSwaggerSpecPath()}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: s.withServices(mux),
		// Bulk page uploads can run to hundreds of megabytes.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server, the artifact store and postgres.
// It blocks until the context is cancelled or an error occurs.
// When postgres is unreachable and not managed, the server degrades to
// blob-only mode: artifacts still flow, job state lives in memory.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	cfg := s.configMgr.Get()

	store, err := s.buildStore(ctx, cfg)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to set up artifact store: %w", err)
	}
	s.store = store

	if err := s.startPostgres(ctx, cfg); err != nil {
		if s.pgManager != nil {
			_ = s.pgManager.Close()
		}
		s.setNotRunning()
		return err
	}

	staleAfter := cfg.Pipeline.StaleAfter()
	if s.pool != nil {
		s.jobStore = jobs.NewPGStore(s.pool, staleAfter, s.logger)
	} else {
		s.logger.Warn("running without postgres; job state is in-memory and lost on restart")
		s.jobStore = jobs.NewMemStore(staleAfter, s.logger)
	}
	s.runner = jobs.NewRunner(s.jobStore, s.logger, s.metrics)

	var recorder *llmlog.Recorder
	if s.pool != nil {
		recorder = llmlog.NewRecorder(s.pool, s.logger)
	}

	services := &svcctx.Services{
		Jobs:       s.jobStore,
		Runner:     s.runner,
		Blob:       s.store,
		Guidelines: guidelines.NewStore(guidelines.StoreConfig{Blob: s.store, Logger: s.logger, Snapshots: cfg.Pipeline.Snapshots}),
		Registry:   s.registry,
		ConfigMgr:  s.configMgr,
		Metrics:    s.metrics,
		LLMLog:     recorder,
		Pool:       s.pool,
		Home:       s.home,
		Logger:     s.logger,
	}
	s.mu.Lock()
	s.services = services
	s.mu.Unlock()

	// Listen before serving so Addr reports the bound port; tests use ":0".
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildStore constructs the artifact store named by config.
func (s *Server) buildStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Store.Backend {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:       cfg.Store.S3.Bucket,
			Region:       cfg.Store.S3.Region,
			Endpoint:     cfg.Store.S3.Endpoint,
			KeyPrefix:    cfg.Store.S3.Prefix,
			UsePathStyle: cfg.Store.S3.PathStyle,
		})
	case "memory":
		s.logger.Warn("using in-memory artifact store; uploads are lost on restart")
		return blob.NewMemStore(), nil
	case "", "fs":
		root := cfg.Store.Root
		if root == "" {
			root = s.home.StorePath()
		}
		return blob.NewFSStore(root)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// startPostgres brings up the database layer. Managed mode owns a Docker
// container and treats failures as fatal; external mode falls back to
// blob-only operation when the instance is unreachable.
func (s *Server) startPostgres(ctx context.Context, cfg *config.Config) error {
	pgCfg := postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.PostgresPassword(),
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
		Managed:  cfg.Postgres.Managed,
	}

	if cfg.Postgres.Managed {
		mgr, err := postgres.NewDockerManager(postgres.DockerConfig{
			ContainerName: cfg.Postgres.ContainerName,
			Image:         cfg.Postgres.Image,
			DataPath:      s.home.PostgresDataPath(),
			Conn:          pgCfg,
		})
		if err != nil {
			return fmt.Errorf("failed to create postgres manager: %w", err)
		}
		s.pgManager = mgr

		if err := mgr.ValidateExisting(ctx); err != nil {
			return fmt.Errorf("existing postgres container incompatible: %w", err)
		}
		s.logger.Info("starting postgres")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start postgres: %w", err)
		}
		if err := mgr.WaitReady(ctx, 30*time.Second); err != nil {
			return fmt.Errorf("postgres did not become ready: %w", err)
		}
	}

	pool, err := postgres.Connect(ctx, pgCfg, s.logger)
	if err != nil {
		if cfg.Postgres.Managed {
			return fmt.Errorf("failed to connect to managed postgres: %w", err)
		}
		s.logger.Warn("postgres unreachable; continuing in blob-only mode", "error", err)
		return nil
	}

	if err := postgres.Migrate(ctx, pgCfg.DSN(), s.logger); err != nil {
		pool.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.pool = pool
	return nil
}

// shutdown performs graceful shutdown: stop accepting requests, drain
// background workers, then release the database.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.runner != nil {
		if err := s.runner.Drain(shutdownCtx); err != nil {
			s.logger.Warn("background jobs still running at shutdown", "active", s.runner.ActiveCount())
		}
	}

	if s.pool != nil {
		s.pool.Close()
	}

	if s.pgManager != nil {
		s.logger.Info("stopping postgres")
		if err := s.pgManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("postgres stop error", "error", err)
		}
		if err := s.pgManager.Close(); err != nil {
			s.logger.Error("postgres manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound listen address once the server has started,
// and the configured address before that.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// JobStore returns the job store.
// Returns nil if the server hasn't started yet.
func (s *Server) JobStore() jobs.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.services == nil {
		return nil
	}
	return s.services.Jobs
}

// Store returns the artifact store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() blob.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.services == nil {
		return nil
	}
	return s.services.Blob
}

// Services returns the service set handed to request contexts.
// Returns nil if the server hasn't started yet.
func (s *Server) Services() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the stores and job runner are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ready := s.services != nil
		s.mu.RUnlock()
		if !ready {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
