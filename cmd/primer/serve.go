package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/config"
	"github.com/tutorkit/primer/internal/home"
	"github.com/tutorkit/primer/internal/server"
)

var (
	serveHost     string
	servePort     string
	serveLogLevel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Primer server",
	Long: `Start the Primer HTTP server.

This starts the HTTP API, the artifact store and, in managed mode, the
Postgres container. When the server shuts down (via Ctrl+C or SIGTERM),
in-flight jobs are drained and managed Postgres is stopped.

The server provides:
  - /health  - Basic server health check
  - /ready   - Readiness check (store + postgres)
  - /metrics - Prometheus metrics
  - /api/... - Pipeline endpoints (see 'primer api --help')

Examples:
  primer serve                    # Start on default port 8080
  primer serve --port 3000        # Start on custom port
  primer serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(serveLogLevel),
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Config file next to the store unless --config overrides it.
		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		mgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		mgr.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: mgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// parseLogLevel maps a --log-level value to a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config, 127.0.0.1)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config, 8080)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
}
