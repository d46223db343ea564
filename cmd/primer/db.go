package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/config"
	"github.com/tutorkit/primer/internal/home"
	"github.com/tutorkit/primer/internal/postgres"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Postgres container",
	Long: `Manage the managed Postgres container lifecycle.

In managed mode Postgres holds the job table, the LLM call log and the
synced teaching guidelines. The database runs in a Docker container with
data persisted to ~/.primer/postgres/.

Examples:
  primer db start    # Start the Postgres container
  primer db stop     # Stop the container (data preserved)
  primer db status   # Check container status
  primer db logs     # View container logs
  primer db migrate  # Apply pending schema migrations`,
}

var dbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Postgres container",
	Long: `Start the Postgres container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.

Data is persisted to ~/.primer/postgres/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDBManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting Postgres...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start postgres: %w", err)
		}

		fmt.Println("Postgres is running")
		return nil
	},
}

var dbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Postgres container",
	Long: `Stop the Postgres container.

This stops the container but preserves data. Use 'primer db start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDBManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping Postgres...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop postgres: %w", err)
		}

		fmt.Println("Postgres stopped")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Postgres container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDBManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case postgres.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			if err := mgr.WaitReady(ctx, 5*time.Second); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case postgres.StatusStopped:
			fmt.Printf("Status: %s (use 'primer db start' to start)\n", status)
		case postgres.StatusNotFound:
			fmt.Printf("Status: %s (use 'primer db start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var dbLogsTail string

var dbLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show Postgres container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDBManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, dbLogsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the Postgres container",
	Long: `Remove the Postgres container.

This stops and removes the container. Data in ~/.primer/postgres/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDBManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing Postgres container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Postgres container removed (data preserved)")
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations to the configured database.

'primer serve' migrates automatically on startup; this command exists
for external databases and for checking what a deploy would do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pgCfg := postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.PostgresPassword(),
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}
		if err := postgres.Migrate(ctx, pgCfg.DSN(), nil); err != nil {
			return err
		}

		fmt.Println("Migrations applied")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStartCmd)
	dbCmd.AddCommand(dbStopCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbLogsCmd)
	dbCmd.AddCommand(dbRemoveCmd)
	dbCmd.AddCommand(dbMigrateCmd)

	dbLogsCmd.Flags().StringVar(&dbLogsTail, "tail", "100", "Number of lines to show from the end")

	rootCmd.AddCommand(dbCmd)
}

// loadConfig builds the home dir and effective config the way serve does.
func loadConfig() (*home.Dir, *config.Config, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, fmt.Errorf("failed to create home directory: %w", err)
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, nil, err
	}
	return h, mgr.Get(), nil
}

// getDBManager creates a DockerManager from the effective config.
func getDBManager() (*postgres.DockerManager, error) {
	h, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return postgres.NewDockerManager(postgres.DockerConfig{
		ContainerName: cfg.Postgres.ContainerName,
		Image:         cfg.Postgres.Image,
		DataPath:      h.PostgresDataPath(),
		Conn: postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.PostgresPassword(),
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		},
	})
}
