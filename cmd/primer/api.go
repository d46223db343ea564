package main

import (
	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Primer server via HTTP.

These commands require a running server (primer serve).
Use --server to specify a custom server URL.

Examples:
  primer api health                            # Check server health
  primer api books generate-guidelines <id>    # Start guideline extraction
  primer api jobs latest <book-id>             # Latest job for a book`,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job inspection commands",
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Book pipeline commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.MetricsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.LatestJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))

	// Books as subcommand group: the pipeline operations plus read surfaces
	booksCmd.AddCommand((&endpoints.GenerateGuidelinesEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.FinalizeEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.RetryOCREndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.GetGuidelinesEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ListPagesEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(booksCmd)
	rootCmd.AddCommand(apiCmd)
}
