package main

import (
	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "primer",
	Short: "Teaching-guideline extraction pipeline for scanned textbooks",
	Long: `Primer ingests scanned school-textbook pages and produces per-topic
teaching guidelines for a downstream tutoring engine.

The pipeline includes:
  - Bulk page upload with canonical image conversion and OCR
  - Page-streaming guideline extraction with topic boundary detection
  - Per-subtopic guideline shards merged page by page
  - Finalization: name refinement, deduplication and database sync`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.primer/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "primer home directory (default: ~/.primer)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
