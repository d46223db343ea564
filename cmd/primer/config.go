package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutorkit/primer/internal/api"
	"github.com/tutorkit/primer/internal/config"
	"github.com/tutorkit/primer/internal/home"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage primer configuration",
	Long: `Manage the primer configuration file.

The config file lives at ~/.primer/config.yaml by default. API keys are
referenced with ${ENV_VAR} syntax and resolved from the environment at
load time, so secrets never live in the file itself.

Examples:
  primer config init    # Write a commented starter config
  primer config show    # Print the effective configuration`,
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and PRIMER_*
environment variables are applied. API keys are shown unresolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}

		path := cfgFile
		if path == "" && h.ConfigExists() {
			path = h.ConfigPath()
		}
		mgr, err := config.NewManager(path)
		if err != nil {
			return err
		}
		return api.Output(mgr.Get())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
