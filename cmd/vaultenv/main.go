package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/cmd/vaultenv/commands"
	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
		trace      bool
		timeout    time.Duration
	)

	// Create config placeholder
	cfg := &config.Config{}
	commands.Version = version

	rootCmd := &cobra.Command{
		Use:   "vaultenv",
		Short: "Browse Vault secrets and write them to .env files",
		Long: `vaultenv connects to one or more HashiCorp Vault servers, lets you browse
their kv and cubbyhole mounts, and appends selected secrets to .env files as
KEY=VALUE lines.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			logger := logging.New(debug, noColor)

			// Update config with parsed values
			cfg.Path = configFile
			cfg.Logger = logger
			cfg.Trace = trace
			cfg.Timeout = timeout
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "vaultenv.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "Print a span for every Vault call to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout of a single Vault operation")

	// Add commands
	rootCmd.AddCommand(
		commands.NewServersCommand(cfg),
		commands.NewValidateCommand(cfg),
		commands.NewLsCommand(cfg),
		commands.NewTreeCommand(cfg),
		commands.NewReadCommand(cfg),
		commands.NewWriteCommand(cfg),
		commands.NewBrowseCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
