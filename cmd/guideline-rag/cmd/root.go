// Package cmd provides the CLI commands for the guideline retrieval
// service.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/logging"
	"github.com/auditkit/guideline-rag/pkg/version"
)

var (
	configDir string
	debugMode bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the guideline-rag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guideline-rag",
		Short: "Hybrid retrieval service for content moderation guidelines",
		Long: `guideline-rag serves grounded answers over indexed policy pages.

It combines BM25 keyword search and vector similarity with reciprocal
rank fusion, and generates verdict-style answers from the retrieved
guideline excerpts.

Run 'guideline-rag serve' to start the HTTP API, or use the index,
search, and urls commands directly against the configured storage.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("guideline-rag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing guideline-rag.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newURLsCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.FilePath = cfg.Server.LogFile
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
