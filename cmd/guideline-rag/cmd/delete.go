package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/admin"
	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/retriever"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <url>",
		Short: "Remove an indexed guideline page",
		Long: `Remove every chunk indexed for a URL and drop it from the
managed registry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDelete(cmd.Context(), cmd, cfg, args[0])
		},
	}

	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, cfg *config.Config, url string) error {
	logger := slog.Default()

	ret := retriever.New(cfg, logger)
	if err := ret.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	removed, err := ret.DeleteDocument(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", url, err)
	}

	registry := admin.NewRegistry(ret.BlobStore(), "", logger)
	if entry, ok := findByURL(ctx, registry, url); ok {
		if _, err := registry.Remove(ctx, entry.ID); err != nil && !apperr.IsNotFound(err) {
			logger.Warn("failed to remove managed URL", "url", url, "error", err)
		}
	}

	if removed == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No chunks indexed for %s\n", url)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks for %s\n", removed, url)
	return nil
}
