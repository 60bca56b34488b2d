package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/admin"
	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/retriever"
	"github.com/auditkit/guideline-rag/internal/scrape"
)

func newIndexCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "index <url>",
		Short: "Scrape and index a guideline page",
		Long: `Scrape a guideline page and index it for retrieval.

Existing chunks for the URL are replaced. The URL is also added to the
managed registry so scheduled refreshes keep it current.

Examples:
  guideline-rag index https://example.com/policies/harassment
  guideline-rag index --name "Harassment Policy" https://example.com/policies/harassment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), cmd, cfg, args[0], name)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the managed URL (defaults to the page title)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, url, name string) error {
	logger := slog.Default()

	ret := retriever.New(cfg, logger)
	if err := ret.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	scraper := scrape.New(scrape.Config{
		UserAgent:         cfg.Scrape.UserAgent,
		Timeout:           cfg.Scrape.Timeout,
		MinContentChars:   cfg.Scrape.MinContentChars,
		RequestsPerSecond: cfg.Scrape.RequestsPerSecond,
	}, logger)

	page, err := scraper.Scrape(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", url, err)
	}

	title := name
	if title == "" {
		title = page.Title
	}

	// Replace, not accumulate: drop previous chunks for this URL.
	if _, err := ret.DeleteDocument(ctx, url); err != nil {
		return fmt.Errorf("failed to remove existing chunks: %w", err)
	}

	chunks, err := ret.IndexDocument(ctx, retriever.Document{
		URL:         url,
		Title:       title,
		Content:     page.Content,
		ContentType: chunk.ContentTypeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", url, err)
	}

	registry := admin.NewRegistry(ret.BlobStore(), "", logger)
	if _, err := registry.Add(ctx, title, url); err != nil && !isDuplicate(err) {
		logger.Warn("failed to register managed URL", "url", url, "error", err)
	}
	if entry, ok := findByURL(ctx, registry, url); ok {
		hash := admin.ContentHash(page.Content)
		if err := registry.UpdateStatus(ctx, entry.ID, admin.StatusSuccess, "", hash); err != nil {
			logger.Warn("failed to update index status", "url", url, "error", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %q (%s): %d chunks\n", title, url, chunks)
	return nil
}

// isDuplicate reports whether registering the URL failed because it is
// already managed.
func isDuplicate(err error) bool {
	return apperr.KindOf(err) == apperr.KindInvalid
}

func findByURL(ctx context.Context, registry *admin.Registry, url string) (admin.ManagedURL, bool) {
	urls, err := registry.List(ctx)
	if err != nil {
		return admin.ManagedURL{}, false
	}
	for _, u := range urls {
		if u.URL == url {
			return u, true
		}
	}
	return admin.ManagedURL{}, false
}
