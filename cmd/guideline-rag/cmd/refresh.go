package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/admin"
	"github.com/auditkit/guideline-rag/internal/retriever"
	"github.com/auditkit/guideline-rag/internal/scrape"
)

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-crawl and reindex every registered URL",
		Long: `Re-crawl every enabled registered URL and reindex pages whose
content changed. Unchanged pages are skipped by content hash.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRefresh(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runRefresh(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
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

	registry := admin.NewRegistry(ret.BlobStore(), "", logger)
	tracker := admin.NewTracker()
	refresher := admin.NewRefresher(registry, tracker, scraper, ret, logger)

	enabled, err := registry.Enabled(ctx)
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No enabled URLs to refresh")
		return nil
	}

	bar := newRefreshBar(len(enabled))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if job := tracker.Current(); job != nil {
					_ = bar.Set(job.ProcessedURLs)
					if job.Status != admin.JobRunning {
						return
					}
				}
			}
		}
	}()

	job, err := refresher.RefreshAll(ctx)
	<-done
	_ = bar.Finish()
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d URLs: %d indexed, %d skipped, %d failed\n",
		job.TotalURLs, job.SuccessfulURLs, job.SkippedURLs, job.FailedURLs)
	for _, jobErr := range job.Errors {
		fmt.Fprintf(cmd.OutOrStdout(), "  failed %s: %s\n", jobErr.URL, jobErr.Error)
	}
	return nil
}

func newRefreshBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("refreshing"),
		progressbar.OptionSetItsString("urls"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
