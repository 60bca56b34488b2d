package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/admin"
	"github.com/auditkit/guideline-rag/internal/api"
	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/feedback"
	"github.com/auditkit/guideline-rag/internal/llm"
	"github.com/auditkit/guideline-rag/internal/retriever"
	"github.com/auditkit/guideline-rag/internal/scrape"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Serves query, streaming answer, indexing, feedback, and admin
endpoints, and runs the background refresh scheduler.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	llmHost := cfg.LLM.OllamaHost
	if llmHost == "" {
		llmHost = cfg.Embedding.OllamaHost
	}
	generator, err := llm.New(llm.Config{
		Host:        llmHost,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	registry := admin.NewRegistry(ret.BlobStore(), "", logger)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("failed to load managed URL registry: %w", err)
	}
	tracker := admin.NewTracker()
	refresher := admin.NewRefresher(registry, tracker, scraper, ret, logger)
	scheduler := admin.NewScheduler(refresher, registry, logger)

	feedbackLog := feedback.NewLogger(cfg.Feedback.DBPath, logger)
	defer func() { _ = feedbackLog.Close() }()

	server := api.NewServer(api.Deps{
		Retriever: ret,
		Generator: generator,
		Fetcher:   scraper,
		Registry:  registry,
		Tracker:   tracker,
		Refresher: refresher,
		Feedback:  feedbackLog,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The scheduler polls at the configured cadence; the registry
	// schedule decides when a refresh is actually due.
	go scheduler.Run(ctx, cfg.Admin.RefreshInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
