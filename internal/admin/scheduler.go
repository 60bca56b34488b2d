package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/retriever"
	"github.com/auditkit/guideline-rag/internal/scrape"
)

// Fetcher fetches a managed URL's current content.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (scrape.Page, error)
}

// Indexer is the document-level indexing surface the refresher needs.
type Indexer interface {
	IndexDocument(ctx context.Context, doc retriever.Document) (int, error)
	DeleteDocument(ctx context.Context, url string) (int, error)
}

// Refresher re-crawls managed URLs and reindexes the ones whose
// content changed.
type Refresher struct {
	registry *Registry
	tracker  *Tracker
	fetcher  Fetcher
	indexer  Indexer
	logger   *slog.Logger
}

// NewRefresher wires a refresher over the registry and retriever.
func NewRefresher(registry *Registry, tracker *Tracker, fetcher Fetcher, indexer Indexer, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		registry: registry,
		tracker:  tracker,
		fetcher:  fetcher,
		indexer:  indexer,
		logger:   logger,
	}
}

// RefreshAll re-crawls every enabled URL, skipping pages whose
// content hash is unchanged. Per-URL failures are recorded on the job
// and in the registry; the run continues past them.
func (r *Refresher) RefreshAll(ctx context.Context) (*Job, error) {
	urls, err := r.registry.Enabled(ctx)
	if err != nil {
		return nil, err
	}

	jobID, err := r.tracker.Start("refresh", len(urls))
	if err != nil {
		return nil, err
	}
	r.logger.Info("refresh started", "job_id", jobID, "urls", len(urls))

	for _, u := range urls {
		if ctx.Err() != nil {
			r.tracker.Complete(JobCancelled)
			return r.tracker.Current(), ctx.Err()
		}
		r.refreshOne(ctx, u)
	}

	r.tracker.Complete(JobCompleted)
	if err := r.registry.MarkRun(ctx, time.Now()); err != nil {
		r.logger.Warn("failed to record refresh run", "error", err)
	}

	job := r.tracker.Current()
	r.logger.Info("refresh completed",
		"job_id", job.ID,
		"successful", job.SuccessfulURLs,
		"skipped", job.SkippedURLs,
		"failed", job.FailedURLs)
	return job, nil
}

func (r *Refresher) refreshOne(ctx context.Context, u ManagedURL) {
	page, err := r.fetcher.Scrape(ctx, u.URL)
	if err != nil {
		r.fail(ctx, u, err)
		return
	}

	hash := ContentHash(page.Content)
	if hash == u.ContentHash && u.ContentHash != "" {
		r.tracker.Progress(u.URL, u.Name, StatusSkipped, "")
		if err := r.registry.UpdateStatus(ctx, u.ID, StatusSkipped, "", hash); err != nil {
			r.logger.Warn("failed to update url status", "id", u.ID, "error", err)
		}
		r.logger.Debug("url unchanged, skipped", "url", u.URL)
		return
	}

	// Replace rather than accumulate: stale chunks from the previous
	// crawl would otherwise survive in all three stores.
	if _, err := r.indexer.DeleteDocument(ctx, u.URL); err != nil {
		r.fail(ctx, u, err)
		return
	}

	title := u.Name
	if title == "" {
		title = page.Title
	}
	n, err := r.indexer.IndexDocument(ctx, retriever.Document{
		URL:         u.URL,
		Title:       title,
		Content:     page.Content,
		ContentType: chunk.ContentTypeMarkdown,
	})
	if err != nil {
		r.fail(ctx, u, err)
		return
	}

	r.tracker.Progress(u.URL, u.Name, StatusSuccess, "")
	if err := r.registry.UpdateStatus(ctx, u.ID, StatusSuccess, "", hash); err != nil {
		r.logger.Warn("failed to update url status", "id", u.ID, "error", err)
	}
	r.logger.Info("url reindexed", "url", u.URL, "chunks", n)
}

func (r *Refresher) fail(ctx context.Context, u ManagedURL, err error) {
	r.tracker.Progress(u.URL, u.Name, StatusFailed, err.Error())
	if uerr := r.registry.UpdateStatus(ctx, u.ID, StatusFailed, err.Error(), ""); uerr != nil {
		r.logger.Warn("failed to update url status", "id", u.ID, "error", uerr)
	}
	r.logger.Error("url refresh failed", "url", u.URL, "error", err)
}

// Scheduler runs RefreshAll on the registry's interval.
type Scheduler struct {
	refresher *Refresher
	registry  *Registry
	logger    *slog.Logger
}

// NewScheduler creates an interval refresh scheduler.
func NewScheduler(refresher *Refresher, registry *Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{refresher: refresher, registry: registry, logger: logger}
}

// Run loops until ctx is cancelled, triggering a refresh whenever the
// schedule's next run time arrives. The poll interval bounds how late
// a run can start after its due time.
func (s *Scheduler) Run(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = time.Minute
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sched, err := s.registry.Schedule(ctx)
	if err != nil {
		s.logger.Error("scheduler could not read schedule", "error", err)
		return
	}
	if !sched.Enabled {
		return
	}

	now := time.Now()
	due := sched.NextRunAt == nil || !now.Before(*sched.NextRunAt)
	if !due {
		return
	}

	if _, err := s.refresher.RefreshAll(ctx); err != nil {
		s.logger.Error("scheduled refresh failed", "error", err)
	}
}
