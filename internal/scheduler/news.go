package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"release_bot/internal/fetcher"
	"release_bot/internal/filter"
	"release_bot/internal/metrics"
	"release_bot/internal/storage"
)

// NewsSource describes the page the news refresher scrapes.
type NewsSource struct {
	URL    string
	Format string
	XPath  string
	Rules  []filter.Rule
}

// NewsRefresher periodically scrapes headlines into the store.
type NewsRefresher struct {
	store    storage.Storage
	fetcher  *fetcher.Fetcher
	src      NewsSource
	interval time.Duration
	log      *slog.Logger
}

// NewNewsRefresher creates a NewsRefresher.
func NewNewsRefresher(store storage.Storage, f *fetcher.Fetcher, src NewsSource, interval time.Duration, log *slog.Logger) *NewsRefresher {
	return &NewsRefresher{
		store:    store,
		fetcher:  f,
		src:      src,
		interval: interval,
		log:      log.With("component", "news"),
	}
}

// Run refreshes immediately and then on every interval until ctx is cancelled.
func (n *NewsRefresher) Run(ctx context.Context) {
	n.refreshAndLog(ctx)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.refreshAndLog(ctx)
		}
	}
}

func (n *NewsRefresher) refreshAndLog(ctx context.Context) {
	stored, err := n.Refresh(ctx)
	if err != nil {
		n.log.Error("refresh news", "url", n.src.URL, "error", err)
		return
	}
	n.log.Info("news refreshed", "url", n.src.URL, "stored", stored)
}

// Refresh scrapes the page once and upserts matching headlines. A failed
// upsert skips that headline.
func (n *NewsRefresher) Refresh(ctx context.Context) (int, error) {
	items, err := n.fetcher.FetchHeadlines(ctx, n.src.URL, n.src.Format, n.src.XPath, n.src.Rules)
	if err != nil {
		return 0, fmt.Errorf("fetch headlines: %w", err)
	}

	stored := 0
	for i := range items {
		if err := n.store.UpsertNews(ctx, &items[i]); err != nil {
			n.log.Error("upsert news", "title", items[i].Title, "error", err)
			continue
		}
		metrics.NewsItemsTotal.Inc()
		stored++
	}
	return stored, nil
}
