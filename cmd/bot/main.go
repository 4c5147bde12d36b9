package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"release_bot/internal/bot"
	"release_bot/internal/config"
	"release_bot/internal/fetcher"
	"release_bot/internal/filter"
	"release_bot/internal/logging"
	"release_bot/internal/metrics"
	"release_bot/internal/scheduler"
	"release_bot/internal/source"
	"release_bot/internal/source/omdb"
	"release_bot/internal/source/tmdb"
	"release_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, logCloser := logging.New(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}

	if err := run(cfg, log); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	primary, err := tmdb.New(cfg.TMDBAPIKey, cfg.TMDBBaseURL,
		tmdb.WithMinInterval(cfg.TMDBMinInterval),
		tmdb.WithLogger(log))
	if err != nil {
		return err
	}

	var secondary source.Secondary
	if cfg.SecondaryEnabled() {
		client, err := omdb.New(cfg.OMDBAPIKey, cfg.OMDBBaseURL,
			omdb.WithMinInterval(cfg.OMDBMinInterval),
			omdb.WithLogger(log))
		if err != nil {
			return err
		}
		secondary = client
	} else {
		log.Warn("OMDB_API_KEY not set, running without secondary provider")
	}

	b, err := bot.New(cfg.TelegramBotToken, store, primary, secondary, cfg, log)
	if err != nil {
		return err
	}

	opts := scheduler.DefaultOptions()
	opts.Interval = cfg.NotifyInterval
	opts.InitialDelay = cfg.NotifyInitialDelay
	opts.CycleTimeout = cfg.CycleTimeout
	orch := scheduler.New(store, primary, secondary, b, log, opts)

	status := func() string { return orch.State().String() }
	b.SetStatusFunc(status)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, status, log); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	if cfg.NewsURL != "" {
		rules, err := filter.Keywords(cfg.NewsKeywords)
		if err != nil {
			return err
		}
		news := scheduler.NewNewsRefresher(store, fetcher.New(nil), scheduler.NewsSource{
			URL:    cfg.NewsURL,
			Format: cfg.NewsFormat,
			XPath:  cfg.NewsXPath,
			Rules:  rules,
		}, cfg.NewsInterval, log)
		go news.Run(ctx)
	}

	log.Info("starting bot",
		"notify_interval", cfg.NotifyInterval,
		"secondary", secondary != nil,
		"news", cfg.NewsURL != "")

	go orch.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
	return nil
}
