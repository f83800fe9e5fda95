package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/frontier"
	"github.com/FranksOps/harvest/internal/identity"
	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/FranksOps/harvest/internal/render"
	"github.com/FranksOps/harvest/internal/scraper"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/internal/storage/jsonbackend"
	"github.com/FranksOps/harvest/internal/storage/postgres"
	"github.com/FranksOps/harvest/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

// maxRenders bounds concurrent headless browser sessions.
const maxRenders = 2

// app holds the collaborators shared by the crawl-oriented commands.
type app struct {
	settings settings.CrawlSettings
	logger   *slog.Logger
	identity *identity.Pool
	robots   *scraper.RobotsAuditor
	fetcher  *scraper.Fetcher
	frontier frontier.Store
	backend  storage.Backend
}

func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	ctx := cmd.Context()
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := loadSettings(cmd, opts)
	if err != nil {
		return nil, err
	}

	a := &app{settings: s, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.identity, err = identity.New(identity.Config{Proxies: s.Proxies})
	if err != nil {
		return nil, fmt.Errorf("build identity pool: %w", err)
	}

	a.robots, err = scraper.NewRobotsAuditor(nil, logger)
	if err != nil {
		return nil, err
	}

	var renderer render.Renderer
	if s.DynamicRendering {
		renderer = render.Isolate(render.NewChromedp(render.ChromedpConfig{Logger: logger}), maxRenders)
	}

	a.fetcher, err = scraper.NewFetcher(scraper.FetchConfig{
		Identity: a.identity,
		Robots:   a.robots,
		Renderer: renderer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a.frontier, err = frontier.New(ctx, s, logger)
	if err != nil {
		if !crawlerr.IsKind(err, crawlerr.KindStoreUnavailable) {
			return nil, err
		}
		logger.Warn("redis unavailable, using in-process frontier", "err", err)
	}

	a.backend, err = openBackend(ctx, opts.store)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *app) pipeline(cfg pipeline.Config) (*pipeline.Pipeline, error) {
	cfg.Fetcher = a.fetcher
	cfg.Frontier = a.frontier
	cfg.Backend = a.backend
	cfg.Logger = a.logger
	return pipeline.New(cfg)
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.frontier != nil {
		if err := a.frontier.Close(); err != nil {
			a.logger.Warn("failed to close frontier", "err", err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("failed to close store", "err", err)
		}
	}
}

// openBackend picks a storage backend from dsn. An empty dsn disables
// history.
func openBackend(ctx context.Context, dsn string) (storage.Backend, error) {
	switch lower := strings.ToLower(dsn); {
	case dsn == "":
		return nil, nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return postgres.New(ctx, dsn)
	case strings.HasSuffix(lower, ".ndjson"), strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".json"):
		return jsonbackend.New(dsn)
	case strings.HasPrefix(lower, "sqlite://"):
		return sqlite.New(dsn[len("sqlite://"):])
	default:
		return sqlite.New(dsn)
	}
}

var errNoStore = errors.New("no crawl history store configured (use --store)")
