package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sandevgo/contextd/internal/config"
	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/aggregator"
	"github.com/sandevgo/contextd/internal/service/cache"
	"github.com/sandevgo/contextd/internal/service/extractor"
	"github.com/sandevgo/contextd/internal/service/orchestrator"
	"github.com/sandevgo/contextd/internal/service/publisher"
	"github.com/sandevgo/contextd/internal/service/watcher"
	"github.com/sandevgo/contextd/internal/storage/files"
	"github.com/sandevgo/contextd/internal/storage/sqlite"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/sandevgo/contextd/pkg/srv"
	"github.com/sandevgo/contextd/pkg/tokens"
)

// Engine is the wired set of components every command works with.
type Engine struct {
	Config       *config.AppConfig
	Store        core.ConversationStore
	Cache        *cache.ResultCache
	Publisher    *publisher.Publisher
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// NewEngine loads the runtime .env and config, opens the store and builds the
// pipeline. With watch set, a file watcher feeds the orchestrator.
func NewEngine(ctx context.Context, watch bool) (*Engine, error) {
	logger := log.FromCtx(ctx)

	// init env
	if err := config.LoadEnvFile(ctx, config.GetRuntimePath()); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	// 1. Configuration
	cfg := config.NewAppConfig(ctx)
	keywords, err := config.LoadKeywords(cfg.GetKeywordsPath())
	if err != nil {
		return nil, err
	}

	e := &Engine{Config: cfg}

	// 2. Storage
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.Store = store
	if closeStore != nil {
		e.closers = append(e.closers, closeStore)
	}

	// 3. Pipeline
	e.Cache, err = cache.New(cfg.MaxCacheSize)
	if err != nil {
		e.Close()
		return nil, err
	}

	ex := extractor.New(extractor.Options{
		MaxSummaryLength:    cfg.MaxSummaryLength,
		MaxDecisions:        cfg.MaxDecisions,
		MaxTechnicalDetails: cfg.MaxTechnicalDetails,
		MaxNextSteps:        cfg.MaxNextSteps,
		ScanWindow:          cfg.ScanWindow,
		Keywords:            keywords,
	})

	agg := aggregator.New(aggregator.Options{
		MaxContextLength:  cfg.MaxContextLength,
		MinRelevanceScore: cfg.MinRelevanceScore,
		MaxConversations:  cfg.MaxConversations,
	})

	e.Publisher = publisher.New(publisher.Options{
		TargetPath: cfg.GetTargetPath(),
		Retries:    cfg.PublishRetries,
		HTML:       cfg.PublishHTML,
	})

	deps := orchestrator.Deps{
		Store:      store,
		Extractor:  ex,
		Cache:      e.Cache,
		Aggregator: agg,
		Publisher:  e.Publisher,
	}

	// 4. Watcher
	if watch {
		deps.Watcher = watcher.New(store, watcher.NewFSNotifier(store), watcher.Options{
			Debounce:  cfg.Debounce(),
			ScanLimit: cfg.MaxConversations,
		})
	}

	// 5. Orchestrator
	e.Orchestrator = orchestrator.New(deps, orchestrator.Options{
		Interval:         cfg.UpdateInterval(),
		MaxConversations: cfg.MaxConversations,
		Disabled:         !cfg.GenerationEnabled,
		Workers:          cfg.Workers,
		TokenCounter:     tokens.Estimate,
	})

	logger.Debug().
		Str("source", cfg.GetSourcePath()).
		Str("target", cfg.GetTargetPath()).
		Bool("watch", deps.Watcher != nil).
		Msg("engine initialized")

	return e, nil
}

// Services returns the long-running parts in start order.
func (e *Engine) Services() []srv.Service {
	return []srv.Service{
		srv.NewCleanup(e.Close),
		e.Orchestrator,
	}
}

func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// openStore picks the SQLite repository for *.db sources and the JSON file
// store for anything else.
func openStore(ctx context.Context, cfg *config.AppConfig) (core.WatchableStore, func() error, error) {
	path := cfg.GetSourcePath()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		db, err := sqlite.NewDB(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewConversationsRepo(db, path), db.Close, nil
	default:
		store, err := files.New(path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}
