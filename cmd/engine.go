package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/classifier"
	"github.com/sells-group/audience-engine/internal/config"
	"github.com/sells-group/audience-engine/internal/dispatch"
	"github.com/sells-group/audience-engine/internal/resolver"
	"github.com/sells-group/audience-engine/internal/segment"
	"github.com/sells-group/audience-engine/internal/store"
	"github.com/sells-group/audience-engine/pkg/anthropic"
)

// engineEnv bundles the wired engine components for a command run.
type engineEnv struct {
	Store    store.Store
	Resolver *resolver.Resolver
	Writer   *segment.Writer
	Pool     *dispatch.Pool
}

// Close drains the pool and releases the store.
func (e *engineEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close", zap.Error(err))
		}
	}
}

// newStore opens the configured backend.
func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Pool.MaxConns),
			MinConns: int32(cfg.Pool.MinConns),
		})
	case "sqlite":
		return store.NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

// newCatalogue resolves the cohort catalogue from config: an explicit file
// wins over an inline list, which wins over the built-in default.
func newCatalogue(cfg config.SegmentationConfig) (*classifier.Catalogue, error) {
	if cfg.CatalogueFile != "" {
		return classifier.LoadCatalogueFile(cfg.CatalogueFile)
	}
	if len(cfg.Catalogue) > 0 {
		return classifier.NewCatalogue(cfg.Catalogue), nil
	}
	return classifier.NewCatalogue(classifier.DefaultCatalogue), nil
}

// initEngine wires store, classifier, writer, resolver and pool. The resolver
// trigger submits segmentation work to the pool so ingestion never waits for
// classification.
func initEngine(ctx context.Context) (*engineEnv, error) {
	s, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	catalogue, err := newCatalogue(cfg.Segmentation)
	if err != nil {
		s.Close()
		return nil, eris.Wrap(err, "init catalogue")
	}

	adapter := classifier.NewAdapter(anthropic.NewClient(cfg.Anthropic.Key), classifier.Options{
		Model:          cfg.Anthropic.Model,
		MaxTokens:      int64(cfg.Anthropic.MaxTokens),
		MaxAttempts:    cfg.Segmentation.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.Segmentation.TimeoutSecs) * time.Second,
		RatePerSec:     cfg.Anthropic.RateLimitPerSec,
		Catalogue:      catalogue,
	})

	writer := segment.New(s, adapter)
	pool := dispatch.New(cfg.Dispatch.Workers, cfg.Dispatch.QueueDepth)

	res := resolver.New(s, func(identityID string) {
		pool.Submit(func(taskCtx context.Context) {
			if err := writer.Segment(taskCtx, identityID); err != nil {
				zap.L().Error("segmentation failed",
					zap.String("identity_id", identityID),
					zap.Error(err),
				)
			}
		})
	})

	return &engineEnv{
		Store:    s,
		Resolver: res,
		Writer:   writer,
		Pool:     pool,
	}, nil
}
