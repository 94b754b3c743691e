package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/agenthands/fusion/internal/cache"
	"github.com/agenthands/fusion/internal/config"
	"github.com/agenthands/fusion/internal/core/similarity"
	"github.com/agenthands/fusion/internal/driver"
	"github.com/agenthands/fusion/internal/embedding"
	"github.com/agenthands/fusion/internal/metrics"
)

const breakerCooldown = 30 * time.Second

// Open builds an Engine from service configuration: the store backend, an
// optional result cache, the embedding client and the matching config.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*Engine, error) {
	matchingCfg, err := cfg.MatchingConfig(afero.NewOsFs())
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithLogger(logger), WithMetrics(m)}
	pipelineOpts := []similarity.Option{similarity.WithEarlyExitThreshold(cfg.Fusion.EarlyExitThreshold)}
	if len(cfg.Fusion.AliasGroups) > 0 {
		pipelineOpts = append(pipelineOpts, similarity.WithAliasGroups(cfg.Fusion.AliasGroups...))
	}

	ttl, err := cfg.Cache.Duration()
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	c, err := openCache(ctx, cfg, store)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	cleanup := func() {
		store.Close(ctx)
		if c != nil {
			c.Close()
		}
	}
	if c != nil {
		pipelineOpts = append(pipelineOpts, similarity.WithCache(c, ttl))
		opts = append(opts, WithCloser(c.Close))
	}
	opts = append(opts, WithPipelineOptions(pipelineOpts...))

	emb, err := embedding.NewClient(ctx, embedding.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
		BaseURL:  cfg.Embedding.BaseURL,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	if closer, ok := emb.(io.Closer); ok {
		opts = append(opts, WithCloser(closer.Close))
	}
	if emb != nil {
		emb = embedding.NewBreakerClient(emb, "embedding", uint32(cfg.Embedding.BreakerFailures), breakerCooldown)
		if c != nil {
			emb = embedding.NewCachedClient(emb, c, cfg.Embedding.Provider+"/"+cfg.Embedding.Model, ttl)
		}
		opts = append(opts, WithEmbedder(emb))
	}

	engine, err := NewEngine(store, matchingCfg, Settings{
		SimilarityThreshold: cfg.Fusion.SimilarityThreshold,
		UseEmbeddings:       cfg.Fusion.UseEmbeddings,
		EmbeddingThreshold:  cfg.Fusion.EmbeddingThreshold,
		CandidateLimit:      cfg.Fusion.CandidateLimit,
		Concurrency:         cfg.Fusion.Concurrency,
	}, opts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("cache", cfg.Cache.Backend).
		Str("embedding", cfg.Embedding.Provider).
		Msg("fusion engine ready")
	return engine, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (driver.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return driver.NewMemoryStore(), nil
	case "memgraph":
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to memgraph: %w", err)
		}
		opts := []driver.MemgraphOption{driver.WithMemgraphLogger(logger)}
		if cfg.Store.VectorIndex != "" {
			opts = append(opts, driver.WithVectorIndex(cfg.Store.VectorIndex, cfg.Store.VectorDim, 0))
		}
		return driver.NewMemgraphStore(d, opts...), nil
	case "badger":
		return driver.NewBadgerStore(cfg.Store.BadgerPath)
	case "postgres":
		return driver.ConnectPostgres(ctx, cfg.Store.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openCache returns nil when caching is off. A badger cache without its own
// path shares the badger store's database.
func openCache(ctx context.Context, cfg *config.Config, store driver.Store) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryCache(cfg.Cache.MaxBytes)
	case "badger":
		if bs, ok := store.(*driver.BadgerStore); ok && cfg.Cache.BadgerPath == "" {
			return cache.NewBadgerCacheFromDB(bs.DB()), nil
		}
		return cache.NewBadgerCache(cfg.Cache.BadgerPath)
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisCache(client), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
