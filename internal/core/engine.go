package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/core/dedupe"
	"github.com/agenthands/fusion/internal/core/fusion"
	"github.com/agenthands/fusion/internal/core/linker"
	"github.com/agenthands/fusion/internal/core/matching"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
	"github.com/agenthands/fusion/internal/driver"
	"github.com/agenthands/fusion/internal/embedding"
	"github.com/agenthands/fusion/internal/metrics"
)

// Settings are the thresholds and limits shared by the deduplicator, the
// linker and fusion.
type Settings struct {
	SimilarityThreshold float64
	UseEmbeddings       bool
	EmbeddingThreshold  float64
	CandidateLimit      int
	Concurrency         int
}

// Engine holds one wired set of fusion components around a store.
type Engine struct {
	Store        driver.Store
	Pipeline     *similarity.Pipeline
	Deduplicator *dedupe.EntityDeduplicator
	Linker       *linker.Linker
	Fusion       *fusion.Fusion

	settings Settings
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	closers  []func() error
}

type engineOptions struct {
	pipelineOpts []similarity.Option
	embedder     embedding.Embedder
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	closers      []func() error
}

type Option func(*engineOptions)

func WithPipelineOptions(opts ...similarity.Option) Option {
	return func(o *engineOptions) { o.pipelineOpts = append(o.pipelineOpts, opts...) }
}

// WithEmbedder is used for pipeline and fusion embedding backfill.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *engineOptions) { o.embedder = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithCloser registers a resource released by Close after the store.
func WithCloser(fn func() error) Option {
	return func(o *engineOptions) { o.closers = append(o.closers, fn) }
}

func NewEngine(store driver.Store, cfg *matching.Config, s Settings, opts ...Option) (*Engine, error) {
	o := engineOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	pipelineOpts := append([]similarity.Option{
		similarity.WithLogger(o.logger),
		similarity.WithMetrics(o.metrics),
	}, o.pipelineOpts...)
	if o.embedder != nil {
		pipelineOpts = append(pipelineOpts, similarity.WithEmbedder(o.embedder))
	}
	pipeline, err := similarity.NewPipeline(cfg, pipelineOpts...)
	if err != nil {
		return nil, err
	}

	dd, err := dedupe.NewEntityDeduplicator(s.SimilarityThreshold, s.UseEmbeddings, s.EmbeddingThreshold,
		dedupe.WithPipeline(pipeline),
		dedupe.WithLogger(o.logger),
		dedupe.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	lk, err := linker.New(store, s.SimilarityThreshold, s.UseEmbeddings, s.EmbeddingThreshold,
		linker.WithPipeline(pipeline),
		linker.WithCandidateLimit(s.CandidateLimit),
		linker.WithConcurrency(s.Concurrency),
		linker.WithLogger(o.logger),
		linker.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	fusionOpts := []fusion.Option{
		fusion.WithPipeline(pipeline),
		fusion.WithCandidateLimit(s.CandidateLimit),
		fusion.WithConcurrency(s.Concurrency),
		fusion.WithLogger(o.logger),
		fusion.WithMetrics(o.metrics),
	}
	if o.embedder != nil {
		fusionOpts = append(fusionOpts, fusion.WithEmbedder(o.embedder))
	}
	fu, err := fusion.New(store, s.SimilarityThreshold, s.UseEmbeddings, s.EmbeddingThreshold, fusionOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Store:        store,
		Pipeline:     pipeline,
		Deduplicator: dd,
		Linker:       lk,
		Fusion:       fu,
		settings:     s,
		logger:       o.logger,
		metrics:      o.metrics,
		closers:      o.closers,
	}, nil
}

// SetMatchingConfig swaps the matching config of the shared pipeline. Callers
// serialize it; the config watcher is the only writer in the server.
func (e *Engine) SetMatchingConfig(cfg *matching.Config) error {
	return e.Pipeline.SetConfig(cfg)
}

// DeduplicateEntities uses the engine's deduplicator, or a one-off one when
// threshold is set.
func (e *Engine) DeduplicateEntities(ctx context.Context, entities []model.Entity, threshold *float64) ([]model.Entity, error) {
	dd := e.Deduplicator
	if threshold != nil {
		var err error
		dd, err = dedupe.NewEntityDeduplicator(*threshold, e.settings.UseEmbeddings, e.settings.EmbeddingThreshold,
			dedupe.WithPipeline(e.Pipeline),
			dedupe.WithLogger(e.logger),
			dedupe.WithMetrics(e.metrics),
		)
		if err != nil {
			return nil, err
		}
	}
	return dd.Deduplicate(ctx, entities)
}

func (e *Engine) DeduplicateRelations(relations []model.Relation, mergeProperties bool) []model.Relation {
	return dedupe.NewRelationDeduplicator(mergeProperties).Deduplicate(relations)
}

func (e *Engine) FindDuplicateRelations(relations []model.Relation) []model.RelationPair {
	return dedupe.NewRelationDeduplicator(false).FindDuplicates(relations)
}

type indexBuilder interface {
	BuildIndices(ctx context.Context) error
}

// BuildIndices prepares the store when it supports it.
func (e *Engine) BuildIndices(ctx context.Context) error {
	if b, ok := e.Store.(indexBuilder); ok {
		return b.BuildIndices(ctx)
	}
	return nil
}

func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.Store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
