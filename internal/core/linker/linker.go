// Package linker decides whether a newly extracted entity is already present
// in the graph store.
package linker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/core/matching"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
	"github.com/agenthands/fusion/internal/driver"
	"github.com/agenthands/fusion/internal/metrics"
	"github.com/agenthands/fusion/internal/workerpool"
)

const (
	// TrustedEmbeddingScore links on the embedding alone, whatever the names say.
	TrustedEmbeddingScore = 0.95
	// NamePlausibilityFloor is the name similarity an embedding link below the
	// trusted score still needs.
	NamePlausibilityFloor = 0.5

	DefaultCandidateLimit = 10
)

type Linker struct {
	store               driver.EntityStore
	similarityThreshold float64
	useEmbeddings       bool
	embeddingThreshold  float64

	scorer         similarity.NameScorer
	candidateLimit int
	concurrency    int
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Linker)

func WithScorer(s similarity.NameScorer) Option {
	return func(l *Linker) { l.scorer = s }
}

// WithPipeline scores names through p.
func WithPipeline(p *similarity.Pipeline) Option {
	return func(l *Linker) { l.scorer = similarity.ScorerFor(p) }
}

// WithCandidateLimit bounds both the vector search and the name candidate query.
func WithCandidateLimit(n int) Option {
	return func(l *Linker) {
		if n > 0 {
			l.candidateLimit = n
		}
	}
}

// WithConcurrency lets LinkEntities link up to n entities at once.
func WithConcurrency(n int) Option {
	return func(l *Linker) { l.concurrency = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Linker) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Linker) { l.metrics = m }
}

func New(store driver.EntityStore, similarityThreshold float64, useEmbeddings bool, embeddingThreshold float64, opts ...Option) (*Linker, error) {
	if similarityThreshold < 0 || similarityThreshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v outside [0,1]", matching.ErrInvalidConfig, similarityThreshold)
	}
	if embeddingThreshold < 0 || embeddingThreshold > 1 {
		return nil, fmt.Errorf("%w: embedding threshold %v outside [0,1]", matching.ErrInvalidConfig, embeddingThreshold)
	}

	l := &Linker{
		store:               store,
		similarityThreshold: similarityThreshold,
		useEmbeddings:       useEmbeddings,
		embeddingThreshold:  embeddingThreshold,
		scorer:              similarity.BuiltinScorer{},
		candidateLimit:      DefaultCandidateLimit,
		concurrency:         1,
		logger:              zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LinkEntity tries, in order, an exact id hit, an embedding neighbour and a
// name candidate. Store lookups that fail count as no match; only context
// errors are returned.
func (l *Linker) LinkEntity(ctx context.Context, e model.Entity) (model.LinkResult, error) {
	res, err := l.link(ctx, e)
	if err != nil {
		return model.LinkResult{}, err
	}
	l.metrics.Link(string(res.LinkType))
	return res, nil
}

// LinkEntities links every entity independently. Results keep input order.
func (l *Linker) LinkEntities(ctx context.Context, entities []model.Entity) ([]model.LinkResult, error) {
	out := make([]model.LinkResult, len(entities))
	err := workerpool.Run(ctx, l.concurrency, len(entities), func(ctx context.Context, i int) error {
		res, err := l.LinkEntity(ctx, entities[i])
		if err != nil {
			return err
		}
		out[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Linker) link(ctx context.Context, e model.Entity) (model.LinkResult, error) {
	if err := ctx.Err(); err != nil {
		return model.LinkResult{}, err
	}

	existing, err := l.store.GetEntity(ctx, e.ID)
	switch {
	case err == nil:
		return linked(e, existing, 1.0, model.LinkExactID), nil
	case ctx.Err() != nil:
		return model.LinkResult{}, ctx.Err()
	case !errors.Is(err, driver.ErrNotFound):
		l.soft(e, "exact_id", err)
	}

	best := 0.0
	if l.useEmbeddings && e.HasEmbedding() {
		res, score, ok, err := l.byEmbedding(ctx, e)
		if err != nil {
			return model.LinkResult{}, err
		}
		if ok {
			return res, nil
		}
		best = max(best, score)
	}

	res, score, ok, err := l.byName(ctx, e)
	if err != nil {
		return model.LinkResult{}, err
	}
	if ok {
		return res, nil
	}
	best = max(best, score)

	return model.LinkResult{New: e, Similarity: best, LinkType: model.LinkNone}, nil
}

func (l *Linker) byEmbedding(ctx context.Context, e model.Entity) (model.LinkResult, float64, bool, error) {
	hits, err := l.store.VectorSearch(ctx, e.Embedding, e.Type, l.candidateLimit)
	if err != nil {
		if ctx.Err() != nil {
			return model.LinkResult{}, 0, false, ctx.Err()
		}
		if errors.Is(err, driver.ErrVectorSearchUnsupported) {
			l.logger.Debug().Str("entity_id", e.ID).Msg("vector search unsupported, skipping embedding stage")
		} else {
			l.soft(e, "vector_search", err)
		}
		return model.LinkResult{}, 0, false, nil
	}

	var (
		top   model.ScoredEntity
		found bool
	)
	for _, h := range hits {
		if h.Entity.Type != e.Type || h.Entity.ID == e.ID {
			continue
		}
		if !found || h.Score > top.Score {
			top, found = h, true
		}
	}
	if !found || top.Score < l.embeddingThreshold {
		return model.LinkResult{}, top.Score, false, nil
	}
	if top.Score >= TrustedEmbeddingScore {
		return linked(e, top.Entity, top.Score, model.LinkEmbedding), top.Score, true, nil
	}

	name, err := l.scorer.NameSimilarity(ctx, e.Type, e.Name(), top.Entity.Name())
	if err != nil {
		return model.LinkResult{}, 0, false, err
	}
	if name < NamePlausibilityFloor {
		return model.LinkResult{}, top.Score, false, nil
	}
	return linked(e, top.Entity, top.Score, model.LinkEmbedding), top.Score, true, nil
}

func (l *Linker) byName(ctx context.Context, e model.Entity) (model.LinkResult, float64, bool, error) {
	if e.Name() == "" {
		return model.LinkResult{}, 0, false, nil
	}
	cands, err := l.store.FindCandidates(ctx, driver.CandidateQuery{
		Type:     e.Type,
		NameHint: e.Name(),
		Aliases:  similarity.CandidateAliases(l.scorer, e),
		Limit:    l.candidateLimit,
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.LinkResult{}, 0, false, ctx.Err()
		}
		l.soft(e, "candidates", err)
		return model.LinkResult{}, 0, false, nil
	}

	var (
		top   model.Entity
		score float64
		found bool
	)
	for _, c := range cands {
		if c.Type != e.Type || c.ID == e.ID {
			continue
		}
		s, err := l.scorer.NameSimilarity(ctx, e.Type, e.Name(), c.Name())
		if err != nil {
			return model.LinkResult{}, 0, false, err
		}
		if !found || s > score {
			top, score, found = c, s, true
		}
	}
	if !found || score < l.similarityThreshold {
		return model.LinkResult{}, score, false, nil
	}
	return linked(e, top, score, model.LinkName), score, true, nil
}

func (l *Linker) soft(e model.Entity, stage string, err error) {
	l.logger.Warn().Err(err).
		Str("entity_id", e.ID).
		Str("entity_type", e.Type).
		Str("stage", stage).
		Msg("lookup failed, treating as no match")
	l.metrics.SoftFailure(stage)
}

func linked(e, existing model.Entity, score float64, typ model.LinkType) model.LinkResult {
	return model.LinkResult{
		Linked:     true,
		Existing:   &existing,
		New:        e,
		Similarity: score,
		LinkType:   typ,
	}
}
