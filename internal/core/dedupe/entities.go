// Package dedupe collapses near-duplicate entities and duplicate relations
// within a batch.
package dedupe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/core/cluster"
	"github.com/agenthands/fusion/internal/core/matching"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
	"github.com/agenthands/fusion/internal/metrics"
)

type EntityDeduplicator struct {
	similarityThreshold float64
	useEmbeddings       bool
	embeddingThreshold  float64

	scorer   similarity.NameScorer
	detector cluster.Detector
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type EntityOption func(*EntityDeduplicator)

// WithScorer replaces the built-in scorer.
func WithScorer(s similarity.NameScorer) EntityOption {
	return func(d *EntityDeduplicator) { d.scorer = s }
}

// WithPipeline scores names through p.
func WithPipeline(p *similarity.Pipeline) EntityOption {
	return func(d *EntityDeduplicator) { d.scorer = similarity.ScorerFor(p) }
}

func WithDetector(det cluster.Detector) EntityOption {
	return func(d *EntityDeduplicator) { d.detector = det }
}

func WithLogger(l zerolog.Logger) EntityOption {
	return func(d *EntityDeduplicator) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) EntityOption {
	return func(d *EntityDeduplicator) { d.metrics = m }
}

func NewEntityDeduplicator(similarityThreshold float64, useEmbeddings bool, embeddingThreshold float64, opts ...EntityOption) (*EntityDeduplicator, error) {
	if similarityThreshold < 0 || similarityThreshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v outside [0,1]", matching.ErrInvalidConfig, similarityThreshold)
	}
	if embeddingThreshold < 0 || embeddingThreshold > 1 {
		return nil, fmt.Errorf("%w: embedding threshold %v outside [0,1]", matching.ErrInvalidConfig, embeddingThreshold)
	}

	d := &EntityDeduplicator{
		similarityThreshold: similarityThreshold,
		useEmbeddings:       useEmbeddings,
		embeddingThreshold:  embeddingThreshold,
		scorer:              similarity.BuiltinScorer{},
		detector:            cluster.UnionFindDetector{},
		logger:              zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// IsDuplicate reports whether a and b denote the same entity. Entities of
// different types never match. With embeddings enabled, a high enough cosine
// similarity decides on its own.
func (d *EntityDeduplicator) IsDuplicate(ctx context.Context, a, b model.Entity) (bool, float64, error) {
	if a.Type != b.Type {
		return false, 0, nil
	}
	if d.useEmbeddings && a.HasEmbedding() && b.HasEmbedding() {
		if cos := similarity.Cosine(a.Embedding, b.Embedding); cos >= d.embeddingThreshold {
			return true, cos, nil
		}
	}
	score, err := d.scorer.EntitySimilarity(ctx, a, b)
	if err != nil {
		return false, 0, err
	}
	return score >= d.similarityThreshold, score, nil
}

// Deduplicate merges every cluster of near-duplicates into its first member and
// repeats until no pair matches, so deduplicating the output is a no-op.
// Merged entities take the position of their first member; unmatched entities
// are returned untouched.
func (d *EntityDeduplicator) Deduplicate(ctx context.Context, entities []model.Entity) ([]model.Entity, error) {
	if len(entities) < 2 {
		return entities, nil
	}

	current := entities
	for round := 1; ; round++ {
		next, merged, err := d.round(ctx, current)
		if err != nil {
			return nil, err
		}
		if merged == 0 {
			return current, nil
		}
		d.logger.Debug().Int("round", round).Int("absorbed", merged).Int("remaining", len(next)).Msg("deduplication round")
		current = next
	}
}

// round runs one pass of pairwise scoring and clustering per entity type.
func (d *EntityDeduplicator) round(ctx context.Context, entities []model.Entity) ([]model.Entity, int, error) {
	byType := map[string][]int{}
	var order []string
	for i, e := range entities {
		if _, ok := byType[e.Type]; !ok {
			order = append(order, e.Type)
		}
		byType[e.Type] = append(byType[e.Type], i)
	}

	// merged[i] is set on the first member of each cluster; absorbed members are skipped.
	merged := map[int]model.Entity{}
	absorbed := map[int]bool{}
	total := 0

	for _, typ := range order {
		idx := byType[typ]
		if len(idx) < 2 {
			continue
		}

		edges, err := d.edges(ctx, entities, idx)
		if err != nil {
			return nil, 0, err
		}

		for _, c := range cluster.Clusters(d.detector, len(idx), edges) {
			members := make([]model.Entity, len(c))
			for i, local := range c {
				members[i] = entities[idx[local]]
				if i > 0 {
					absorbed[idx[local]] = true
				}
			}
			merged[idx[c[0]]] = MergeEntities(members, MergeOptions{})
			total += len(c) - 1
			d.metrics.Merged(typ, "batch", len(c)-1)
		}
	}

	if total == 0 {
		return entities, 0, nil
	}

	out := make([]model.Entity, 0, len(entities)-total)
	for i, e := range entities {
		if absorbed[i] {
			continue
		}
		if m, ok := merged[i]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, e)
	}
	return out, total, nil
}

// edges scores every pair within one type partition. Indices in the returned
// edges are positions within idx.
func (d *EntityDeduplicator) edges(ctx context.Context, entities []model.Entity, idx []int) ([]cluster.Edge, error) {
	var edges []cluster.Edge
	for i := 0; i < len(idx); i++ {
		for j := i + 1; j < len(idx); j++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			dup, _, err := d.IsDuplicate(ctx, entities[idx[i]], entities[idx[j]])
			if err != nil {
				return nil, err
			}
			if dup {
				edges = append(edges, cluster.Edge{A: i, B: j})
			}
		}
	}
	return edges, nil
}
