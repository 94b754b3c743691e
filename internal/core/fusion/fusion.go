// Package fusion reconciles the entities already persisted in the store:
// it finds near-duplicates across documents, merges them with conflict
// tracking, re-points their relations and keeps provenance.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/core/cluster"
	"github.com/agenthands/fusion/internal/core/dedupe"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
	"github.com/agenthands/fusion/internal/driver"
	"github.com/agenthands/fusion/internal/embedding"
	"github.com/agenthands/fusion/internal/metrics"
	"github.com/agenthands/fusion/internal/workerpool"
)

// ErrNoEntities is returned when asked to merge an empty list.
var ErrNoEntities = errors.New("no entities to merge")

const DefaultCandidateLimit = 20

type Fusion struct {
	store    driver.Store
	scorer   similarity.NameScorer
	matcher  *dedupe.EntityDeduplicator
	relDedup *dedupe.RelationDeduplicator

	useEmbeddings  bool
	embedder       embedding.Embedder
	detector       cluster.Detector
	candidateLimit int
	concurrency    int
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Fusion)

func WithScorer(s similarity.NameScorer) Option {
	return func(f *Fusion) { f.scorer = s }
}

// WithPipeline scores candidate pairs through p.
func WithPipeline(p *similarity.Pipeline) Option {
	return func(f *Fusion) { f.scorer = similarity.ScorerFor(p) }
}

// WithEmbedder backfills missing embeddings before matching when embeddings are in use.
func WithEmbedder(e embedding.Embedder) Option {
	return func(f *Fusion) { f.embedder = e }
}

func WithDetector(d cluster.Detector) Option {
	return func(f *Fusion) { f.detector = d }
}

func WithCandidateLimit(n int) Option {
	return func(f *Fusion) {
		if n > 0 {
			f.candidateLimit = n
		}
	}
}

// WithConcurrency gathers candidates and scores pairs with up to n workers.
func WithConcurrency(n int) Option {
	return func(f *Fusion) { f.concurrency = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fusion) { f.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fusion) { f.metrics = m }
}

func New(store driver.Store, similarityThreshold float64, useEmbeddings bool, embeddingThreshold float64, opts ...Option) (*Fusion, error) {
	f := &Fusion{
		store:          store,
		relDedup:       dedupe.NewRelationDeduplicator(true),
		useEmbeddings:  useEmbeddings,
		detector:       cluster.UnionFindDetector{},
		candidateLimit: DefaultCandidateLimit,
		concurrency:    1,
		logger:         zerolog.Nop(),
		scorer:         similarity.BuiltinScorer{},
	}
	for _, opt := range opts {
		opt(f)
	}

	matcher, err := dedupe.NewEntityDeduplicator(similarityThreshold, useEmbeddings, embeddingThreshold,
		dedupe.WithScorer(f.scorer),
		dedupe.WithLogger(f.logger),
	)
	if err != nil {
		return nil, err
	}
	f.matcher = matcher
	return f, nil
}

type FuseOptions struct {
	// DryRun computes clusters and counts without writing to the store.
	DryRun bool
}

type TypeStats struct {
	EntitiesAnalyzed int `json:"entities_analyzed"`
	EntitiesMerged   int `json:"entities_merged"`
	Clusters         int `json:"clusters"`
}

type Stats struct {
	RunID            string               `json:"run_id"`
	DryRun           bool                 `json:"dry_run"`
	EntitiesAnalyzed int                  `json:"entities_analyzed"`
	EntitiesMerged   int                  `json:"entities_merged"`
	Clusters         int                  `json:"clusters"`
	RelationsRewired int                  `json:"relations_rewired"`
	RelationsMerged  int                  `json:"relations_merged"`
	SoftFailures     int                  `json:"soft_failures"`
	ByType           map[string]TypeStats `json:"by_type"`
	Duration         time.Duration        `json:"duration"`
}

// plan is one cluster: the merged canonical entity and the ids it absorbs.
type plan struct {
	canonical model.Entity
	absorbed  []string
}

// FuseCrossDocumentEntities merges near-duplicate stored entities of the
// given types, or of every type when types is empty. Candidate lookups that
// fail are counted and skipped; store write failures abort the run.
func (f *Fusion) FuseCrossDocumentEntities(ctx context.Context, types []string, opts FuseOptions) (Stats, error) {
	start := time.Now()
	stats := Stats{
		RunID:  uuid.NewString(),
		DryRun: opts.DryRun,
		ByType: map[string]TypeStats{},
	}
	log := f.logger.With().Str("run_id", stats.RunID).Logger()
	log.Info().Strs("entity_types", types).Bool("dry_run", opts.DryRun).Msg("fusion run started")

	entities, err := f.store.ListEntities(ctx, types)
	if err != nil {
		return stats, fmt.Errorf("failed to list entities: %w", err)
	}
	stats.EntitiesAnalyzed = len(entities)

	var order []string
	byType := map[string][]model.Entity{}
	for _, e := range entities {
		if _, ok := byType[e.Type]; !ok {
			order = append(order, e.Type)
		}
		byType[e.Type] = append(byType[e.Type], e)
	}

	var (
		plans []plan
		soft  atomic.Int64
	)
	for _, typ := range order {
		typePlans, err := f.planType(ctx, byType[typ], &soft)
		if err != nil {
			return stats, err
		}

		ts := TypeStats{EntitiesAnalyzed: len(byType[typ]), Clusters: len(typePlans)}
		for _, p := range typePlans {
			ts.EntitiesMerged += len(p.absorbed)
		}
		stats.ByType[typ] = ts
		stats.Clusters += ts.Clusters
		stats.EntitiesMerged += ts.EntitiesMerged
		plans = append(plans, typePlans...)
	}

	if err := f.apply(ctx, plans, opts.DryRun, &stats); err != nil {
		return stats, err
	}
	if !opts.DryRun {
		for typ, ts := range stats.ByType {
			f.metrics.Merged(typ, "fusion", ts.EntitiesMerged)
		}
	}

	stats.SoftFailures = int(soft.Load())
	stats.Duration = time.Since(start)
	f.metrics.ObserveRun(stats.Duration)
	log.Info().
		Int("entities_analyzed", stats.EntitiesAnalyzed).
		Int("entities_merged", stats.EntitiesMerged).
		Int("clusters", stats.Clusters).
		Int("relations_rewired", stats.RelationsRewired).
		Int("relations_merged", stats.RelationsMerged).
		Int("soft_failures", stats.SoftFailures).
		Dur("duration", stats.Duration).
		Msg("fusion run finished")
	return stats, nil
}

// planType clusters the entities of one type. Candidate pairs come from the
// store's name and vector lookups rather than every pair, then each pair is
// decided by the same rule as batch deduplication.
func (f *Fusion) planType(ctx context.Context, entities []model.Entity, soft *atomic.Int64) ([]plan, error) {
	if len(entities) < 2 {
		return nil, nil
	}
	if err := f.backfill(ctx, entities, soft); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(entities))
	for i, e := range entities {
		index[e.ID] = i
	}

	found := make([][]int, len(entities))
	err := workerpool.Run(ctx, f.concurrency, len(entities), func(ctx context.Context, i int) error {
		ids, err := f.candidates(ctx, entities[i], soft)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if j, ok := index[id]; ok && j != i {
				found[i] = append(found[i], j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pairs := uniquePairs(found)
	matched := make([]bool, len(pairs))
	err = workerpool.Run(ctx, f.concurrency, len(pairs), func(ctx context.Context, k int) error {
		dup, _, err := f.matcher.IsDuplicate(ctx, entities[pairs[k].A], entities[pairs[k].B])
		if err != nil {
			return err
		}
		matched[k] = dup
		return nil
	})
	if err != nil {
		return nil, err
	}

	var edges []cluster.Edge
	for k, ok := range matched {
		if ok {
			edges = append(edges, pairs[k])
		}
	}

	var plans []plan
	for _, c := range cluster.Clusters(f.detector, len(entities), edges) {
		members := make([]model.Entity, len(c))
		absorbed := make([]string, 0, len(c)-1)
		for i, idx := range c {
			members[i] = entities[idx]
			if i > 0 {
				absorbed = append(absorbed, entities[idx].ID)
			}
		}
		plans = append(plans, plan{
			canonical: dedupe.MergeEntities(members, dedupe.MergeOptions{TrackConflicts: true}),
			absorbed:  absorbed,
		})
	}
	return plans, nil
}

// candidates returns ids of stored entities that may duplicate e.
func (f *Fusion) candidates(ctx context.Context, e model.Entity, soft *atomic.Int64) ([]string, error) {
	var ids []string

	cands, err := f.store.FindCandidates(ctx, driver.CandidateQuery{
		Type:     e.Type,
		NameHint: e.Name(),
		Aliases:  similarity.CandidateAliases(f.scorer, e),
		Limit:    f.candidateLimit,
	})
	switch {
	case err == nil:
		for _, c := range cands {
			ids = append(ids, c.ID)
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		f.soft(e, "candidates", err, soft)
	}

	if !f.useEmbeddings || !e.HasEmbedding() {
		return ids, nil
	}
	hits, err := f.store.VectorSearch(ctx, e.Embedding, e.Type, f.candidateLimit)
	switch {
	case err == nil:
		for _, h := range hits {
			ids = append(ids, h.Entity.ID)
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, driver.ErrVectorSearchUnsupported):
	default:
		f.soft(e, "vector_search", err, soft)
	}
	return ids, nil
}

// backfill embeds entities that lack a vector. Vectors are used for matching
// and end up on merged entities; unmerged entities are not rewritten.
func (f *Fusion) backfill(ctx context.Context, entities []model.Entity, soft *atomic.Int64) error {
	if !f.useEmbeddings || f.embedder == nil {
		return nil
	}
	return workerpool.Run(ctx, f.concurrency, len(entities), func(ctx context.Context, i int) error {
		e := &entities[i]
		if e.HasEmbedding() || e.Name() == "" {
			return nil
		}
		vec, err := f.embedder.Embed(ctx, e.Name())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.soft(*e, "embedding_backfill", err, soft)
			return nil
		}
		e.Embedding = vec
		return nil
	})
}

// apply writes merged entities, re-points and collapses their relations and
// deletes absorbed entities. In a dry run only the counts are computed.
func (f *Fusion) apply(ctx context.Context, plans []plan, dryRun bool, stats *Stats) error {
	if len(plans) == 0 {
		return nil
	}

	canonicalOf := map[string]string{}
	var touched []string
	for _, p := range plans {
		touched = append(touched, p.canonical.ID)
		for _, id := range p.absorbed {
			canonicalOf[id] = p.canonical.ID
			touched = append(touched, id)
		}
	}

	if !dryRun {
		for _, p := range plans {
			if err := f.store.UpdateEntity(ctx, p.canonical); err != nil {
				return fmt.Errorf("failed to update canonical entity %q: %w", p.canonical.ID, err)
			}
		}
	}

	var (
		rels    []model.Relation
		seen    = map[string]bool{}
		rewired = map[string]bool{}
	)
	for _, id := range touched {
		list, err := f.store.RelationsForEntity(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load relations of %q: %w", id, err)
		}
		for _, r := range list {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			if c, ok := canonicalOf[r.SourceID]; ok {
				r.SourceID = c
				rewired[r.ID] = true
			}
			if c, ok := canonicalOf[r.TargetID]; ok {
				r.TargetID = c
				rewired[r.ID] = true
			}
			rels = append(rels, r)
		}
	}
	stats.RelationsRewired = len(rewired)

	var keys []model.RelationKey
	groups := map[model.RelationKey][]model.Relation{}
	for _, r := range rels {
		k := r.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}

	for _, k := range keys {
		group := groups[k]
		stats.RelationsMerged += len(group) - 1
		if dryRun {
			continue
		}

		if len(group) == 1 {
			if rewired[group[0].ID] {
				if err := f.store.UpdateRelation(ctx, group[0]); err != nil {
					return fmt.Errorf("failed to rewire relation %q: %w", group[0].ID, err)
				}
			}
			continue
		}

		merged := f.relDedup.Merge(group)
		if err := f.store.UpdateRelation(ctx, merged); err != nil {
			return fmt.Errorf("failed to update merged relation %q: %w", merged.ID, err)
		}
		for _, r := range group[1:] {
			if err := f.store.DeleteRelation(ctx, r.ID); err != nil {
				return fmt.Errorf("failed to delete duplicate relation %q: %w", r.ID, err)
			}
		}
	}

	if dryRun {
		return nil
	}
	for _, p := range plans {
		for _, id := range p.absorbed {
			if err := f.store.DeleteEntity(ctx, id); err != nil {
				return fmt.Errorf("failed to delete absorbed entity %q: %w", id, err)
			}
		}
	}
	return nil
}

func (f *Fusion) soft(e model.Entity, stage string, err error, counter *atomic.Int64) {
	f.logger.Warn().Err(err).
		Str("entity_id", e.ID).
		Str("entity_type", e.Type).
		Str("stage", stage).
		Msg("lookup failed, skipping")
	f.metrics.SoftFailure(stage)
	counter.Add(1)
}

// uniquePairs turns per-entity candidate lists into sorted, distinct pairs with A < B.
func uniquePairs(found [][]int) []cluster.Edge {
	seen := map[cluster.Edge]bool{}
	var out []cluster.Edge
	for i, js := range found {
		for _, j := range js {
			e := cluster.Edge{A: min(i, j), B: max(i, j)}
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(x, y int) bool {
		if out[x].A != out[y].A {
			return out[x].A < out[y].A
		}
		return out[x].B < out[y].B
	})
	return out
}
