// Package similarity scores how likely two names denote the same entity by
// running ordered matching stages with early exit.
package similarity

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/cache"
	"github.com/agenthands/fusion/internal/core/matching"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/embedding"
	"github.com/agenthands/fusion/internal/metrics"
)

const DefaultEarlyExitThreshold = 0.95

// Input is one comparison. Properties and embeddings are optional.
type Input struct {
	NameA      string
	NameB      string
	EntityType string
	PropsA     model.Properties
	PropsB     model.Properties
	EmbeddingA []float32
	EmbeddingB []float32
}

type Stats struct {
	Comparisons int64 `json:"total_comparisons"`
	EarlyExits  int64 `json:"early_exits"`
	CacheHits   int64 `json:"cache_hits"`
}

type configState struct {
	cfg *matching.Config
	gen uint64
}

type Pipeline struct {
	state     atomic.Pointer[configState]
	aliases   *AliasTable
	earlyExit float64

	cache    cache.Cache
	cacheTTL time.Duration
	embedder embedding.Embedder

	logger  zerolog.Logger
	metrics *metrics.Metrics

	comparisons atomic.Int64
	earlyExits  atomic.Int64
	cacheHits   atomic.Int64
}

type Option func(*Pipeline)

func WithEarlyExitThreshold(t float64) Option {
	return func(p *Pipeline) { p.earlyExit = t }
}

// WithAliasGroups adds alias groups on top of the built-in table.
func WithAliasGroups(groups ...[]string) Option {
	return func(p *Pipeline) {
		for _, g := range groups {
			p.aliases.add(g)
		}
	}
}

// WithCache memoizes results. Cache failures never fail a comparison.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithEmbedder lets the semantic stage embed names that arrive without a vector.
func WithEmbedder(e embedding.Embedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline validates cfg and builds a pipeline. A nil cfg selects the defaults.
func NewPipeline(cfg *matching.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = matching.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		aliases:   DefaultAliasTable(),
		earlyExit: DefaultEarlyExitThreshold,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.earlyExit < 0 || p.earlyExit > 1 {
		return nil, fmt.Errorf("%w: early exit threshold %v outside [0,1]", matching.ErrInvalidConfig, p.earlyExit)
	}
	p.state.Store(&configState{cfg: cfg.Clone()})
	return p, nil
}

// Config returns a copy of the active matching config.
func (p *Pipeline) Config() *matching.Config {
	return p.state.Load().cfg.Clone()
}

// SetConfig swaps the matching config. Callers serialize config changes.
func (p *Pipeline) SetConfig(cfg *matching.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", matching.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := p.state.Load()
	p.state.Store(&configState{cfg: cfg.Clone(), gen: prev.gen + 1})
	return nil
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Comparisons: p.comparisons.Load(),
		EarlyExits:  p.earlyExits.Load(),
		CacheHits:   p.cacheHits.Load(),
	}
}

func (p *Pipeline) ResetStats() {
	p.comparisons.Store(0)
	p.earlyExits.Store(0)
	p.cacheHits.Store(0)
}

// ComputeSimilarity runs the enabled stages for in.EntityType. The only error
// returned is the context's.
func (p *Pipeline) ComputeSimilarity(ctx context.Context, in Input) (model.SimilarityResult, error) {
	return p.compute(ctx, in, true)
}

// ComputeSimilaritySync is ComputeSimilarity for call sites without a context.
// It never calls the embedder.
func (p *Pipeline) ComputeSimilaritySync(in Input) model.SimilarityResult {
	res, _ := p.compute(context.Background(), in, false)
	return res
}

func (p *Pipeline) compute(ctx context.Context, in Input, allowEmbed bool) (model.SimilarityResult, error) {
	if err := ctx.Err(); err != nil {
		return model.SimilarityResult{MatchedStage: model.StageNone}, err
	}
	p.comparisons.Add(1)

	if strings.TrimSpace(in.NameA) == "" || strings.TrimSpace(in.NameB) == "" {
		return model.SimilarityResult{MatchedStage: model.StageNone}, nil
	}

	state := p.state.Load()
	key := ""
	if p.cache != nil {
		key = cacheKey(state.gen, allowEmbed && p.embedder != nil, in)
		if res, ok := p.cached(ctx, key); ok {
			p.cacheHits.Add(1)
			p.record(in.EntityType, res)
			return res, nil
		}
	}

	res, err := p.run(ctx, state.cfg.ForType(in.EntityType), in, allowEmbed)
	if err != nil {
		return res, err
	}
	p.record(in.EntityType, res)

	if p.cache != nil {
		if data, err := json.Marshal(res); err == nil {
			if err := p.cache.Set(ctx, key, data, p.cacheTTL); err != nil {
				p.logger.Debug().Err(err).Msg("similarity cache write failed")
			}
		}
	}
	return res, nil
}

func (p *Pipeline) record(entityType string, res model.SimilarityResult) {
	if res.EarlyExit {
		p.earlyExits.Add(1)
		p.metrics.EarlyExit(entityType)
	}
	p.metrics.Comparison(entityType, string(res.MatchedStage))
}

func (p *Pipeline) cached(ctx context.Context, key string) (model.SimilarityResult, bool) {
	data, err := p.cache.Get(ctx, key)
	if err != nil {
		return model.SimilarityResult{}, false
	}
	var res model.SimilarityResult
	if err := json.Unmarshal(data, &res); err != nil {
		return model.SimilarityResult{}, false
	}
	return res, true
}

type stageScore struct {
	stage model.Stage
	score float64
	match bool
}

func (p *Pipeline) run(ctx context.Context, cfg matching.EntityTypeConfig, in Input, allowEmbed bool) (model.SimilarityResult, error) {
	var best, bestMatch stageScore
	best.stage, bestMatch.stage = model.StageNone, model.StageNone

	for _, stage := range cfg.EnabledStages {
		if err := ctx.Err(); err != nil {
			return model.SimilarityResult{MatchedStage: model.StageNone}, err
		}

		s, ok, err := p.stage(ctx, stage, cfg, in, allowEmbed)
		if err != nil {
			return model.SimilarityResult{MatchedStage: model.StageNone}, err
		}
		if !ok {
			continue
		}

		if s.score > best.score {
			best = s
		}
		if s.match && (bestMatch.stage == model.StageNone || s.score > bestMatch.score) {
			bestMatch = s
		}
		if s.match && s.score >= p.earlyExit {
			return model.SimilarityResult{FinalScore: s.score, IsMatch: true, MatchedStage: s.stage, EarlyExit: true}, nil
		}
	}

	if bestMatch.stage != model.StageNone {
		return model.SimilarityResult{FinalScore: bestMatch.score, IsMatch: true, MatchedStage: bestMatch.stage}, nil
	}
	return model.SimilarityResult{FinalScore: best.score, MatchedStage: model.StageNone}, nil
}

// stage returns ok=false when the stage does not apply to the input.
func (p *Pipeline) stage(ctx context.Context, stage model.Stage, cfg matching.EntityTypeConfig, in Input, allowEmbed bool) (stageScore, bool, error) {
	switch stage {
	case model.StageExact:
		if exactKey(in.NameA) == exactKey(in.NameB) {
			return stageScore{stage: stage, score: 1, match: true}, true, nil
		}
	case model.StageAlias:
		if p.aliases.aliasMatch(in.NameA, in.NameB, in.PropsA, in.PropsB) {
			return stageScore{stage: stage, score: cfg.Threshold(matching.AliasMatchScore), match: true}, true, nil
		}
	case model.StageAbbreviation:
		if isAbbreviation(in.NameA, in.NameB) {
			return stageScore{stage: stage, score: cfg.Threshold(matching.AbbreviationMatchScore), match: true}, true, nil
		}
	case model.StageNormalized:
		if ka := normalizedKey(in.NameA); ka != "" && ka == normalizedKey(in.NameB) {
			return stageScore{stage: stage, score: cfg.Threshold(matching.NormalizationMatchScore), match: true}, true, nil
		}
	case model.StageString:
		score := StringSimilarity(in.NameA, in.NameB)
		return stageScore{stage: stage, score: score, match: score >= cfg.Threshold(matching.StringSimilarityThreshold)}, true, nil
	case model.StageSemantic:
		if !cfg.Semantic() {
			return stageScore{}, false, nil
		}
		ea, eb, err := p.embeddings(ctx, in, allowEmbed)
		if err != nil {
			return stageScore{}, false, err
		}
		if len(ea) == 0 || len(ea) != len(eb) {
			return stageScore{}, false, nil
		}
		score := clamp01(Cosine(ea, eb))
		return stageScore{stage: stage, score: score, match: score >= cfg.Threshold(matching.SemanticThreshold)}, true, nil
	}
	return stageScore{}, false, nil
}

// embeddings fills missing vectors from the embedder. Embedder failures skip
// the semantic stage; only context errors are returned.
func (p *Pipeline) embeddings(ctx context.Context, in Input, allowEmbed bool) ([]float32, []float32, error) {
	ea, eb := in.EmbeddingA, in.EmbeddingB
	if !allowEmbed || p.embedder == nil {
		return ea, eb, nil
	}

	fill := func(vec []float32, name string) ([]float32, error) {
		if len(vec) > 0 {
			return vec, nil
		}
		out, err := p.embedder.Embed(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn().Err(err).Str("stage", string(model.StageSemantic)).Str("entity_type", in.EntityType).Msg("embedding backfill failed")
			p.metrics.SoftFailure("embedding_backfill")
			return nil, nil
		}
		return out, nil
	}

	var err error
	if ea, err = fill(ea, in.NameA); err != nil || ea == nil {
		return nil, nil, err
	}
	if eb, err = fill(eb, in.NameB); err != nil || eb == nil {
		return nil, nil, err
	}
	return ea, eb, nil
}

func cacheKey(gen uint64, embeds bool, in Input) string {
	h := xxhash.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], gen)
	_, _ = h.Write(buf[:])
	if embeds {
		_, _ = h.WriteString("e")
	}
	for _, s := range []string{in.EntityType, in.NameA, in.NameB} {
		_, _ = h.WriteString(s)
		_, _ = h.WriteString("\x00")
	}
	for _, props := range []model.Properties{in.PropsA, in.PropsB} {
		for _, a := range propertyAliases(props) {
			_, _ = h.WriteString(a)
			_, _ = h.WriteString("\x01")
		}
		_, _ = h.WriteString("\x00")
	}
	for _, vec := range [][]float32{in.EmbeddingA, in.EmbeddingB} {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
			_, _ = h.Write(buf[:4])
		}
		_, _ = h.WriteString("\x00")
	}
	return "sim:" + strconv.FormatUint(h.Sum64(), 16)
}
