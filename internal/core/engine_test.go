package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/config"
	"github.com/agenthands/fusion/internal/core/matching"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
	"github.com/agenthands/fusion/internal/driver"
)

func defaultSettings() Settings {
	return Settings{
		SimilarityThreshold: 0.85,
		UseEmbeddings:       true,
		EmbeddingThreshold:  0.9,
		CandidateLimit:      20,
		Concurrency:         2,
	}
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(driver.NewMemoryStore(), nil, defaultSettings(), opts...)
	require.NoError(t, err)
	return e
}

func TestNewEngineRejectsBadThresholds(t *testing.T) {
	s := defaultSettings()
	s.SimilarityThreshold = 1.2
	_, err := NewEngine(driver.NewMemoryStore(), nil, s)
	assert.ErrorIs(t, err, matching.ErrInvalidConfig)

	bad := matching.DefaultConfig()
	bad.StringSimilarityThreshold = -1
	_, err = NewEngine(driver.NewMemoryStore(), bad, defaultSettings())
	assert.ErrorIs(t, err, matching.ErrInvalidConfig)
}

func TestDeduplicateEntities(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	batch := []model.Entity{
		model.NewEntity("e1", "Company", "Apple Inc."),
		model.NewEntity("e2", "Company", "Apple Inc"),
		model.NewEntity("e3", "Company", "Microsoft"),
	}

	out, err := e.DeduplicateEntities(ctx, batch, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].ID)
	assert.Equal(t, 2, out[0].MergedCount())
	assert.Equal(t, "e3", out[1].ID)

	strict := 0.99
	out, err = e.DeduplicateEntities(ctx, batch, &strict)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	bad := 2.0
	_, err = e.DeduplicateEntities(ctx, batch, &bad)
	assert.ErrorIs(t, err, matching.ErrInvalidConfig)
}

func TestDeduplicateRelations(t *testing.T) {
	e := newEngine(t)

	r1 := model.Relation{ID: "r1", Type: "WORKS_AT", SourceID: "p1", TargetID: "c1", Properties: model.NewProperties()}
	r2 := model.Relation{ID: "r2", Type: "WORKS_AT", SourceID: "p1", TargetID: "c1", Properties: model.NewProperties()}
	r3 := model.Relation{ID: "r3", Type: "KNOWS", SourceID: "p1", TargetID: "p2", Properties: model.NewProperties()}

	out := e.DeduplicateRelations([]model.Relation{r1, r2, r3}, true)
	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[0].ID)
	assert.Equal(t, "r3", out[1].ID)

	pairs := e.FindDuplicateRelations([]model.Relation{r1, r2, r3})
	require.Len(t, pairs, 1)
	assert.Equal(t, "r1", pairs[0].First.ID)
	assert.Equal(t, "r2", pairs[0].Second.ID)
}

func TestSetMatchingConfig(t *testing.T) {
	e := newEngine(t)

	cfg := matching.DefaultConfig()
	cfg.StringSimilarityThreshold = 0.5
	require.NoError(t, e.SetMatchingConfig(cfg))
	assert.Equal(t, 0.5, e.Pipeline.Config().StringSimilarityThreshold)

	bad := matching.DefaultConfig()
	bad.SemanticThreshold = 7
	assert.ErrorIs(t, e.SetMatchingConfig(bad), matching.ErrInvalidConfig)
	assert.Equal(t, 0.5, e.Pipeline.Config().StringSimilarityThreshold)
}

func TestCloseRunsClosers(t *testing.T) {
	var closed []string
	e := newEngine(t,
		WithCloser(func() error { closed = append(closed, "a"); return nil }),
		WithCloser(func() error { closed = append(closed, "b"); return errors.New("boom") }),
	)

	err := e.Close(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"a", "b"}, closed)
}

func TestBuildIndicesWithoutSupport(t *testing.T) {
	e := newEngine(t)
	assert.NoError(t, e.BuildIndices(context.Background()))
}

func TestOpenDefaults(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	e, err := Open(ctx, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer e.Close(ctx)

	assert.IsType(t, &driver.MemoryStore{}, e.Store)

	res := e.Pipeline.ComputeSimilaritySync(similarity.Input{NameA: "Jonathan Smithson", NameB: "Jonathon Smithson"})
	again := e.Pipeline.ComputeSimilaritySync(similarity.Input{NameA: "Jonathan Smithson", NameB: "Jonathon Smithson"})
	assert.Equal(t, res, again)
	assert.Equal(t, int64(1), e.Pipeline.Stats().CacheHits)
}

func TestOpenBadgerSharesDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = "badger"
	cfg.Cache.Backend = "badger"
	cfg.Fusion.AliasGroups = [][]string{{"Bill Gates", "William Henry Gates III"}}

	e, err := Open(ctx, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	bs, ok := e.Store.(*driver.BadgerStore)
	require.True(t, ok)
	require.NoError(t, bs.AddEntity(ctx, model.NewEntity("p1", "Person", "Bill Gates")))

	res := e.Pipeline.ComputeSimilaritySync(similarity.Input{NameA: "Bill Gates", NameB: "William Henry Gates III"})
	assert.Equal(t, model.StageAlias, res.MatchedStage)

	assert.NoError(t, e.Close(ctx))
}

func TestOpenRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Store.Backend = "cassandra"
	_, err := Open(ctx, cfg, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = config.Default()
	cfg.Cache.Backend = "memcached"
	_, err = Open(ctx, cfg, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "unknown cache backend")

	cfg = config.Default()
	cfg.Cache.TTL = "soon"
	_, err = Open(ctx, cfg, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "invalid cache ttl")
}
