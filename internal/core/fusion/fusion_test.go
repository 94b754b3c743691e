package fusion

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/driver"
	"github.com/agenthands/fusion/internal/metrics"
)

type MockEmbedder struct {
	Vectors map[string][]float32
	Err     error
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vectors[text], nil
}

// flakyStore fails candidate lookups for selected entity names.
type flakyStore struct {
	driver.Store
	failFor map[string]bool
}

func (s flakyStore) FindCandidates(ctx context.Context, q driver.CandidateQuery) ([]model.Entity, error) {
	if s.failFor[q.NameHint] {
		return nil, errors.New("index unavailable")
	}
	return s.Store.FindCandidates(ctx, q)
}

func entity(id, typ, name string, props map[string]any) model.Entity {
	e := model.NewEntity(id, typ, name)
	for _, k := range model.SortedKeys(props) {
		e.Properties.Set(k, model.FromAny(props[k]))
	}
	return e
}

func seed(t *testing.T, s driver.Store, entities []model.Entity, relations []model.Relation) {
	t.Helper()
	ctx := context.Background()
	for _, e := range entities {
		require.NoError(t, s.AddEntity(ctx, e))
	}
	for _, r := range relations {
		require.NoError(t, s.AddRelation(ctx, r))
	}
}

func relation(id, typ, src, dst string, props map[string]any) model.Relation {
	r := model.Relation{ID: id, Type: typ, SourceID: src, TargetID: dst}
	for _, k := range model.SortedKeys(props) {
		r.Properties.Set(k, model.FromAny(props[k]))
	}
	return r
}

func newFusion(t *testing.T, store driver.Store, opts ...Option) *Fusion {
	t.Helper()
	f, err := New(store, 0.85, false, 0.9, opts...)
	require.NoError(t, err)
	return f
}

func fixture(t *testing.T) *driver.MemoryStore {
	store := driver.NewMemoryStore()
	seed(t, store,
		[]model.Entity{
			entity("e1", "Company", "Apple Inc.", map[string]any{"hq": "Cupertino", "industry": "tech", "ceo": "Steve Jobs", "_provenance": "doc1.pdf"}),
			entity("e2", "Company", "Apple Inc", map[string]any{"hq": "Cupertino", "industry": "tech", "ceo": "Tim Cook", "_provenance": "doc2.pdf"}),
			entity("e3", "Company", "Microsoft", nil),
			entity("p1", "Person", "Tim Cook", nil),
			entity("p2", "Person", "Apple Inc", nil),
		},
		[]model.Relation{
			relation("r1", "CEO_OF", "p1", "e1", map[string]any{"since": 2011}),
			relation("r2", "CEO_OF", "p1", "e2", map[string]any{"source": "doc2"}),
			relation("r3", "COMPETES_WITH", "e2", "e3", nil),
		},
	)
	return store
}

func TestFuseCrossDocumentEntities(t *testing.T) {
	ctx := context.Background()
	store := fixture(t)
	m := metrics.New(prometheus.NewRegistry())
	f := newFusion(t, store, WithMetrics(m))

	stats, err := f.FuseCrossDocumentEntities(ctx, nil, FuseOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 5, stats.EntitiesAnalyzed)
	assert.Equal(t, 1, stats.EntitiesMerged)
	assert.Equal(t, 1, stats.Clusters)
	assert.Equal(t, 2, stats.RelationsRewired)
	assert.Equal(t, 1, stats.RelationsMerged)
	assert.Equal(t, TypeStats{EntitiesAnalyzed: 3, EntitiesMerged: 1, Clusters: 1}, stats.ByType["Company"])
	assert.Equal(t, TypeStats{EntitiesAnalyzed: 2}, stats.ByType["Person"])

	_, err = store.GetEntity(ctx, "e2")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	apple, err := store.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, apple.MergedCount())
	assert.ElementsMatch(t, []string{"Apple Inc.", "Apple Inc"}, apple.Aliases())
	assert.Equal(t, "Cupertino", apple.Properties.String("hq"))
	assert.False(t, apple.Properties.Has("ceo"))
	conflicts, ok := apple.Properties.Get(model.PropPropertyConflicts)
	require.True(t, ok)
	ceo, ok := conflicts.Field("ceo")
	require.True(t, ok)
	assert.Equal(t, []string{"Steve Jobs", "Tim Cook"}, ceo.Strings())

	sources, err := f.TrackEntityProvenance(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1.pdf", "doc2.pdf"}, sources)

	// the person named like the company is untouched
	_, err = store.GetEntity(ctx, "p2")
	require.NoError(t, err)

	rels, err := store.RelationsForEntity(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "r1", rels[0].ID)
	assert.Equal(t, "e1", rels[0].TargetID)
	assert.True(t, rels[0].Properties.Has("since"))
	assert.True(t, rels[0].Properties.Has("source"))

	r3, err := store.GetRelation(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, "e1", r3.SourceID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitiesMerged.WithLabelValues("Company", "fusion")))

	again, err := f.FuseCrossDocumentEntities(ctx, nil, FuseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.EntitiesMerged)
	assert.Equal(t, 4, again.EntitiesAnalyzed)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := fixture(t)
	f := newFusion(t, store)

	stats, err := f.FuseCrossDocumentEntities(ctx, nil, FuseOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Equal(t, 1, stats.EntitiesMerged)
	assert.Equal(t, 2, stats.RelationsRewired)
	assert.Equal(t, 1, stats.RelationsMerged)

	all, err := store.ListEntities(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	_, err = store.GetRelation(ctx, "r2")
	assert.NoError(t, err)
}

func TestFuseScopedToTypes(t *testing.T) {
	ctx := context.Background()
	store := fixture(t)
	f := newFusion(t, store)

	stats, err := f.FuseCrossDocumentEntities(ctx, []string{"Person"}, FuseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntitiesAnalyzed)
	assert.Equal(t, 0, stats.EntitiesMerged)

	_, err = store.GetEntity(ctx, "e2")
	assert.NoError(t, err)
}

func TestSoftFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	base := fixture(t)
	store := flakyStore{Store: base, failFor: map[string]bool{"Apple Inc.": true}}
	f := newFusion(t, store)

	stats, err := f.FuseCrossDocumentEntities(ctx, []string{"Company"}, FuseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SoftFailures)
	// e2 still finds e1 from its own lookup
	assert.Equal(t, 1, stats.EntitiesMerged)
}

func TestEmbeddingBackfill(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	seed(t, store, []model.Entity{
		entity("c1", "City", "New York City", nil),
		entity("c2", "City", "Big Apple", nil),
		entity("c3", "City", "Boston", nil),
	}, nil)

	emb := &MockEmbedder{Vectors: map[string][]float32{
		"New York City": {1, 0},
		"Big Apple":     {1, 0.05},
		"Boston":        {0, 1},
	}}
	f, err := New(store, 0.85, true, 0.95, WithEmbedder(emb), WithConcurrency(2))
	require.NoError(t, err)

	stats, err := f.FuseCrossDocumentEntities(ctx, nil, FuseOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EntitiesMerged)

	// stored vectors make them reachable through vector search
	for _, id := range []string{"c1", "c2", "c3"} {
		e, err := store.GetEntity(ctx, id)
		require.NoError(t, err)
		e.Embedding = emb.Vectors[e.Name()]
		require.NoError(t, store.UpdateEntity(ctx, e))
	}
	stats, err = f.FuseCrossDocumentEntities(ctx, nil, FuseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EntitiesMerged)

	merged, err := store.GetEntity(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, merged.Embedding)

	emb.Err = errors.New("quota exceeded")
	require.NoError(t, store.AddEntity(ctx, entity("c4", "City", "Springfield", nil)))
	stats, err = f.FuseCrossDocumentEntities(ctx, nil, FuseOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SoftFailures)
}

type failingWrites struct {
	driver.Store
}

func (failingWrites) UpdateEntity(context.Context, model.Entity) error {
	return errors.New("connection lost")
}

func TestWriteFailuresPropagate(t *testing.T) {
	store := failingWrites{Store: fixture(t)}
	f := newFusion(t, store)

	_, err := f.FuseCrossDocumentEntities(context.Background(), nil, FuseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestResolvePropertyConflicts(t *testing.T) {
	f := newFusion(t, driver.NewMemoryStore())

	_, err := f.ResolvePropertyConflicts(nil)
	assert.ErrorIs(t, err, ErrNoEntities)

	merged, err := f.ResolvePropertyConflicts([]model.Entity{
		entity("a", "Person", "Alice", map[string]any{"age": 30}),
		entity("b", "Person", "Alice", map[string]any{"age": 35}),
	})
	require.NoError(t, err)
	assert.False(t, merged.Properties.Has("age"))
	conflicts, _ := merged.Properties.Get(model.PropPropertyConflicts)
	age, ok := conflicts.Field("age")
	require.True(t, ok)
	assert.True(t, age.Equal(model.List(model.Int(30), model.Int(35))))
	assert.Equal(t, "Alice", merged.Name())

	merged, err = ResolvePropertyConflicts([]model.Entity{
		entity("a", "Person", "Alice", map[string]any{"_provenance": map[string]any{"source": "doc1.pdf"}}),
		entity("b", "Person", "Alice", map[string]any{"_provenance_merged": []any{map[string]any{"source": "doc1.pdf"}, "doc2.pdf"}}),
	})
	require.NoError(t, err)
	prov, ok := merged.Properties.Get(model.PropProvenanceMerged)
	require.True(t, ok)
	items, _ := prov.AsList()
	assert.Len(t, items, 2)
}

func TestTrackEntityProvenance(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	seed(t, store, []model.Entity{
		entity("d", "Person", "Dana", map[string]any{
			"_provenance_merged": []any{
				map[string]any{"source": "doc1.pdf"},
				map[string]any{"source": "doc1.pdf"},
			},
		}),
		entity("m", "Person", "Mixed", map[string]any{
			"_provenance": []any{"a.txt", map[string]any{"document_id": "b.txt"}, map[string]any{"doc_id": "c.txt"}},
		}),
		entity("n", "Person", "None", nil),
	}, nil)
	f := newFusion(t, store)

	got, err := f.TrackEntityProvenance(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1.pdf"}, got)

	got, err = f.TrackEntityProvenance(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, got)

	got, err = f.TrackEntityProvenance(ctx, "n")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = f.TrackEntityProvenance(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}
