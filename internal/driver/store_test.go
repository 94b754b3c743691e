package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/core/model"
)

func company(id, name string) model.Entity {
	return model.NewEntity(id, "Company", name)
}

// exerciseStore runs the contract every Store implementation must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	apple := company("e1", "Apple Inc.")
	apple.Properties.Set("hq", model.String("Cupertino"))
	apple.Embedding = []float32{1, 0, 0}
	require.NoError(t, s.AddEntity(ctx, apple))
	require.NoError(t, s.AddEntity(ctx, company("e2", "Microsoft")))
	require.NoError(t, s.AddEntity(ctx, model.NewEntity("p1", "Person", "Apple Smith")))

	err := s.AddEntity(ctx, company("e1", "Other"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", got.Name())
	assert.Equal(t, []string{"name", "hq"}, got.Properties.Keys())
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	got.Properties.Set("founded", model.Int(1976))
	require.NoError(t, s.UpdateEntity(ctx, got))
	got, err = s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	v, _ := got.Properties.Get("founded")
	assert.True(t, v.Equal(model.Int(1976)))

	assert.ErrorIs(t, s.UpdateEntity(ctx, company("missing", "x")), ErrNotFound)

	cands, err := s.FindCandidates(ctx, CandidateQuery{Type: "Company", NameHint: "Apple", Limit: 5})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "e1", cands[0].ID)

	cands, err = s.FindCandidates(ctx, CandidateQuery{Type: "Company"})
	require.NoError(t, err)
	assert.Len(t, cands, 2)

	all, err := s.ListEntities(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	people, err := s.ListEntities(ctx, []string{"Person"})
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "p1", people[0].ID)

	rel := model.Relation{ID: "r1", Type: "COMPETES_WITH", SourceID: "e1", TargetID: "e2", Weight: model.Float(0.5)}
	rel.Properties.Set("since", model.Int(1980))
	require.NoError(t, s.AddRelation(ctx, rel))
	assert.ErrorIs(t, s.AddRelation(ctx, rel), ErrAlreadyExists)

	dangling := model.Relation{ID: "r2", Type: "OWNS", SourceID: "e1", TargetID: "ghost"}
	assert.ErrorIs(t, s.AddRelation(ctx, dangling), ErrNotFound)

	gotRel, err := s.GetRelation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "COMPETES_WITH", gotRel.Type)
	require.NotNil(t, gotRel.Weight)
	assert.Equal(t, 0.5, *gotRel.Weight)

	gotRel.SourceID = "p1"
	require.NoError(t, s.UpdateRelation(ctx, gotRel))
	rels, err := s.RelationsForEntity(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	rels, err = s.RelationsForEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, rels)

	require.NoError(t, s.DeleteEntity(ctx, "p1"))
	_, err = s.GetRelation(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteEntity(ctx, "p1"), ErrNotFound)
	assert.ErrorIs(t, s.DeleteRelation(ctx, "r1"), ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore("")
	require.NoError(t, err)
	defer s.Close(context.Background())

	exerciseStore(t, s)
}

func TestVectorSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	near := company("a", "Alpha")
	near.Embedding = []float32{1, 0}
	far := company("b", "Beta")
	far.Embedding = []float32{0, 1}
	other := model.NewEntity("c", "Person", "Gamma")
	other.Embedding = []float32{1, 0}
	for _, e := range []model.Entity{far, near, other, company("d", "No Vector")} {
		require.NoError(t, s.AddEntity(ctx, e))
	}

	hits, err := s.VectorSearch(ctx, []float32{1, 0.1}, "Company", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Entity.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	hits, err = s.VectorSearch(ctx, []float32{1, 0}, "Company", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = NewMemoryStore(WithoutVectorSearch()).VectorSearch(ctx, []float32{1}, "Company", 1)
	assert.ErrorIs(t, err, ErrVectorSearchUnsupported)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddEntity(ctx, company("e1", "Apple")))

	e, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	e.Properties.Set("name", model.String("Changed"))

	again, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Apple", again.Name())
}

func TestPlausible(t *testing.T) {
	tests := []struct {
		hint, name string
		want       bool
	}{
		{"", "anything", true},
		{"Apple", "Apple Inc.", true},
		{"IBM", "International Business Machines", true},
		{"Jonathan Smith", "Jon Smithers", true},
		{"Apple", "Microsoft", false},
		{"Apple", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, plausible(tt.hint, tt.name), "%q vs %q", tt.hint, tt.name)
	}
}

func TestRankCandidates(t *testing.T) {
	entities := []model.Entity{
		company("1", "Apple Computer"),
		company("2", "Apple Inc"),
		model.NewEntity("3", "Person", "Apple Inc"),
		company("4", "Applebee's"),
	}

	got := rankCandidates(CandidateQuery{Type: "Company", NameHint: "Apple Inc.", Limit: 2}, entities)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
}

func TestCandidateFilter(t *testing.T) {
	f := CandidateQuery{Type: "Company", NameHint: "Apple"}.filter()
	assert.Equal(t, []string{"app"}, f.fragments)
	assert.Equal(t, []string{"apple"}, f.initialisms)
	assert.Equal(t, []string{"%app%"}, f.likePatterns())

	f = CandidateQuery{
		Type:     "Company",
		NameHint: "IBM Corp",
		Aliases:  []string{"International Business Machines", "..."},
	}.filter()
	assert.Equal(t, []string{"ic", "ibm", "cor", "int", "bus", "mac"}, f.fragments)
	assert.Empty(t, f.initialisms)

	f = CandidateQuery{Type: "Company"}.filter()
	assert.NotNil(t, f.fragments)
	assert.Empty(t, f.fragments)
	assert.NotNil(t, f.initialisms)
}

func TestRankCandidatesWithAliases(t *testing.T) {
	us := model.NewEntity("c1", "Country", "United States")
	canada := model.NewEntity("c2", "Country", "Canada")
	stored := []model.Entity{canada, us}

	got := rankCandidates(CandidateQuery{Type: "Country", NameHint: "USA"}, stored)
	assert.Empty(t, got)

	got = rankCandidates(CandidateQuery{Type: "Country", NameHint: "USA", Aliases: []string{"US", "United States"}}, stored)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)

	// the stored side's own aliases count as names
	withAlias := model.NewEntity("c3", "Country", "United States of America")
	withAlias.Properties.Set(model.PropAliases, model.List(model.String("USA")))
	got = rankCandidates(CandidateQuery{Type: "Country", NameHint: "USA"}, []model.Entity{canada, withAlias})
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].ID)
}
