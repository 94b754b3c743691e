package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/core/model"
)

func TestNormalizedKey(t *testing.T) {
	assert.Equal(t, "cafe rouge", normalizedKey("  Café   ROUGE "))
	assert.Equal(t, "usa", normalizedKey("U.S.A."))
	assert.Equal(t, "hewlett packard", normalizedKey("Hewlett-Packard"))
	assert.Equal(t, "oneil", normalizedKey("O'Neil"))
	assert.Equal(t, "strasse", normalizedKey("STRASSE"))
	assert.Equal(t, "", normalizedKey("..."))
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, StringSimilarity("Apple Inc.", "apple inc"))
	assert.Equal(t, 0.0, StringSimilarity("", "apple"))

	contained := StringSimilarity("Rick Eskelsen", "Rick Eskelsen Jr")
	assert.GreaterOrEqual(t, contained, 0.9)

	assert.Less(t, StringSimilarity("Apple Inc", "Microsoft"), 0.5)

	// short fragments do not count as containment
	assert.Less(t, StringSimilarity("Inc", "Apple Inc"), 0.9)
	assert.Less(t, StringSimilarity("Co", "Co Group"), 0.9)
	assert.Less(t, StringSimilarity("HP", "HP Labs"), 0.9)

	// short names count when only legal-form suffixes remain
	assert.InDelta(t, 0.9375, StringSimilarity("IBM", "IBM Corp"), 1e-9)
	assert.GreaterOrEqual(t, StringSimilarity("HP", "HP Inc."), 0.9)
	assert.GreaterOrEqual(t, StringSimilarity("SAP SE", "SAP"), 0.9)
	assert.GreaterOrEqual(t, StringSimilarity("BP", "The BP Group"), 0.9)
}

func TestAbbreviation(t *testing.T) {
	assert.True(t, isAbbreviation("IBM", "International Business Machines"))
	assert.True(t, isAbbreviation("I.B.M.", "International Business Machines Corp"))
	assert.True(t, isAbbreviation("I B M", "International Business Machines"))
	assert.True(t, isAbbreviation("Acme Corp", "Acme Corporation"))
	assert.False(t, isAbbreviation("Micro", "Microsoft"))
	assert.False(t, isAbbreviation("IBM", "Intel"))
	assert.False(t, isAbbreviation("J Smith", "John Brown"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func entity(id, typ, name string, props map[string]any) model.Entity {
	e := model.NewEntity(id, typ, name)
	for k, v := range props {
		e.Properties.Set(k, model.FromAny(v))
	}
	return e
}

func TestBuiltinScorerBlendsProperties(t *testing.T) {
	ctx := context.Background()
	s := BuiltinScorer{}

	a := entity("1", "Person", "Alice Smith", nil)
	b := entity("2", "Person", "Alice Smith", nil)
	score, err := s.EntitySimilarity(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	a = entity("1", "Person", "Alice Smith", map[string]any{"city": "Paris", "age": 30})
	b = entity("2", "Person", "Alice Smith", map[string]any{"city": "paris", "age": 31})
	score, err = s.EntitySimilarity(ctx, a, b)
	require.NoError(t, err)
	assert.InDelta(t, NameWeight+PropertyWeight*0.5, score, 1e-9)

	// metadata and disjoint keys do not trigger blending
	a = entity("1", "Person", "Alice Smith", map[string]any{"_merged_count": 2, "city": "Paris"})
	b = entity("2", "Person", "Alice Smith", map[string]any{"_merged_count": 3, "email": "a@x.io"})
	score, err = s.EntitySimilarity(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestPipelineScorer(t *testing.T) {
	p := newPipeline(t, nil)
	s := ScorerFor(p)
	assert.IsType(t, PipelineScorer{}, s)
	assert.IsType(t, BuiltinScorer{}, ScorerFor(nil))

	score, err := s.NameSimilarity(context.Background(), "Country", "USA", "United States")
	require.NoError(t, err)
	assert.Equal(t, 0.95, score)

	a := model.NewEntity("1", "Company", "IBM")
	b := model.NewEntity("2", "Company", "International Business Machines")
	score, err = s.EntitySimilarity(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.95, score)
}

type plainScorer struct{ BuiltinScorer }

func (plainScorer) AliasesOf(model.Entity) []string { return []string{"Plain"} }

func TestCandidateAliases(t *testing.T) {
	usa := model.NewEntity("1", "Country", "USA")
	usa.Properties.Set(model.PropAliases, model.List(model.String("America"), model.String("usa")))

	assert.Equal(t,
		[]string{"US", "United States", "United States of America", "America"},
		CandidateAliases(BuiltinScorer{}, usa))

	custom := newPipeline(t, nil, WithAliasGroups([]string{"Big Blue", "IBM"}))
	ibm := model.NewEntity("2", "Company", "Big Blue")
	assert.Equal(t, []string{"IBM"}, CandidateAliases(ScorerFor(custom), ibm))
	assert.Empty(t, CandidateAliases(BuiltinScorer{}, ibm))

	assert.Equal(t, []string{"Plain"}, CandidateAliases(plainScorer{}, ibm))
}

func TestAliasTableExpand(t *testing.T) {
	table := DefaultAliasTable()
	assert.Equal(t, []string{"Hewlett-Packard", "Hewlett Packard"}, table.Expand("hp"))
	assert.Empty(t, table.Expand("Acme"))

	var none *AliasTable
	assert.Nil(t, none.Expand("USA"))
}
