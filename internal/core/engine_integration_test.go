//go:build integration

package core

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/config"
	"github.com/agenthands/fusion/internal/core/fusion"
	"github.com/agenthands/fusion/internal/core/model"
)

func TestFullFlow(t *testing.T) {
	_ = godotenv.Load("../../.env")

	if os.Getenv("MEMGRAPH_URI") == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Backend = "memgraph"

	ctx := context.Background()
	e, err := Open(ctx, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	require.NoError(t, e.BuildIndices(ctx))

	// A run-unique type keeps the fusion scope away from other data.
	typ := fmt.Sprintf("Company_%s", uuid.NewString()[:8])
	id := func(s string) string { return typ + "-" + s }
	t.Cleanup(func() {
		for _, s := range []string{"a1", "a2", "m1"} {
			_ = e.Store.DeleteEntity(context.Background(), id(s))
		}
	})

	for _, ent := range []struct {
		id, name, doc string
	}{
		{"a1", "Apple Inc.", "doc-1"},
		{"a2", "Apple Inc", "doc-2"},
		{"m1", "Microsoft", "doc-3"},
	} {
		en := model.NewEntity(id(ent.id), typ, ent.name)
		en.Properties.Set(model.PropProvenance, model.List(model.String(ent.doc)))
		require.NoError(t, e.Store.AddEntity(ctx, en))
	}
	require.NoError(t, e.Store.AddRelation(ctx, model.Relation{
		ID: id("r1"), Type: "COMPETES_WITH", SourceID: id("a2"), TargetID: id("m1"), Properties: model.NewProperties(),
	}))

	links, err := e.Linker.LinkEntities(ctx, []model.Entity{model.NewEntity(id("new"), typ, "Microsoft")})
	require.NoError(t, err)
	require.True(t, links[0].Linked)
	assert.Equal(t, id("m1"), links[0].Existing.ID)

	stats, err := e.Fusion.FuseCrossDocumentEntities(ctx, []string{typ}, fusion.FuseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EntitiesMerged)
	assert.Equal(t, 1, stats.RelationsRewired)

	sources, err := e.Fusion.TrackEntityProvenance(ctx, id("a1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, sources)

	rels, err := e.Store.RelationsForEntity(ctx, id("a1"))
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, id("m1"), rels[0].TargetID)
}
