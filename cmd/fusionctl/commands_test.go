package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/core/model"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func useMemFs(t *testing.T, files map[string]string) {
	t.Helper()
	mem := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(mem, name, []byte(content), 0o644))
	}
	prev := fs
	fs = mem
	t.Cleanup(func() { fs = prev })
}

func TestSimilarityCommand(t *testing.T) {
	useMemFs(t, nil)
	out := run(t, "similarity", "USA", "United States", "--type", "Country")

	var res model.SimilarityResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, model.StageAlias, res.MatchedStage)
	assert.True(t, res.IsMatch)
}

func TestDedupeCommand(t *testing.T) {
	useMemFs(t, map[string]string{
		"batch.json": `[
			{"id":"e1","entity_type":"Company","properties":{"name":"Apple Inc."}},
			{"id":"e2","entity_type":"Company","properties":{"name":"Apple Inc"}},
			{"id":"e3","entity_type":"Company","properties":{"name":"Microsoft"}}
		]`,
	})

	var entities []model.Entity
	require.NoError(t, json.Unmarshal([]byte(run(t, "dedupe", "batch.json")), &entities))
	require.Len(t, entities, 2)
	assert.Equal(t, "e1", entities[0].ID)
	assert.Equal(t, 2, entities[0].MergedCount())

	require.NoError(t, json.Unmarshal([]byte(run(t, "dedupe", "batch.json", "--threshold", "0.99")), &entities))
	assert.Len(t, entities, 3)
}

func TestRelationsCommand(t *testing.T) {
	useMemFs(t, map[string]string{
		"rels.json": `{"relations":[
			{"id":"r1","relation_type":"WORKS_AT","source_id":"p1","target_id":"c1","properties":{"since":2019}},
			{"id":"r2","relation_type":"WORKS_AT","source_id":"p1","target_id":"c1","properties":{"role":"engineer"}}
		]}`,
	})

	var relations []model.Relation
	require.NoError(t, json.Unmarshal([]byte(run(t, "relations", "rels.json", "--merge-properties")), &relations))
	require.Len(t, relations, 1)
	assert.True(t, relations[0].Properties.Has("role"))
	assert.True(t, relations[0].Properties.Has("since"))

	var pairs []model.RelationPair
	require.NoError(t, json.Unmarshal([]byte(run(t, "relations", "rels.json", "--pairs")), &pairs))
	require.Len(t, pairs, 1)
	assert.Equal(t, "r2", pairs[0].Second.ID)
}

func TestMergeCommand(t *testing.T) {
	useMemFs(t, map[string]string{
		"merge.json": `{"entities":[
			{"id":"e1","entity_type":"Company","properties":{"name":"Apple","ceo":"Tim Cook"}},
			{"id":"e2","entity_type":"Company","properties":{"name":"Apple","ceo":"Steve Jobs"}}
		]}`,
		"empty.json": `[]`,
	})

	var merged model.Entity
	require.NoError(t, json.Unmarshal([]byte(run(t, "merge", "merge.json")), &merged))
	assert.False(t, merged.Properties.Has("ceo"))
	assert.True(t, merged.Properties.Has(model.PropPropertyConflicts))

	rootCmd.SetArgs([]string{"merge", "empty.json"})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	assert.Error(t, rootCmd.Execute())
}

func TestFuseAndProvenanceOnEmptyStore(t *testing.T) {
	useMemFs(t, nil)

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(run(t, "fuse", "--dry-run")), &stats))
	assert.Equal(t, true, stats["dry_run"])
	assert.Equal(t, float64(0), stats["entities_analyzed"])

	out := run(t, "provenance", "missing")
	assert.JSONEq(t, `{"entity_id":"missing","sources":[]}`, out)
}

func TestReadBatchErrors(t *testing.T) {
	useMemFs(t, map[string]string{
		"bad.json":   `{"entities": 3}`,
		"other.json": `{"nodes": []}`,
	})

	_, err := readEntities("bad.json")
	assert.Error(t, err)

	_, err = readEntities("other.json")
	assert.ErrorContains(t, err, `no "entities" array`)

	_, err = readEntities("missing.json")
	assert.ErrorContains(t, err, "failed to read")
}
