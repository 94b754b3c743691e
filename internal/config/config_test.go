package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/fusion/internal/core/matching"
)

const sample = `
matching_file = ""

[log]
level = "debug"
format = "json"

[store]
backend = "badger"
badger_path = "/var/lib/fusion"

[cache]
backend = "redis"
ttl = "90s"
redis_addr = "localhost:6379"

[fusion]
similarity_threshold = 0.8
use_embeddings = false
alias_groups = [["Big Blue", "IBM"]]

[matching]
string_similarity_threshold = 0.9
enabled_stages = ["exact", "alias", "string"]

[matching.entity_types.Person.thresholds]
string_similarity_threshold = 0.95
`

func TestLoadFS(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/fusion.toml", []byte(sample), 0o644))

	cfg, err := LoadFS(fs, "/etc/fusion.toml")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, 0.8, cfg.Fusion.SimilarityThreshold)
	assert.False(t, cfg.Fusion.UseEmbeddings)
	assert.Equal(t, [][]string{{"Big Blue", "IBM"}}, cfg.Fusion.AliasGroups)
	// untouched sections keep defaults
	assert.Equal(t, 0.95, cfg.Fusion.EarlyExitThreshold)
	assert.Equal(t, "8080", cfg.Server.Port)

	ttl, err := cfg.Cache.Duration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)

	m, err := cfg.MatchingConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, 0.9, m.StringSimilarityThreshold)
	assert.Equal(t, 0.95, m.ForType("Person").Threshold(matching.StringSimilarityThreshold))
	assert.False(t, m.ForType("Person").StageEnabled("semantic"))
}

func TestLoadFSErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := LoadFS(fs, "/missing.toml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.toml", []byte("[log\nlevel="), 0o644))
	_, err = LoadFS(fs, "/bad.toml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad-matching.toml", []byte("[matching]\nsemantic_threshold = 2.0\n"), 0o644))
	cfg, err := LoadFS(fs, "/bad-matching.toml")
	require.NoError(t, err)
	_, err = cfg.MatchingConfig(fs)
	assert.ErrorIs(t, err, matching.ErrInvalidConfig)

	_, err = (CacheConfig{TTL: "soon"}).Duration()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"FUSION_STORE_BACKEND":  "postgres",
		"POSTGRES_DSN":          "postgres://localhost/fusion",
		"PORT":                  "9090",
		"EMBEDDING_PROVIDER":    "ollama",
		"FUSION_USE_EMBEDDINGS": "false",
		"LOG_LEVEL":             "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/fusion", cfg.Store.PostgresDSN)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.False(t, cfg.Fusion.UseEmbeddings)
	assert.Equal(t, "info", cfg.Log.Level)

	env["FUSION_USE_EMBEDDINGS"] = "maybe"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestMatchingConfigSources(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/matching.yaml", []byte("semantic_enabled: false\n"), 0o644))

	cfg := Default()
	cfg.Matching = map[string]any{"semantic_enabled": true}
	cfg.MatchingFile = "/matching.yaml"
	m, err := cfg.MatchingConfig(fs)
	require.NoError(t, err)
	assert.False(t, m.SemanticEnabled)

	m, err = Default().MatchingConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, matching.DefaultConfig(), m)
}

func TestWatchMatchingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matching.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"string_similarity_threshold": 0.8}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan *matching.Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchMatchingFile(ctx, path, func(c *matching.Config) error {
			applied <- c
			return nil
		}, zerolog.Nop())
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"string_similarity_threshold": 2}`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{"string_similarity_threshold": 0.7}`), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-applied:
			require.NotEqual(t, 2.0, c.StringSimilarityThreshold)
			if c.StringSimilarityThreshold == 0.7 {
				cancel()
				assert.NoError(t, <-done)
				return
			}
		case <-deadline:
			t.Fatal("matching config was not reloaded")
		}
	}
}
