package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/agenthands/fusion/internal/core/matching"
)

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	Mode string `toml:"mode"`
}

type StoreConfig struct {
	// Backend is one of memory, memgraph, badger or postgres.
	Backend     string `toml:"backend"`
	BadgerPath  string `toml:"badger_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	VectorIndex string `toml:"vector_index"`
	VectorDim   int    `toml:"vector_dimension"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type EmbeddingConfig struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	BreakerFailures int    `toml:"breaker_failures"`
}

type CacheConfig struct {
	// Backend is one of none, memory, badger or redis.
	Backend       string `toml:"backend"`
	TTL           string `toml:"ttl"`
	MaxBytes      int64  `toml:"max_bytes"`
	BadgerPath    string `toml:"badger_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Duration parses TTL; an empty value means no expiry.
func (c CacheConfig) Duration() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache ttl %q: %w", c.TTL, err)
	}
	return d, nil
}

type FusionConfig struct {
	SimilarityThreshold float64    `toml:"similarity_threshold"`
	UseEmbeddings       bool       `toml:"use_embeddings"`
	EmbeddingThreshold  float64    `toml:"embedding_threshold"`
	EarlyExitThreshold  float64    `toml:"early_exit_threshold"`
	CandidateLimit      int        `toml:"candidate_limit"`
	Concurrency         int        `toml:"concurrency"`
	AliasGroups         [][]string `toml:"alias_groups"`
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Memgraph  MemgraphConfig  `toml:"memgraph"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Cache     CacheConfig     `toml:"cache"`
	Fusion    FusionConfig    `toml:"fusion"`

	// Matching is decoded by the matching package; MatchingFile takes precedence.
	Matching     map[string]any `toml:"matching"`
	MatchingFile string         `toml:"matching_file"`
}

func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{Port: "8080", Mode: "release"},
		Store:  StoreConfig{Backend: "memory"},
		Memgraph: MemgraphConfig{
			URI: "bolt://localhost:7687",
		},
		Embedding: EmbeddingConfig{BreakerFailures: 5},
		Cache:     CacheConfig{Backend: "memory", TTL: "10m", MaxBytes: 64 << 20},
		Fusion: FusionConfig{
			SimilarityThreshold: 0.85,
			UseEmbeddings:       true,
			EmbeddingThreshold:  0.9,
			EarlyExitThreshold:  0.95,
			CandidateLimit:      20,
			Concurrency:         1,
		},
	}
}

func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS reads a TOML file over the defaults and applies environment
// overrides. An empty path yields defaults plus environment.
func LoadFS(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FUSION_STORE_BACKEND": &c.Store.Backend,
		"MEMGRAPH_URI":         &c.Memgraph.URI,
		"MEMGRAPH_USER":        &c.Memgraph.User,
		"MEMGRAPH_PASSWORD":    &c.Memgraph.Password,
		"POSTGRES_DSN":         &c.Store.PostgresDSN,
		"BADGER_PATH":          &c.Store.BadgerPath,
		"REDIS_ADDR":           &c.Cache.RedisAddr,
		"EMBEDDING_PROVIDER":   &c.Embedding.Provider,
		"EMBEDDING_MODEL":      &c.Embedding.Model,
		"EMBEDDING_API_KEY":    &c.Embedding.APIKey,
		"EMBEDDING_BASE_URL":   &c.Embedding.BaseURL,
		"PORT":                 &c.Server.Port,
		"LOG_LEVEL":            &c.Log.Level,
		"MATCHING_FILE":        &c.MatchingFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("FUSION_USE_EMBEDDINGS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FUSION_USE_EMBEDDINGS %q: %w", v, err)
		}
		c.Fusion.UseEmbeddings = b
	}
	return nil
}

// MatchingConfig builds the matching configuration from matching_file, the
// [matching] table, or the defaults, in that order.
func (c *Config) MatchingConfig(fs afero.Fs) (*matching.Config, error) {
	switch {
	case c.MatchingFile != "":
		return matching.LoadFile(fs, c.MatchingFile)
	case len(c.Matching) > 0:
		return matching.Parse(c.Matching)
	default:
		return matching.DefaultConfig(), nil
	}
}
