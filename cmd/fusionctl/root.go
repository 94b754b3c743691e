package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agenthands/fusion/internal/config"
	"github.com/agenthands/fusion/internal/core"
	"github.com/agenthands/fusion/internal/logging"
)

const envPrefix = "FUSION"

// fs is swapped for an in-memory filesystem in tests.
var fs = afero.NewOsFs()

var rootCmd = &cobra.Command{
	Use:   "fusionctl",
	Short: "Inspect and run knowledge-graph entity fusion",
	Long: `fusionctl scores entity names, deduplicates entity and relation batches
and runs cross-document fusion against the configured graph store.

Entity and relation files are JSON, either a bare array or an object with an
"entities" or "relations" key.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "service config file (TOML)")
	rootCmd.PersistentFlags().String("store", "", "store backend: memory, memgraph, badger or postgres")
	rootCmd.PersistentFlags().String("badger-path", "", "badger store directory")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit JSON logs")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("store.badger_path", rootCmd.PersistentFlags().Lookup("badger-path"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("json-logs"))
}

func initConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix) // e.g. FUSION_STORE_BACKEND
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// openEngine loads the service config, applies CLI overrides and wires an engine.
func openEngine(ctx context.Context) (*core.Engine, error) {
	cfg, err := config.LoadFS(fs, viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if backend := viper.GetString("store.backend"); backend != "" {
		cfg.Store.Backend = backend
	}
	if path := viper.GetString("store.badger_path"); path != "" {
		cfg.Store.BadgerPath = path
	}

	logger := logging.New(logging.Config{
		Level:   viper.GetString("log.level"),
		JSON:    viper.GetBool("log.json"),
		Service: "fusionctl",
	})
	return core.Open(ctx, cfg, logger, nil)
}

// withEngine runs fn against a freshly opened engine and closes it afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *core.Engine) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, e)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
