package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/config"
	"github.com/agenthands/fusion/internal/core"
	"github.com/agenthands/fusion/internal/logging"
	"github.com/agenthands/fusion/internal/metrics"
	"github.com/agenthands/fusion/internal/server"
)

const (
	serviceName       = "fusion-server"
	defaultConfigPath = "config/config.toml"
)

// configPath prefers the explicit path, then the bundled config file when it
// exists. An empty result makes config.Load fall back to defaults and env.
func configPath(explicit string, exists func(string) bool) string {
	if explicit != "" {
		return explicit
	}
	if exists(defaultConfigPath) {
		return defaultConfigPath
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.Format == "json",
		Service: serviceName,
	})
}

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load(configPath(os.Getenv("CONFIG_PATH"), fileExists))
	if err != nil {
		bootLogger := logging.New(logging.Config{Service: serviceName})
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg)
	if envErr != nil {
		logger.Debug().Msg("No .env file found, using environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := core.Open(ctx, cfg, logger, metrics.New(reg))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize fusion engine")
	}
	defer engine.Close(context.Background())

	if err := engine.BuildIndices(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to build store indices")
	}

	if cfg.MatchingFile != "" {
		go func() {
			if err := config.WatchMatchingFile(ctx, cfg.MatchingFile, engine.SetMatchingConfig, logger); err != nil {
				logger.Error().Err(err).Msg("Matching config watcher stopped")
			}
		}()
	}

	gin.SetMode(cfg.Server.Mode)
	srv := server.NewServer(engine, server.WithLogger(logger), server.WithGatherer(reg))
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.SetupRouter(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	logger.Info().Str("port", cfg.Server.Port).Msg("Starting server")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
