package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/agenthands/fusion/internal/core/matching"
)

// WatchMatchingFile reloads the matching config at path whenever it changes
// and hands every valid version to apply. Invalid rewrites are logged and
// skipped, leaving the previous config in place. It blocks until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func WatchMatchingFile(ctx context.Context, path string, apply func(*matching.Config) error, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fs := afero.NewOsFs()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			reload(fs, abs, apply, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("path", abs).Msg("matching config watcher error")
		}
	}
}

func reload(fs afero.Fs, path string, apply func(*matching.Config) error, logger zerolog.Logger) {
	cfg, err := matching.LoadFile(fs, path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("ignoring invalid matching config")
		return
	}
	if err := apply(cfg); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to apply matching config")
		return
	}
	logger.Info().Str("path", path).Msg("matching config reloaded")
}
