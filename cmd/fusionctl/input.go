package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"

	"github.com/agenthands/fusion/internal/core/model"
)

// readBatch decodes a JSON file holding either a bare array or an object
// that wraps the array under key.
func readBatch[T any](fsys afero.Fs, path, key string) ([]T, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return items, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	raw, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("%s: no %q array found", path, key)
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return items, nil
}

func readEntities(path string) ([]model.Entity, error) {
	return readBatch[model.Entity](fs, path, "entities")
}

func readRelations(path string) ([]model.Relation, error) {
	return readBatch[model.Relation](fs, path, "relations")
}
