package fusion

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenthands/fusion/internal/core/dedupe"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/driver"
)

// sourceKeys are tried in order on map-shaped provenance records.
var sourceKeys = []string{"source", "document_id", "doc_id"}

// ResolvePropertyConflicts merges entities like batch deduplication does but
// records keys with disagreeing values under _property_conflicts instead of
// keeping the first value, and gathers provenance into _provenance_merged.
func (f *Fusion) ResolvePropertyConflicts(entities []model.Entity) (model.Entity, error) {
	return ResolvePropertyConflicts(entities)
}

func ResolvePropertyConflicts(entities []model.Entity) (model.Entity, error) {
	if len(entities) == 0 {
		return model.Entity{}, ErrNoEntities
	}
	return dedupe.MergeEntities(entities, dedupe.MergeOptions{TrackConflicts: true}), nil
}

// TrackEntityProvenance lists the distinct sources recorded on a stored
// entity. A missing entity has no provenance.
func (f *Fusion) TrackEntityProvenance(ctx context.Context, entityID string) ([]string, error) {
	e, err := f.store.GetEntity(ctx, entityID)
	if errors.Is(err, driver.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %q: %w", entityID, err)
	}
	return Sources(e), nil
}

// Sources extracts source identifiers from _provenance and _provenance_merged.
// String records are the source; map records name it under source, document_id
// or doc_id.
func Sources(e model.Entity) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	var visit func(v model.Value)
	visit = func(v model.Value) {
		if items, ok := v.AsList(); ok {
			for _, item := range items {
				visit(item)
			}
			return
		}
		if s, ok := v.AsString(); ok {
			add(s)
			return
		}
		for _, key := range sourceKeys {
			if field, ok := v.Field(key); ok {
				if s, ok := field.AsString(); ok && s != "" {
					add(s)
					return
				}
			}
		}
	}

	for _, key := range []string{model.PropProvenance, model.PropProvenanceMerged} {
		if v, ok := e.Properties.Get(key); ok {
			visit(v)
		}
	}
	return out
}
