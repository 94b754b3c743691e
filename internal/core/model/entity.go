package model

import "sort"

// Metadata keys written by merge operations.
const (
	PropName              = "name"
	PropAliases           = "_aliases"
	PropMergedCount       = "_merged_count"
	PropPropertyConflicts = "_property_conflicts"
	PropProvenance        = "_provenance"
	PropProvenanceMerged  = "_provenance_merged"
)

type Entity struct {
	ID         string     `json:"id"`
	Type       string     `json:"entity_type"`
	Properties Properties `json:"properties"`
	Embedding  []float32  `json:"embedding,omitempty"`
}

func NewEntity(id, entityType, name string) Entity {
	e := Entity{ID: id, Type: entityType, Properties: NewProperties()}
	if name != "" {
		e.Properties.Set(PropName, String(name))
	}
	return e
}

// Name returns the "name" property, or "" when absent or not a string.
func (e Entity) Name() string {
	return e.Properties.String(PropName)
}

func (e Entity) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// Clone returns a copy that shares no mutable state with e.
func (e Entity) Clone() Entity {
	out := Entity{ID: e.ID, Type: e.Type, Properties: e.Properties.Clone()}
	if e.Embedding != nil {
		out.Embedding = append([]float32(nil), e.Embedding...)
	}
	return out
}

// Aliases returns the names recorded under _aliases.
func (e Entity) Aliases() []string {
	v, ok := e.Properties.Get(PropAliases)
	if !ok {
		return nil
	}
	return v.Strings()
}

// MergedCount returns _merged_count, or 1 for an entity that was never merged.
func (e Entity) MergedCount() int {
	v, ok := e.Properties.Get(PropMergedCount)
	if !ok {
		return 1
	}
	n, ok := v.AsNumber()
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}

// IsMeta reports whether key is an engine-managed metadata key.
func IsMeta(key string) bool {
	return len(key) > 0 && key[0] == '_'
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
