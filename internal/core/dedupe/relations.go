package dedupe

import (
	"github.com/agenthands/fusion/internal/core/model"
)

// RelationDeduplicator collapses relations sharing type, source and target.
type RelationDeduplicator struct {
	mergeProperties bool
}

func NewRelationDeduplicator(mergeProperties bool) *RelationDeduplicator {
	return &RelationDeduplicator{mergeProperties: mergeProperties}
}

// group lists relation indices per key in first-appearance order.
func group(relations []model.Relation) (keys []model.RelationKey, groups map[model.RelationKey][]int) {
	groups = make(map[model.RelationKey][]int)
	for i, r := range relations {
		k := r.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}
	return keys, groups
}

// Deduplicate returns one relation per (type, source, target), placed where the
// group first appeared. Singleton groups pass through unmodified.
func (d *RelationDeduplicator) Deduplicate(relations []model.Relation) []model.Relation {
	keys, groups := group(relations)
	out := make([]model.Relation, 0, len(keys))
	for _, k := range keys {
		idx := groups[k]
		if len(idx) == 1 {
			out = append(out, relations[idx[0]])
			continue
		}
		members := make([]model.Relation, len(idx))
		for i, j := range idx {
			members[i] = relations[j]
		}
		out = append(out, d.Merge(members))
	}
	return out
}

// Merge keeps the first relation's id and the highest weight. With
// mergeProperties, properties are unioned first-seen-wins and _merged_count is
// stamped; otherwise only the first relation's properties are kept.
func (d *RelationDeduplicator) Merge(relations []model.Relation) model.Relation {
	out := relations[0].Clone()

	for _, r := range relations[1:] {
		if r.Weight != nil && (out.Weight == nil || *r.Weight > *out.Weight) {
			out.Weight = model.Float(*r.Weight)
		}
	}

	if !d.mergeProperties {
		return out
	}

	props := model.NewProperties()
	count := 0
	for _, r := range relations {
		count += relationMergedCount(r)
		r.Properties.Range(func(key string, v model.Value) bool {
			if key == model.PropMergedCount {
				return true
			}
			if existing, ok := props.Get(key); !ok || (existing.IsNull() && !v.IsNull()) {
				props.Set(key, v)
			}
			return true
		})
	}
	props.Set(model.PropMergedCount, model.Int(count))
	out.Properties = props
	return out
}

// FindDuplicates reports every pair of relations within a duplicate group.
func (d *RelationDeduplicator) FindDuplicates(relations []model.Relation) []model.RelationPair {
	keys, groups := group(relations)
	var pairs []model.RelationPair
	for _, k := range keys {
		idx := groups[k]
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				pairs = append(pairs, model.RelationPair{First: relations[idx[i]], Second: relations[idx[j]]})
			}
		}
	}
	return pairs
}

func relationMergedCount(r model.Relation) int {
	v, ok := r.Properties.Get(model.PropMergedCount)
	if !ok {
		return 1
	}
	n, ok := v.AsNumber()
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}
