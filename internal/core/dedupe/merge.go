package dedupe

import (
	"github.com/agenthands/fusion/internal/core/model"
)

type MergeOptions struct {
	// TrackConflicts moves keys holding different non-null values out of the
	// top level and into _property_conflicts instead of keeping the first value.
	TrackConflicts bool
}

// MergeEntities collapses entities into one: the first entity's id and type,
// properties unioned with first-seen winning, _aliases with every distinct name,
// _merged_count summed and provenance records gathered into _provenance_merged.
// It returns the zero Entity for an empty slice.
func MergeEntities(entities []model.Entity, opts MergeOptions) model.Entity {
	if len(entities) == 0 {
		return model.Entity{}
	}

	first := entities[0]
	out := model.Entity{ID: first.ID, Type: first.Type, Properties: model.NewProperties()}

	var aliases []string
	seenAlias := map[string]bool{}
	addAlias := func(name string) {
		if name == "" || seenAlias[name] {
			return
		}
		seenAlias[name] = true
		aliases = append(aliases, name)
	}

	var provenance valueSet
	conflicts := newConflictSet()
	count := 0

	for _, e := range entities {
		count += e.MergedCount()
		addAlias(e.Name())
		for _, a := range e.Aliases() {
			addAlias(a)
		}
		if out.Embedding == nil && len(e.Embedding) > 0 {
			out.Embedding = append([]float32(nil), e.Embedding...)
		}

		e.Properties.Range(func(key string, v model.Value) bool {
			switch {
			case key == model.PropAliases || key == model.PropMergedCount:
				return true
			case key == model.PropProvenance || key == model.PropProvenanceMerged:
				provenance.addAll(v)
				return true
			case key == model.PropPropertyConflicts && opts.TrackConflicts:
				conflicts.absorb(v)
				return true
			}

			existing, ok := out.Properties.Get(key)
			switch {
			case !ok:
				out.Properties.Set(key, v)
			case existing.IsNull() && !v.IsNull():
				out.Properties.Set(key, v)
			case opts.TrackConflicts && key != model.PropName && !v.IsNull() && !existing.IsNull() && !v.Equal(existing):
				conflicts.add(key, existing)
				conflicts.add(key, v)
			}
			return true
		})
	}

	if len(aliases) > 0 {
		items := make([]model.Value, len(aliases))
		for i, a := range aliases {
			items[i] = model.String(a)
		}
		out.Properties.Set(model.PropAliases, model.List(items...))
	}
	out.Properties.Set(model.PropMergedCount, model.Int(count))

	if conflicts.len() > 0 {
		fields := make(map[string]model.Value, conflicts.len())
		for _, key := range conflicts.keys {
			if v, ok := out.Properties.Get(key); ok {
				if !v.IsNull() {
					conflicts.add(key, v)
				}
				out.Properties.Delete(key)
			}
			fields[key] = model.List(conflicts.values[key].items...)
		}
		out.Properties.Set(model.PropPropertyConflicts, model.Map(fields))
	}

	if len(provenance.items) > 0 {
		out.Properties.Set(model.PropProvenanceMerged, model.List(provenance.items...))
	}
	return out
}

// valueSet keeps distinct values in insertion order.
type valueSet struct {
	items []model.Value
}

func (s *valueSet) add(v model.Value) {
	if v.IsNull() {
		return
	}
	for _, existing := range s.items {
		if existing.Equal(v) {
			return
		}
	}
	s.items = append(s.items, v)
}

// addAll adds each element of a list, or v itself otherwise.
func (s *valueSet) addAll(v model.Value) {
	if items, ok := v.AsList(); ok {
		for _, item := range items {
			s.add(item)
		}
		return
	}
	s.add(v)
}

type conflictSet struct {
	keys   []string
	values map[string]*valueSet
}

func newConflictSet() *conflictSet {
	return &conflictSet{values: map[string]*valueSet{}}
}

func (c *conflictSet) len() int { return len(c.keys) }

func (c *conflictSet) add(key string, v model.Value) {
	set, ok := c.values[key]
	if !ok {
		set = &valueSet{}
		c.values[key] = set
		c.keys = append(c.keys, key)
	}
	set.add(v)
}

// absorb folds a previously recorded _property_conflicts map into the set.
// Keys are visited sorted since map values carry no order.
func (c *conflictSet) absorb(v model.Value) {
	fields, ok := v.AsMap()
	if !ok {
		return
	}
	for _, key := range model.SortedKeys(fields) {
		items, ok := fields[key].AsList()
		if !ok {
			c.add(key, fields[key])
			continue
		}
		for _, item := range items {
			c.add(key, item)
		}
	}
}
