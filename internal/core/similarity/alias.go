package similarity

import (
	"github.com/agenthands/fusion/internal/core/model"
)

var builtinAliases = [][]string{
	{"USA", "US", "United States", "United States of America"},
	{"UK", "United Kingdom", "Great Britain", "Britain"},
	{"UAE", "United Arab Emirates"},
	{"EU", "European Union"},
	{"UN", "United Nations"},
	{"USSR", "Soviet Union"},
	{"NYC", "New York City"},
	{"LA", "Los Angeles"},
	{"SF", "San Francisco"},
	{"DC", "Washington DC", "Washington D.C."},
	{"IBM", "International Business Machines"},
	{"GE", "General Electric"},
	{"GM", "General Motors"},
	{"HP", "Hewlett-Packard", "Hewlett Packard"},
	{"AWS", "Amazon Web Services"},
	{"Facebook", "Meta Platforms"},
	{"NASA", "National Aeronautics and Space Administration"},
	{"FBI", "Federal Bureau of Investigation"},
	{"CIA", "Central Intelligence Agency"},
	{"WHO", "World Health Organization"},
	{"IMF", "International Monetary Fund"},
	{"NATO", "North Atlantic Treaty Organization"},
	{"MIT", "Massachusetts Institute of Technology"},
	{"UCLA", "University of California Los Angeles"},
	{"AI", "Artificial Intelligence"},
	{"ML", "Machine Learning"},
	{"CEO", "Chief Executive Officer"},
	{"CTO", "Chief Technology Officer"},
	{"CFO", "Chief Financial Officer"},
}

// AliasTable maps normalized names to the alias groups they belong to.
// It is read-only after construction.
type AliasTable struct {
	groups  map[string][]int
	members [][]string
}

func NewAliasTable(groups ...[]string) *AliasTable {
	t := &AliasTable{groups: map[string][]int{}}
	for _, g := range groups {
		t.add(g)
	}
	return t
}

var defaultAliases = DefaultAliasTable()

// DefaultAliasTable returns the built-in abbreviation and synonym groups.
func DefaultAliasTable() *AliasTable {
	return NewAliasTable(builtinAliases...)
}

func (t *AliasTable) add(group []string) {
	id := len(t.members)
	t.members = append(t.members, group)
	for _, name := range group {
		key := normalizedKey(name)
		if key == "" {
			continue
		}
		t.groups[key] = append(t.groups[key], id)
	}
}

// Same reports whether a and b share an alias group.
func (t *AliasTable) Same(a, b string) bool {
	ga := t.groups[normalizedKey(a)]
	if len(ga) == 0 {
		return false
	}
	for _, x := range t.groups[normalizedKey(b)] {
		for _, y := range ga {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Expand returns the other names that share an alias group with name.
func (t *AliasTable) Expand(name string) []string {
	if t == nil {
		return nil
	}
	key := normalizedKey(name)
	var out []string
	for _, id := range t.groups[key] {
		for _, n := range t.members[id] {
			if normalizedKey(n) != key {
				out = append(out, n)
			}
		}
	}
	return out
}

// AliasSource lists the other names an entity is known by.
type AliasSource interface {
	AliasesOf(e model.Entity) []string
}

// CandidateAliases returns the alternate names of e for candidate lookups,
// using s when it knows an alias table and the alias properties otherwise.
func CandidateAliases(s NameScorer, e model.Entity) []string {
	if src, ok := s.(AliasSource); ok {
		return src.AliasesOf(e)
	}
	return entityAliases(nil, e)
}

// entityAliases merges the table expansion of e's name with its alias
// properties, without duplicates or e's own name.
func entityAliases(t *AliasTable, e model.Entity) []string {
	name := e.Name()
	seen := map[string]bool{normalizedKey(name): true}
	var out []string
	for _, a := range append(t.Expand(name), propertyAliases(e.Properties)...) {
		key := normalizedKey(a)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// propertyAliases collects the alias lists carried by an entity.
func propertyAliases(props model.Properties) []string {
	var out []string
	for _, key := range []string{model.PropAliases, "aliases"} {
		if v, ok := props.Get(key); ok {
			out = append(out, v.Strings()...)
		}
	}
	return out
}

// aliasMatch checks the table and the alias properties of both sides.
func (t *AliasTable) aliasMatch(nameA, nameB string, propsA, propsB model.Properties) bool {
	if t != nil && t.Same(nameA, nameB) {
		return true
	}

	keyA, keyB := normalizedKey(nameA), normalizedKey(nameB)
	setA := map[string]bool{keyA: true}
	for _, a := range propertyAliases(propsA) {
		setA[normalizedKey(a)] = true
	}
	if len(setA) > 1 && setA[keyB] {
		return true
	}

	aliasesB := propertyAliases(propsB)
	for _, b := range aliasesB {
		if setA[normalizedKey(b)] {
			return true
		}
	}
	return false
}
