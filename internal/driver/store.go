// Package driver holds the storage contract the fusion engine consumes and
// its implementations: an in-process store, Memgraph over bolt, BadgerDB and
// Postgres.
package driver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrVectorSearchUnsupported is returned by stores without an embedding index.
	ErrVectorSearchUnsupported = errors.New("vector search not supported")
)

// DefaultCandidateLimit bounds candidate queries that do not set a limit.
const DefaultCandidateLimit = 20

// CandidateQuery selects stored entities of one type whose name is plausibly
// the same as NameHint or one of Aliases. A stored entity's own _aliases count
// as names too. An empty hint matches every entity of the type.
type CandidateQuery struct {
	Type     string
	NameHint string
	Aliases  []string
	Limit    int
}

// hints returns NameHint and Aliases, dropping names with no letters or digits.
func (q CandidateQuery) hints() []string {
	var out []string
	for _, h := range append([]string{q.NameHint}, q.Aliases...) {
		if len(hintTokens(h)) > 0 {
			out = append(out, h)
		}
	}
	return out
}

// candidateFilter is the server-side narrowing of plausible. A name passes
// when it contains one of fragments or its word initials are one of
// initialisms. Empty fragments means no narrowing.
type candidateFilter struct {
	fragments   []string
	initialisms []string
}

const fragmentRunes = 3

func (q CandidateQuery) filter() candidateFilter {
	f := candidateFilter{fragments: []string{}, initialisms: []string{}}
	seen := map[string]bool{}
	addFragment := func(s string) {
		if !seen[s] {
			seen[s] = true
			f.fragments = append(f.fragments, s)
		}
	}
	for _, h := range q.hints() {
		ts := hintTokens(h)
		if len(ts) == 1 {
			f.initialisms = append(f.initialisms, ts[0])
		} else {
			addFragment(initials(ts))
		}
		for _, t := range ts {
			if r := []rune(t); len(r) > fragmentRunes {
				t = string(r[:fragmentRunes])
			}
			addFragment(t)
		}
	}
	return f
}

// likePatterns wraps each fragment for a case-folded LIKE match.
func (f candidateFilter) likePatterns() []string {
	out := make([]string, len(f.fragments))
	for i, frag := range f.fragments {
		out[i] = "%" + frag + "%"
	}
	return out
}

func (q CandidateQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultCandidateLimit
	}
	return q.Limit
}

type EntityStore interface {
	GetEntity(ctx context.Context, id string) (model.Entity, error)
	AddEntity(ctx context.Context, e model.Entity) error
	UpdateEntity(ctx context.Context, e model.Entity) error
	// DeleteEntity removes the entity together with every relation touching it.
	DeleteEntity(ctx context.Context, id string) error
	FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Entity, error)
	VectorSearch(ctx context.Context, embedding []float32, entityType string, limit int) ([]model.ScoredEntity, error)
	// ListEntities returns every entity whose type is in types, or all entities when types is empty.
	ListEntities(ctx context.Context, types []string) ([]model.Entity, error)
}

type RelationStore interface {
	GetRelation(ctx context.Context, id string) (model.Relation, error)
	AddRelation(ctx context.Context, r model.Relation) error
	UpdateRelation(ctx context.Context, r model.Relation) error
	DeleteRelation(ctx context.Context, id string) error
	RelationsForEntity(ctx context.Context, entityID string) ([]model.Relation, error)
}

type Store interface {
	EntityStore
	RelationStore
	Close(ctx context.Context) error
}

// hintTokens lowercases s and splits it on anything that is not a letter or digit.
func hintTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func initials(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		r := []rune(t)
		b.WriteRune(r[0])
	}
	return b.String()
}

// plausible is the coarse candidate filter shared by all stores. It accepts
// containment either way, a shared token prefix and initialisms.
func plausible(hint, name string) bool {
	ht, nt := hintTokens(hint), hintTokens(name)
	if len(ht) == 0 {
		return true
	}
	if len(nt) == 0 {
		return false
	}

	hj, nj := strings.Join(ht, ""), strings.Join(nt, "")
	if strings.Contains(hj, nj) || strings.Contains(nj, hj) {
		return true
	}
	if (len(ht) == 1 && len(nt) > 1 && ht[0] == initials(nt)) ||
		(len(nt) == 1 && len(ht) > 1 && nt[0] == initials(ht)) {
		return true
	}

	for _, a := range ht {
		for _, b := range nt {
			if sharePrefix(a, b, 3) {
				return true
			}
		}
	}
	return false
}

func sharePrefix(a, b string, n int) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < n {
		n = len(ra)
	}
	if len(rb) < n {
		n = len(rb)
	}
	if n == 0 {
		return false
	}
	return string(ra[:n]) == string(rb[:n])
}

// rankCandidates keeps the entities of q.Type that pass the plausibility
// filter for any hint and any of their names, best string similarity first,
// and truncates to the query limit. The sort is stable so equal scores keep
// store order.
func rankCandidates(q CandidateQuery, entities []model.Entity) []model.Entity {
	type scored struct {
		e     model.Entity
		score float64
	}
	hints := q.hints()
	var out []scored
	for _, e := range entities {
		if e.Type != q.Type {
			continue
		}
		if len(hints) == 0 {
			out = append(out, scored{e: e})
			continue
		}
		names := append([]string{e.Name()}, e.Aliases()...)
		best, ok := 0.0, false
		for _, h := range hints {
			for _, n := range names {
				if !plausible(h, n) {
					continue
				}
				ok = true
				if s := similarity.StringSimilarity(h, n); s > best {
					best = s
				}
			}
		}
		if ok {
			out = append(out, scored{e: e, score: best})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	if n := q.limit(); len(out) > n {
		out = out[:n]
	}
	res := make([]model.Entity, len(out))
	for i, s := range out {
		res[i] = s.e
	}
	return res
}

// rankByEmbedding scores every entity of entityType that carries an embedding.
func rankByEmbedding(embedding []float32, entityType string, limit int, entities []model.Entity) []model.ScoredEntity {
	var out []model.ScoredEntity
	for _, e := range entities {
		if e.Type != entityType || !e.HasEmbedding() {
			continue
		}
		out = append(out, model.ScoredEntity{Entity: e, Score: similarity.Cosine(embedding, e.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func typeFilter(types []string) func(string) bool {
	if len(types) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(t string) bool { return set[t] }
}
