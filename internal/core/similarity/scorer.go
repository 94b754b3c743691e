package similarity

import (
	"context"

	"github.com/agenthands/fusion/internal/core/model"
)

// Blend weights of the built-in scorer. Not yet configurable per entity type.
const (
	NameWeight     = 0.7
	PropertyWeight = 0.3
)

// NameScorer scores candidate pairs for the deduplicator, the linker and fusion.
// Only context errors are returned.
type NameScorer interface {
	NameSimilarity(ctx context.Context, entityType, a, b string) (float64, error)
	EntitySimilarity(ctx context.Context, a, b model.Entity) (float64, error)
}

// BuiltinScorer uses string similarity for names and blends in property overlap.
type BuiltinScorer struct{}

func (BuiltinScorer) NameSimilarity(ctx context.Context, _ string, a, b string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return StringSimilarity(a, b), nil
}

// AliasesOf expands e's name through the built-in alias table.
func (BuiltinScorer) AliasesOf(e model.Entity) []string {
	return entityAliases(defaultAliases, e)
}

// EntitySimilarity blends name and property similarity when both entities share
// at least one comparable property; otherwise it is the name similarity.
func (s BuiltinScorer) EntitySimilarity(ctx context.Context, a, b model.Entity) (float64, error) {
	name, err := s.NameSimilarity(ctx, a.Type, a.Name(), b.Name())
	if err != nil {
		return 0, err
	}
	props, shared := PropertySimilarity(a.Properties, b.Properties)
	if !shared {
		return name, nil
	}
	return NameWeight*name + PropertyWeight*props, nil
}

// PipelineScorer delegates to a Pipeline; embeddings and alias properties take part.
type PipelineScorer struct {
	Pipeline *Pipeline
}

func (s PipelineScorer) NameSimilarity(ctx context.Context, entityType, a, b string) (float64, error) {
	res, err := s.Pipeline.ComputeSimilarity(ctx, Input{NameA: a, NameB: b, EntityType: entityType})
	if err != nil {
		return 0, err
	}
	return res.FinalScore, nil
}

// AliasesOf expands e's name through the pipeline's alias groups.
func (s PipelineScorer) AliasesOf(e model.Entity) []string {
	return entityAliases(s.Pipeline.aliases, e)
}

func (s PipelineScorer) EntitySimilarity(ctx context.Context, a, b model.Entity) (float64, error) {
	res, err := s.Pipeline.ComputeSimilarity(ctx, Input{
		NameA:      a.Name(),
		NameB:      b.Name(),
		EntityType: a.Type,
		PropsA:     a.Properties,
		PropsB:     b.Properties,
		EmbeddingA: a.Embedding,
		EmbeddingB: b.Embedding,
	})
	if err != nil {
		return 0, err
	}
	return res.FinalScore, nil
}

// ScorerFor returns a PipelineScorer for p, or the built-in scorer when p is nil.
func ScorerFor(p *Pipeline) NameScorer {
	if p == nil {
		return BuiltinScorer{}
	}
	return PipelineScorer{Pipeline: p}
}

// PropertySimilarity is the fraction of shared comparable keys whose values
// agree. Strings agree ignoring case and spacing. shared is false when the
// entities have no comparable key in common.
func PropertySimilarity(a, b model.Properties) (score float64, shared bool) {
	total, agree := 0, 0
	a.Range(func(key string, va model.Value) bool {
		if key == model.PropName || model.IsMeta(key) || va.IsNull() {
			return true
		}
		vb, ok := b.Get(key)
		if !ok || vb.IsNull() {
			return true
		}
		total++
		if valuesAgree(va, vb) {
			agree++
		}
		return true
	})
	if total == 0 {
		return 0, false
	}
	return float64(agree) / float64(total), true
}

func valuesAgree(a, b model.Value) bool {
	sa, okA := a.AsString()
	sb, okB := b.AsString()
	if okA && okB {
		return exactKey(sa) == exactKey(sb)
	}
	return a.Equal(b)
}
