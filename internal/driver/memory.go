package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenthands/fusion/internal/core/model"
)

// MemoryStore keeps entities and relations in process, in insertion order.
// It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]model.Entity
	order     []string
	relations map[string]model.Relation
	relOrder  []string
	noVector  bool
}

type MemoryOption func(*MemoryStore)

// WithoutVectorSearch makes VectorSearch report ErrVectorSearchUnsupported.
func WithoutVectorSearch() MemoryOption {
	return func(s *MemoryStore) { s.noVector = true }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entities:  map[string]model.Entity{},
		relations: map[string]model.Relation{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetEntity(ctx context.Context, id string) (model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return model.Entity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) AddEntity(ctx context.Context, e model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.ID]; ok {
		return fmt.Errorf("entity %q: %w", e.ID, ErrAlreadyExists)
	}
	s.entities[e.ID] = e.Clone()
	s.order = append(s.order, e.ID)
	return nil
}

func (s *MemoryStore) UpdateEntity(ctx context.Context, e model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.ID]; !ok {
		return fmt.Errorf("entity %q: %w", e.ID, ErrNotFound)
	}
	s.entities[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) DeleteEntity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	delete(s.entities, id)
	s.order = remove(s.order, id)

	for _, rid := range append([]string(nil), s.relOrder...) {
		if s.relations[rid].Touches(id) {
			delete(s.relations, rid)
			s.relOrder = remove(s.relOrder, rid)
		}
	}
	return nil
}

func (s *MemoryStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Entity, error) {
	all, err := s.ListEntities(ctx, []string{q.Type})
	if err != nil {
		return nil, err
	}
	return rankCandidates(q, all), nil
}

func (s *MemoryStore) VectorSearch(ctx context.Context, embedding []float32, entityType string, limit int) ([]model.ScoredEntity, error) {
	if s.noVector {
		return nil, ErrVectorSearchUnsupported
	}
	all, err := s.ListEntities(ctx, []string{entityType})
	if err != nil {
		return nil, err
	}
	return rankByEmbedding(embedding, entityType, limit, all), nil
}

func (s *MemoryStore) ListEntities(ctx context.Context, types []string) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keep := typeFilter(types)
	var out []model.Entity
	for _, id := range s.order {
		if e := s.entities[id]; keep(e.Type) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRelation(ctx context.Context, id string) (model.Relation, error) {
	if err := ctx.Err(); err != nil {
		return model.Relation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.relations[id]
	if !ok {
		return model.Relation{}, fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

// AddRelation requires both endpoints to exist.
func (s *MemoryStore) AddRelation(ctx context.Context, r model.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relations[r.ID]; ok {
		return fmt.Errorf("relation %q: %w", r.ID, ErrAlreadyExists)
	}
	if err := s.checkEndpoints(r); err != nil {
		return err
	}
	s.relations[r.ID] = r.Clone()
	s.relOrder = append(s.relOrder, r.ID)
	return nil
}

func (s *MemoryStore) UpdateRelation(ctx context.Context, r model.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relations[r.ID]; !ok {
		return fmt.Errorf("relation %q: %w", r.ID, ErrNotFound)
	}
	if err := s.checkEndpoints(r); err != nil {
		return err
	}
	s.relations[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) DeleteRelation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relations[id]; !ok {
		return fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	delete(s.relations, id)
	s.relOrder = remove(s.relOrder, id)
	return nil
}

func (s *MemoryStore) RelationsForEntity(ctx context.Context, entityID string) ([]model.Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Relation
	for _, id := range s.relOrder {
		if r := s.relations[id]; r.Touches(entityID) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

func (s *MemoryStore) checkEndpoints(r model.Relation) error {
	for _, id := range []string{r.SourceID, r.TargetID} {
		if _, ok := s.entities[id]; !ok {
			return fmt.Errorf("relation %q endpoint %q: %w", r.ID, id, ErrNotFound)
		}
	}
	return nil
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
