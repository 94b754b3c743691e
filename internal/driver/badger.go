package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/agenthands/fusion/internal/core/model"
)

// Key layout:
//
//	ent:<id>                       entity JSON
//	etype:<type>\x00<id>           type index
//	rel:<id>                       relation JSON
//	erel:<entity>\x00<relation>    adjacency index, one per endpoint
const (
	entityPrefix     = "ent:"
	entityTypePrefix = "etype:"
	relationPrefix   = "rel:"
	adjacencyPrefix  = "erel:"
)

func entityKey(id string) []byte { return []byte(entityPrefix + id) }

func entityTypeKey(typ, id string) []byte { return []byte(entityTypePrefix + typ + "\x00" + id) }

func entityTypeScan(typ string) []byte { return []byte(entityTypePrefix + typ + "\x00") }

func relationKey(id string) []byte { return []byte(relationPrefix + id) }

func adjacencyKey(entityID, relID string) []byte {
	return []byte(adjacencyPrefix + entityID + "\x00" + relID)
}

func adjacencyScan(entityID string) []byte { return []byte(adjacencyPrefix + entityID + "\x00") }

// BadgerStore persists entities and relations in an embedded BadgerDB.
// Listing is ordered by id; vector search is a full scan of the type index.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store at path. An empty path keeps the data in memory.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// DB exposes the underlying database so a cache can share it.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

func (s *BadgerStore) GetEntity(ctx context.Context, id string) (model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return model.Entity{}, err
	}
	var e model.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getEntity(txn, id)
		return err
	})
	return e, err
}

func (s *BadgerStore) AddEntity(ctx context.Context, e model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entityKey(e.ID)); err == nil {
			return fmt.Errorf("entity %q: %w", e.ID, ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putEntity(txn, e)
	})
}

func (s *BadgerStore) UpdateEntity(ctx context.Context, e model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := getEntity(txn, e.ID)
		if err != nil {
			return err
		}
		if old.Type != e.Type {
			if err := txn.Delete(entityTypeKey(old.Type, old.ID)); err != nil {
				return err
			}
		}
		return putEntity(txn, e)
	})
}

func (s *BadgerStore) DeleteEntity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e, err := getEntity(txn, id)
		if err != nil {
			return err
		}
		rels, err := relationsFor(txn, id)
		if err != nil {
			return err
		}
		for _, r := range rels {
			if err := deleteRelation(txn, r); err != nil {
				return err
			}
		}
		if err := txn.Delete(entityTypeKey(e.Type, id)); err != nil {
			return err
		}
		return txn.Delete(entityKey(id))
	})
}

func (s *BadgerStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Entity, error) {
	all, err := s.ListEntities(ctx, []string{q.Type})
	if err != nil {
		return nil, err
	}
	return rankCandidates(q, all), nil
}

func (s *BadgerStore) VectorSearch(ctx context.Context, embedding []float32, entityType string, limit int) ([]model.ScoredEntity, error) {
	all, err := s.ListEntities(ctx, []string{entityType})
	if err != nil {
		return nil, err
	}
	return rankByEmbedding(embedding, entityType, limit, all), nil
}

func (s *BadgerStore) ListEntities(ctx context.Context, types []string) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []model.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		if len(types) == 0 {
			return scanValues(txn, []byte(entityPrefix), func(val []byte) error {
				var e model.Entity
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("failed to decode entity: %w", err)
				}
				out = append(out, e)
				return nil
			})
		}

		seen := map[string]bool{}
		for _, typ := range types {
			if seen[typ] {
				continue
			}
			seen[typ] = true
			ids, err := scanSuffixes(txn, entityTypeScan(typ))
			if err != nil {
				return err
			}
			for _, id := range ids {
				e, err := getEntity(txn, id)
				if err != nil {
					return err
				}
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) GetRelation(ctx context.Context, id string) (model.Relation, error) {
	if err := ctx.Err(); err != nil {
		return model.Relation{}, err
	}
	var r model.Relation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRelation(txn, id)
		return err
	})
	return r, err
}

func (s *BadgerStore) AddRelation(ctx context.Context, r model.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(relationKey(r.ID)); err == nil {
			return fmt.Errorf("relation %q: %w", r.ID, ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putRelation(txn, r)
	})
}

func (s *BadgerStore) UpdateRelation(ctx context.Context, r model.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := getRelation(txn, r.ID)
		if err != nil {
			return err
		}
		if err := deleteRelation(txn, old); err != nil {
			return err
		}
		return putRelation(txn, r)
	})
}

func (s *BadgerStore) DeleteRelation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		r, err := getRelation(txn, id)
		if err != nil {
			return err
		}
		return deleteRelation(txn, r)
	})
}

func (s *BadgerStore) RelationsForEntity(ctx context.Context, entityID string) ([]model.Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []model.Relation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = relationsFor(txn, entityID)
		return err
	})
	return out, err
}

func (s *BadgerStore) Close(context.Context) error {
	return s.db.Close()
}

func getEntity(txn *badger.Txn, id string) (model.Entity, error) {
	var e model.Entity
	item, err := txn.Get(entityKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return e, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return e, fmt.Errorf("failed to decode entity %q: %w", id, err)
	}
	return e, nil
}

func putEntity(txn *badger.Txn, e model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entity %q: %w", e.ID, err)
	}
	if err := txn.Set(entityKey(e.ID), data); err != nil {
		return err
	}
	return txn.Set(entityTypeKey(e.Type, e.ID), nil)
}

func getRelation(txn *badger.Txn, id string) (model.Relation, error) {
	var r model.Relation
	item, err := txn.Get(relationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return r, fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return r, fmt.Errorf("failed to decode relation %q: %w", id, err)
	}
	return r, nil
}

// putRelation requires both endpoints to exist.
func putRelation(txn *badger.Txn, r model.Relation) error {
	for _, id := range []string{r.SourceID, r.TargetID} {
		if _, err := txn.Get(entityKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("relation %q endpoint %q: %w", r.ID, id, ErrNotFound)
		} else if err != nil {
			return err
		}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode relation %q: %w", r.ID, err)
	}
	if err := txn.Set(relationKey(r.ID), data); err != nil {
		return err
	}
	if err := txn.Set(adjacencyKey(r.SourceID, r.ID), nil); err != nil {
		return err
	}
	return txn.Set(adjacencyKey(r.TargetID, r.ID), nil)
}

func deleteRelation(txn *badger.Txn, r model.Relation) error {
	if err := txn.Delete(adjacencyKey(r.SourceID, r.ID)); err != nil {
		return err
	}
	if err := txn.Delete(adjacencyKey(r.TargetID, r.ID)); err != nil {
		return err
	}
	return txn.Delete(relationKey(r.ID))
}

func relationsFor(txn *badger.Txn, entityID string) ([]model.Relation, error) {
	ids, err := scanSuffixes(txn, adjacencyScan(entityID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Relation, 0, len(ids))
	for _, id := range ids {
		r, err := getRelation(txn, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// scanSuffixes returns the remainder of every key under prefix.
func scanSuffixes(txn *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out, nil
}

func scanValues(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
