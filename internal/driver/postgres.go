package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenthands/fusion/internal/core/model"
)

// Properties use json rather than jsonb so key order survives.
const postgresSchema = `
	CREATE TABLE IF NOT EXISTS fusion_entities (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		properties  JSON NOT NULL DEFAULT '{}',
		embedding   REAL[]
	);
	CREATE INDEX IF NOT EXISTS fusion_entities_type_name ON fusion_entities (entity_type, name);

	CREATE TABLE IF NOT EXISTS fusion_relations (
		seq           BIGSERIAL,
		id            TEXT PRIMARY KEY,
		relation_type TEXT NOT NULL,
		source_id     TEXT NOT NULL REFERENCES fusion_entities (id) ON DELETE CASCADE,
		target_id     TEXT NOT NULL REFERENCES fusion_entities (id) ON DELETE CASCADE,
		properties    JSON NOT NULL DEFAULT '{}',
		weight        DOUBLE PRECISION
	);
	CREATE INDEX IF NOT EXISTS fusion_relations_source ON fusion_relations (source_id);
	CREATE INDEX IF NOT EXISTS fusion_relations_target ON fusion_relations (target_id);
`

const (
	entitySelect   = `SELECT id, entity_type, properties, embedding FROM fusion_entities`
	relationSelect = `SELECT id, relation_type, source_id, target_id, properties, weight FROM fusion_relations`

	// $2 holds LIKE patterns, $3 word initialisms; an empty $2 disables narrowing.
	candidateWhere = ` WHERE entity_type = $1 AND (
		cardinality($2::text[]) = 0
		OR lower(name) LIKE ANY($2::text[])
		OR regexp_replace(lower(name), '([[:alnum:]])[[:alnum:]]*[^[:alnum:]]*', '\1', 'g') = ANY($3::text[])
	) ORDER BY name LIMIT $4`

	foreignKeyViolation = "23503"
)

// PostgresStore keeps entities and relations in two tables. It has no vector
// index, so VectorSearch always reports ErrVectorSearchUnsupported.
type PostgresStore struct {
	pool      *pgxpool.Pool
	scanLimit int
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, scanLimit: 1000}
}

// ConnectPostgres opens a pool for dsn and creates the schema if needed.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx, entitySelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Entity{}, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) AddEntity(ctx context.Context, e model.Entity) error {
	props, err := e.Properties.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode properties of %q: %w", e.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO fusion_entities (id, entity_type, name, properties, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Type, e.Name(), string(props), embeddingArg(e))
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", e.ID, ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, e model.Entity) error {
	props, err := e.Properties.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode properties of %q: %w", e.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE fusion_entities
		SET entity_type = $2, name = $3, properties = $4, embedding = $5
		WHERE id = $1
	`, e.ID, e.Type, e.Name(), string(props), embeddingArg(e))
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fusion_entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Entity, error) {
	f := q.filter()
	entities, err := s.queryEntities(ctx, entitySelect+candidateWhere, q.Type, f.likePatterns(), f.initialisms, s.scanLimit)
	if err != nil {
		return nil, err
	}
	return rankCandidates(q, entities), nil
}

func (s *PostgresStore) VectorSearch(context.Context, []float32, string, int) ([]model.ScoredEntity, error) {
	return nil, ErrVectorSearchUnsupported
}

func (s *PostgresStore) ListEntities(ctx context.Context, types []string) ([]model.Entity, error) {
	if len(types) == 0 {
		return s.queryEntities(ctx, entitySelect+` ORDER BY seq`)
	}
	return s.queryEntities(ctx, entitySelect+` WHERE entity_type = ANY($1) ORDER BY seq`, types)
}

func (s *PostgresStore) GetRelation(ctx context.Context, id string) (model.Relation, error) {
	r, err := scanRelation(s.pool.QueryRow(ctx, relationSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Relation{}, fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Relation{}, fmt.Errorf("failed to get relation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) AddRelation(ctx context.Context, r model.Relation) error {
	props, err := r.Properties.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode properties of %q: %w", r.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO fusion_relations (id, relation_type, source_id, target_id, properties, weight)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Type, r.SourceID, r.TargetID, string(props), r.Weight)
	if err != nil {
		return relationWriteError(r, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relation %q: %w", r.ID, ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) UpdateRelation(ctx context.Context, r model.Relation) error {
	props, err := r.Properties.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode properties of %q: %w", r.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE fusion_relations
		SET relation_type = $2, source_id = $3, target_id = $4, properties = $5, weight = $6
		WHERE id = $1
	`, r.ID, r.Type, r.SourceID, r.TargetID, string(props), r.Weight)
	if err != nil {
		return relationWriteError(r, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relation %q: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteRelation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fusion_relations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete relation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RelationsForEntity(ctx context.Context, entityID string) ([]model.Relation, error) {
	rows, err := s.pool.Query(ctx, relationSelect+` WHERE source_id = $1 OR target_id = $1 ORDER BY seq`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var out []model.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryEntities(ctx context.Context, query string, args ...any) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

func scanEntity(row pgx.Row) (model.Entity, error) {
	var (
		e     model.Entity
		props []byte
	)
	if err := row.Scan(&e.ID, &e.Type, &props, &e.Embedding); err != nil {
		return model.Entity{}, err
	}
	if err := e.Properties.UnmarshalJSON(props); err != nil {
		return model.Entity{}, fmt.Errorf("failed to decode properties of %q: %w", e.ID, err)
	}
	return e, nil
}

func scanRelation(row pgx.Row) (model.Relation, error) {
	var (
		r     model.Relation
		props []byte
	)
	if err := row.Scan(&r.ID, &r.Type, &r.SourceID, &r.TargetID, &props, &r.Weight); err != nil {
		return model.Relation{}, err
	}
	if err := r.Properties.UnmarshalJSON(props); err != nil {
		return model.Relation{}, fmt.Errorf("failed to decode properties of %q: %w", r.ID, err)
	}
	return r, nil
}

func embeddingArg(e model.Entity) any {
	if !e.HasEmbedding() {
		return nil
	}
	return e.Embedding
}

func relationWriteError(r model.Relation, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("relation %q endpoints %q -> %q: %w", r.ID, r.SourceID, r.TargetID, ErrNotFound)
	}
	return fmt.Errorf("failed to write relation: %w", err)
}
