package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/core/model"
)

type MemgraphDriver struct {
	Driver neo4j.DriverWithContext
	logger zerolog.Logger
}

func NewMemgraphDriver(ctx context.Context, uri, username, password string, logger zerolog.Logger) (*MemgraphDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}

	logger.Info().Str("uri", uri).Msg("connected to memgraph")
	return &MemgraphDriver{Driver: driver, logger: logger}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	for _, q := range indexQueries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			// usually the index already exists
			d.logger.Warn().Err(err).Str("query", q).Msg("failed to create index")
		}
	}
	return nil
}

// MemgraphStore implements Store on top of a GraphDriver.
type MemgraphStore struct {
	driver GraphDriver
	logger zerolog.Logger

	vectorIndex    string
	vectorDim      int
	vectorCapacity int
	scanLimit      int
}

type MemgraphOption func(*MemgraphStore)

// WithVectorIndex enables VectorSearch through the named Memgraph vector index.
func WithVectorIndex(name string, dimension, capacity int) MemgraphOption {
	return func(s *MemgraphStore) {
		s.vectorIndex = name
		s.vectorDim = dimension
		s.vectorCapacity = capacity
	}
}

// WithCandidateScanLimit bounds how many same-typed nodes FindCandidates inspects.
func WithCandidateScanLimit(n int) MemgraphOption {
	return func(s *MemgraphStore) { s.scanLimit = n }
}

func WithMemgraphLogger(l zerolog.Logger) MemgraphOption {
	return func(s *MemgraphStore) { s.logger = l }
}

func NewMemgraphStore(driver GraphDriver, opts ...MemgraphOption) *MemgraphStore {
	s := &MemgraphStore{
		driver:    driver,
		logger:    zerolog.Nop(),
		scanLimit: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildIndices creates the property indices and, when configured, the vector index.
func (s *MemgraphStore) BuildIndices(ctx context.Context) error {
	if err := s.driver.BuildIndices(ctx); err != nil {
		return err
	}
	if s.vectorIndex == "" {
		return nil
	}
	capacity := s.vectorCapacity
	if capacity <= 0 {
		capacity = 100000
	}
	q := fmt.Sprintf(CreateVectorIndexQuery, s.vectorIndex, s.vectorDim, capacity)
	if _, err := s.driver.ExecuteQuery(ctx, q, nil); err != nil {
		s.logger.Warn().Err(err).Str("index", s.vectorIndex).Msg("failed to create vector index")
	}
	return nil
}

func (s *MemgraphStore) GetEntity(ctx context.Context, id string) (model.Entity, error) {
	res, err := s.driver.ExecuteQuery(ctx, GetEntityQuery, map[string]any{"id": id})
	if err != nil {
		return model.Entity{}, err
	}
	if len(res.Records) == 0 {
		return model.Entity{}, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return decodeEntity(res.Records[0])
}

func (s *MemgraphStore) AddEntity(ctx context.Context, e model.Entity) error {
	params, err := entityParams(e)
	if err != nil {
		return err
	}
	res, err := s.driver.ExecuteQuery(ctx, AddEntityQuery, params)
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("entity %q: %w", e.ID, ErrAlreadyExists)
	}
	return nil
}

func (s *MemgraphStore) UpdateEntity(ctx context.Context, e model.Entity) error {
	params, err := entityParams(e)
	if err != nil {
		return err
	}
	res, err := s.driver.ExecuteQuery(ctx, UpdateEntityQuery, params)
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("entity %q: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *MemgraphStore) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.driver.ExecuteQuery(ctx, DeleteEntityQuery, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MemgraphStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Entity, error) {
	f := q.filter()
	res, err := s.driver.ExecuteQuery(ctx, CandidateScanQuery, map[string]any{
		"entity_type": q.Type,
		"fragments":   f.fragments,
		"initialisms": f.initialisms,
		"scan":        int64(s.scanLimit),
	})
	if err != nil {
		return nil, err
	}
	entities, err := decodeEntities(res.Records)
	if err != nil {
		return nil, err
	}
	return rankCandidates(q, entities), nil
}

func (s *MemgraphStore) VectorSearch(ctx context.Context, embedding []float32, entityType string, limit int) ([]model.ScoredEntity, error) {
	if s.vectorIndex == "" {
		return nil, ErrVectorSearchUnsupported
	}
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	// The index is shared by all types, so over-fetch before the type filter.
	res, err := s.driver.ExecuteQuery(ctx, VectorSearchQuery, map[string]any{
		"index":       s.vectorIndex,
		"limit":       int64(limit * 4),
		"embedding":   toFloat64s(embedding),
		"entity_type": entityType,
	})
	if err != nil {
		return nil, err
	}

	var out []model.ScoredEntity
	for _, rec := range res.Records {
		e, err := decodeEntity(rec)
		if err != nil {
			return nil, err
		}
		score, _ := rec.Get("score")
		f, _ := score.(float64)
		out = append(out, model.ScoredEntity{Entity: e, Score: f})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemgraphStore) ListEntities(ctx context.Context, types []string) ([]model.Entity, error) {
	if types == nil {
		types = []string{}
	}
	res, err := s.driver.ExecuteQuery(ctx, ListEntitiesQuery, map[string]any{"types": types})
	if err != nil {
		return nil, err
	}
	return decodeEntities(res.Records)
}

func (s *MemgraphStore) GetRelation(ctx context.Context, id string) (model.Relation, error) {
	res, err := s.driver.ExecuteQuery(ctx, GetRelationQuery, map[string]any{"id": id})
	if err != nil {
		return model.Relation{}, err
	}
	if len(res.Records) == 0 {
		return model.Relation{}, fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	return decodeRelation(res.Records[0])
}

func (s *MemgraphStore) AddRelation(ctx context.Context, r model.Relation) error {
	_, err := s.GetRelation(ctx, r.ID)
	switch {
	case err == nil:
		return fmt.Errorf("relation %q: %w", r.ID, ErrAlreadyExists)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	params, err := relationParams(r)
	if err != nil {
		return err
	}
	res, err := s.driver.ExecuteQuery(ctx, AddRelationQuery, params)
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("relation %q endpoints %q -> %q: %w", r.ID, r.SourceID, r.TargetID, ErrNotFound)
	}
	return nil
}

func (s *MemgraphStore) UpdateRelation(ctx context.Context, r model.Relation) error {
	params, err := relationParams(r)
	if err != nil {
		return err
	}
	res, err := s.driver.ExecuteQuery(ctx, UpdateRelationQuery, params)
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("relation %q: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *MemgraphStore) DeleteRelation(ctx context.Context, id string) error {
	res, err := s.driver.ExecuteQuery(ctx, DeleteRelationQuery, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("relation %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MemgraphStore) RelationsForEntity(ctx context.Context, entityID string) ([]model.Relation, error) {
	res, err := s.driver.ExecuteQuery(ctx, RelationsForEntityQuery, map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	out := make([]model.Relation, 0, len(res.Records))
	for _, rec := range res.Records {
		r, err := decodeRelation(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func entityParams(e model.Entity) (map[string]any, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of %q: %w", e.ID, err)
	}
	var embedding any
	if e.HasEmbedding() {
		embedding = toFloat64s(e.Embedding)
	}
	return map[string]any{
		"id":          e.ID,
		"entity_type": e.Type,
		"name":        e.Name(),
		"properties":  string(props),
		"embedding":   embedding,
	}, nil
}

func relationParams(r model.Relation) (map[string]any, error) {
	props, err := json.Marshal(r.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of %q: %w", r.ID, err)
	}
	var weight any
	if r.Weight != nil {
		weight = *r.Weight
	}
	return map[string]any{
		"id":            r.ID,
		"relation_type": r.Type,
		"source_id":     r.SourceID,
		"target_id":     r.TargetID,
		"properties":    string(props),
		"weight":        weight,
	}, nil
}

func decodeEntities(records []*neo4j.Record) ([]model.Entity, error) {
	out := make([]model.Entity, 0, len(records))
	for _, rec := range records {
		e, err := decodeEntity(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeEntity(rec *neo4j.Record) (model.Entity, error) {
	e := model.Entity{
		ID:   recordString(rec, "id"),
		Type: recordString(rec, "entity_type"),
	}
	if err := decodeProperties(rec, &e.Properties); err != nil {
		return model.Entity{}, fmt.Errorf("entity %q: %w", e.ID, err)
	}
	if raw, ok := rec.Get("embedding"); ok {
		e.Embedding = toFloat32s(raw)
	}
	return e, nil
}

func decodeRelation(rec *neo4j.Record) (model.Relation, error) {
	r := model.Relation{
		ID:       recordString(rec, "id"),
		Type:     recordString(rec, "relation_type"),
		SourceID: recordString(rec, "source_id"),
		TargetID: recordString(rec, "target_id"),
	}
	if err := decodeProperties(rec, &r.Properties); err != nil {
		return model.Relation{}, fmt.Errorf("relation %q: %w", r.ID, err)
	}
	if raw, ok := rec.Get("weight"); ok {
		switch w := raw.(type) {
		case float64:
			r.Weight = model.Float(w)
		case int64:
			r.Weight = model.Float(float64(w))
		}
	}
	return r, nil
}

func decodeProperties(rec *neo4j.Record, dst *model.Properties) error {
	raw := recordString(rec, "properties")
	if raw == "" {
		*dst = model.NewProperties()
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode properties: %w", err)
	}
	return nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32s(raw any) []float32 {
	switch v := raw.(type) {
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(v))
		for _, x := range v {
			if f, ok := x.(float64); ok {
				out = append(out, float32(f))
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}
