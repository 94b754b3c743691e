package driver

// Entities are stored as :Entity nodes. Properties travel as a JSON string so
// nested values and key order survive the round trip; name is copied out for
// indexing. Relations are :RELATES edges carrying their own type property.
const (
	entityColumns = `n.id AS id, n.entity_type AS entity_type, n.properties AS properties, n.embedding AS embedding`

	GetEntityQuery = `
		MATCH (n:Entity {id: $id})
		RETURN ` + entityColumns

	AddEntityQuery = `
		OPTIONAL MATCH (existing:Entity {id: $id})
		WITH existing WHERE existing IS NULL
		CREATE (n:Entity {id: $id})
		SET n.entity_type = $entity_type,
			n.name = $name,
			n.properties = $properties,
			n.embedding = $embedding
		RETURN n.id AS id
	`

	UpdateEntityQuery = `
		MATCH (n:Entity {id: $id})
		SET n.entity_type = $entity_type,
			n.name = $name,
			n.properties = $properties,
			n.embedding = $embedding
		RETURN n.id AS id
	`

	DeleteEntityQuery = `
		MATCH (n:Entity {id: $id})
		WITH n, n.id AS id
		DETACH DELETE n
		RETURN id
	`

	ListEntitiesQuery = `
		MATCH (n:Entity)
		WHERE size($types) = 0 OR n.entity_type IN $types
		RETURN ` + entityColumns + `
		ORDER BY n.id
	`

	// Name fragments and initialisms narrow the scan; ranking happens client side.
	CandidateScanQuery = `
		MATCH (n:Entity {entity_type: $entity_type})
		WITH n, toLower(coalesce(n.name, '')) AS lname
		WHERE size($fragments) = 0
			OR any(f IN $fragments WHERE lname CONTAINS f)
			OR reduce(acc = '', w IN split(lname, ' ') | acc + left(w, 1)) IN $initialisms
		RETURN ` + entityColumns + `
		ORDER BY n.name
		LIMIT $scan
	`

	VectorSearchQuery = `
		CALL vector_search.search($index, $limit, $embedding) YIELD node, similarity
		WITH node AS n, similarity
		WHERE n.entity_type = $entity_type
		RETURN ` + entityColumns + `, similarity AS score
		ORDER BY score DESC
	`

	relationColumns = `r.id AS id, r.relation_type AS relation_type, s.id AS source_id, t.id AS target_id, r.properties AS properties, r.weight AS weight`

	GetRelationQuery = `
		MATCH (s:Entity)-[r:RELATES {id: $id}]->(t:Entity)
		RETURN ` + relationColumns

	AddRelationQuery = `
		MATCH (s:Entity {id: $source_id}), (t:Entity {id: $target_id})
		CREATE (s)-[r:RELATES {id: $id}]->(t)
		SET r.relation_type = $relation_type,
			r.properties = $properties,
			r.weight = $weight
		RETURN r.id AS id
	`

	// Endpoints may change on update, so the edge is recreated in one statement.
	UpdateRelationQuery = `
		MATCH ()-[old:RELATES {id: $id}]->()
		MATCH (s:Entity {id: $source_id}), (t:Entity {id: $target_id})
		DELETE old
		CREATE (s)-[r:RELATES {id: $id}]->(t)
		SET r.relation_type = $relation_type,
			r.properties = $properties,
			r.weight = $weight
		RETURN r.id AS id
	`

	DeleteRelationQuery = `
		MATCH ()-[r:RELATES {id: $id}]->()
		WITH r, r.id AS id
		DELETE r
		RETURN id
	`

	RelationsForEntityQuery = `
		MATCH (s:Entity)-[r:RELATES]->(t:Entity)
		WHERE s.id = $id OR t.id = $id
		RETURN ` + relationColumns + `
		ORDER BY r.id
	`

	CreateVectorIndexQuery = `CREATE VECTOR INDEX %s ON :Entity(embedding) WITH CONFIG {"dimension": %d, "capacity": %d, "metric": "cos"};`
)

var indexQueries = []string{
	"CREATE INDEX ON :Entity(id);",
	"CREATE INDEX ON :Entity(entity_type);",
	"CREATE INDEX ON :Entity(name);",
	"CREATE INDEX ON :Entity(entity_type, name);",
}
