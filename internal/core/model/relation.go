package model

type Relation struct {
	ID         string     `json:"id"`
	Type       string     `json:"relation_type"`
	SourceID   string     `json:"source_id"`
	TargetID   string     `json:"target_id"`
	Properties Properties `json:"properties"`
	Weight     *float64   `json:"weight,omitempty"`
}

// Key identifies the duplicate group of a relation. Direction matters.
type RelationKey struct {
	Type     string
	SourceID string
	TargetID string
}

func (r Relation) Key() RelationKey {
	return RelationKey{Type: r.Type, SourceID: r.SourceID, TargetID: r.TargetID}
}

func (r Relation) Clone() Relation {
	out := r
	out.Properties = r.Properties.Clone()
	if r.Weight != nil {
		w := *r.Weight
		out.Weight = &w
	}
	return out
}

// Touches reports whether id is either endpoint.
func (r Relation) Touches(id string) bool {
	return r.SourceID == id || r.TargetID == id
}

func Float(f float64) *float64 {
	return &f
}
