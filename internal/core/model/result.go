package model

type Stage string

const (
	StageExact        Stage = "exact"
	StageAlias        Stage = "alias"
	StageAbbreviation Stage = "abbreviation"
	StageNormalized   Stage = "normalized"
	StageString       Stage = "string"
	StageSemantic     Stage = "semantic"
	StageNone         Stage = "none"
)

// Stages lists the matching stages in pipeline order.
var Stages = []Stage{StageExact, StageAlias, StageAbbreviation, StageNormalized, StageString, StageSemantic}

func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

type SimilarityResult struct {
	FinalScore   float64 `json:"final_score"`
	IsMatch      bool    `json:"is_match"`
	MatchedStage Stage   `json:"matched_stage"`
	EarlyExit    bool    `json:"early_exit"`
}

type LinkType string

const (
	LinkExactID   LinkType = "exact_id"
	LinkName      LinkType = "name"
	LinkEmbedding LinkType = "embedding"
	LinkNone      LinkType = "none"
)

type LinkResult struct {
	Linked     bool     `json:"linked"`
	Existing   *Entity  `json:"existing_entity,omitempty"`
	New        Entity   `json:"new_entity"`
	Similarity float64  `json:"similarity"`
	LinkType   LinkType `json:"link_type"`
}

// ScoredEntity is a vector search hit.
type ScoredEntity struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

type RelationPair struct {
	First  Relation `json:"first"`
	Second Relation `json:"second"`
}
