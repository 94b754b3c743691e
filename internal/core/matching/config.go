// Package matching holds the per-entity-type matching policy shared by the
// similarity pipeline, the deduplicators and the linker.
package matching

import (
	"github.com/agenthands/fusion/internal/core/model"
)

// Threshold names, usable as keys of EntityTypeConfig.Thresholds.
const (
	AliasMatchScore           = "alias_match_score"
	AbbreviationMatchScore    = "abbreviation_match_score"
	NormalizationMatchScore   = "normalization_match_score"
	SemanticThreshold         = "semantic_threshold"
	StringSimilarityThreshold = "string_similarity_threshold"
)

// ThresholdNames lists every threshold name in a stable order.
var ThresholdNames = []string{
	AliasMatchScore,
	AbbreviationMatchScore,
	NormalizationMatchScore,
	SemanticThreshold,
	StringSimilarityThreshold,
}

// DefaultTypeKey names the entry applied to types without their own entry.
const DefaultTypeKey = "_default"

type EntityTypeConfig struct {
	EnabledStages   []model.Stage      `mapstructure:"enabled_stages" json:"enabled_stages,omitempty" validate:"omitempty,unique,dive,stage"`
	SemanticEnabled *bool              `mapstructure:"semantic_enabled" json:"semantic_enabled,omitempty"`
	Thresholds      map[string]float64 `mapstructure:"thresholds" json:"thresholds,omitempty" validate:"omitempty,dive,keys,threshold_name,endkeys,gte=0,lte=1"`
}

// Config is the fusion matching configuration. Treat a constructed Config as
// immutable and swap whole values instead of mutating shared ones.
type Config struct {
	AliasMatchScore           float64                     `mapstructure:"alias_match_score" json:"alias_match_score" validate:"gte=0,lte=1"`
	AbbreviationMatchScore    float64                     `mapstructure:"abbreviation_match_score" json:"abbreviation_match_score" validate:"gte=0,lte=1"`
	NormalizationMatchScore   float64                     `mapstructure:"normalization_match_score" json:"normalization_match_score" validate:"gte=0,lte=1"`
	SemanticThreshold         float64                     `mapstructure:"semantic_threshold" json:"semantic_threshold" validate:"gte=0,lte=1"`
	StringSimilarityThreshold float64                     `mapstructure:"string_similarity_threshold" json:"string_similarity_threshold" validate:"gte=0,lte=1"`
	SemanticEnabled           bool                        `mapstructure:"semantic_enabled" json:"semantic_enabled"`
	EnabledStages             []model.Stage               `mapstructure:"enabled_stages" json:"enabled_stages" validate:"min=1,unique,dive,stage"`
	EntityTypes               map[string]EntityTypeConfig `mapstructure:"entity_types" json:"entity_types,omitempty" validate:"dive"`
}

func DefaultConfig() *Config {
	return &Config{
		AliasMatchScore:           0.95,
		AbbreviationMatchScore:    0.90,
		NormalizationMatchScore:   0.95,
		SemanticThreshold:         0.85,
		StringSimilarityThreshold: 0.85,
		SemanticEnabled:           true,
		EnabledStages:             append([]model.Stage(nil), model.Stages...),
		EntityTypes:               map[string]EntityTypeConfig{},
	}
}

// ForType returns the effective config for entityType: global values, then the
// _default entry, then the type's own entry. Thresholds are overridden key by key.
// The result is fully populated.
func (c *Config) ForType(entityType string) EntityTypeConfig {
	semantic := c.SemanticEnabled
	eff := EntityTypeConfig{
		EnabledStages:   append([]model.Stage(nil), c.EnabledStages...),
		SemanticEnabled: &semantic,
		Thresholds: map[string]float64{
			AliasMatchScore:           c.AliasMatchScore,
			AbbreviationMatchScore:    c.AbbreviationMatchScore,
			NormalizationMatchScore:   c.NormalizationMatchScore,
			SemanticThreshold:         c.SemanticThreshold,
			StringSimilarityThreshold: c.StringSimilarityThreshold,
		},
	}

	if def, ok := c.EntityTypes[DefaultTypeKey]; ok {
		eff.apply(def)
	}
	if entityType != "" && entityType != DefaultTypeKey {
		if tc, ok := c.EntityTypes[entityType]; ok {
			eff.apply(tc)
		}
	}
	return eff
}

func (e *EntityTypeConfig) apply(o EntityTypeConfig) {
	if len(o.EnabledStages) > 0 {
		e.EnabledStages = append([]model.Stage(nil), o.EnabledStages...)
	}
	if o.SemanticEnabled != nil {
		v := *o.SemanticEnabled
		e.SemanticEnabled = &v
	}
	for k, v := range o.Thresholds {
		e.Thresholds[k] = v
	}
}

func (e EntityTypeConfig) StageEnabled(s model.Stage) bool {
	for _, enabled := range e.EnabledStages {
		if enabled == s {
			return true
		}
	}
	return false
}

func (e EntityTypeConfig) Semantic() bool {
	return e.SemanticEnabled == nil || *e.SemanticEnabled
}

// Threshold returns the named threshold, or 0 when the config does not carry it.
func (e EntityTypeConfig) Threshold(name string) float64 {
	return e.Thresholds[name]
}

func (c *Config) Clone() *Config {
	out := *c
	out.EnabledStages = append([]model.Stage(nil), c.EnabledStages...)
	out.EntityTypes = make(map[string]EntityTypeConfig, len(c.EntityTypes))
	for name, tc := range c.EntityTypes {
		cp := EntityTypeConfig{EnabledStages: append([]model.Stage(nil), tc.EnabledStages...)}
		if tc.SemanticEnabled != nil {
			v := *tc.SemanticEnabled
			cp.SemanticEnabled = &v
		}
		if tc.Thresholds != nil {
			cp.Thresholds = make(map[string]float64, len(tc.Thresholds))
			for k, v := range tc.Thresholds {
				cp.Thresholds[k] = v
			}
		}
		out.EntityTypes[name] = cp
	}
	return &out
}
