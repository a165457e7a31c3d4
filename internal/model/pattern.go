package model

import "time"

// PatternType identifies the detector that produced a pattern.
type PatternType string

const (
	PatternFailureHotspot     PatternType = "failure_hotspot"
	PatternSuccessPractice    PatternType = "success_practice"
	PatternAuthorRisk         PatternType = "author_risk"
	PatternTemporal           PatternType = "temporal_pattern"
	PatternCrossRepoExpertise PatternType = "cross_repo_expertise"
)

// Trend describes the direction of a pattern over time.
// Trend detection is not implemented; aggregation always reports TrendStable.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Pattern is a confidence-scored recurring finding derived from a signal
// set. Patterns are ephemeral: recomputed on every aggregation call, never
// persisted.
type Pattern struct {
	ID               string      `json:"pattern_id"`
	Type             PatternType `json:"pattern_type"`
	Description      string      `json:"description"`
	Confidence       float64     `json:"confidence"`
	Frequency        int         `json:"frequency"`
	Evidence         []string    `json:"evidence"`
	AffectedEntities []string    `json:"affected_entities"`
	FirstSeen        time.Time   `json:"first_seen"`
	LastSeen         time.Time   `json:"last_seen"`
	Trend            Trend       `json:"trend"`
	ImpactLevel      Severity    `json:"impact_level"`
	Recommendations  []string    `json:"recommendations"`
}
