package model

import "time"

// ActivityLevel buckets how busy a team has been in the analysis window.
type ActivityLevel string

const (
	ActivityLow    ActivityLevel = "low"
	ActivityMedium ActivityLevel = "medium"
	ActivityHigh   ActivityLevel = "high"
)

// TeamKnowledge is the per-team rollup produced by synthesis.
type TeamKnowledge struct {
	Team                  string         `json:"team"`
	ExpertiseAreas        []string       `json:"expertise_areas"`
	CommonMistakes        []string       `json:"common_mistakes"`
	PreferredPractices    []string       `json:"preferred_practices"`
	CollaborationPatterns map[string]int `json:"collaboration_patterns"`
	RiskIndicators        []string       `json:"risk_indicators"`
	SuccessFactors        []string       `json:"success_factors"`
	ActivityLevel         ActivityLevel  `json:"activity_level"`
	QualityScore          float64        `json:"quality_score"`
}

// AnalysisPeriod bounds the signal window an org rollup was computed over.
type AnalysisPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CrossTeamInsight is a finding that spans more than one team.
type CrossTeamInsight struct {
	// Kind is "collaboration" or "shared_expertise".
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Teams       []string `json:"teams"`
	Entities    []string `json:"entities"`
}

// OrgKnowledge is the org-wide aggregate. Ephemeral: regenerated per call.
type OrgKnowledge struct {
	Org                      string                   `json:"org"`
	AnalysisPeriod           AnalysisPeriod           `json:"analysis_period"`
	Patterns                 []Pattern                `json:"patterns"`
	TeamKnowledge            map[string]TeamKnowledge `json:"team_knowledge"`
	CrossTeamInsights        []CrossTeamInsight       `json:"cross_team_insights"`
	CriticalInsights         []string                 `json:"critical_insights"`
	ImprovementOpportunities []string                 `json:"improvement_opportunities"`
	SuccessPractices         []string                 `json:"success_practices"`
	RiskAreas                []string                 `json:"risk_areas"`
	ConfidenceScore          float64                  `json:"confidence_score"`
}
