package inference_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kizuki/internal/inference"
	"github.com/ashita-ai/kizuki/internal/model"
)

var fixedNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *inference.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return inference.New(logger, func() time.Time { return fixedNow })
}

func hotspotPattern(file string, confidence float64, frequency int, impact model.Severity) model.Pattern {
	return model.Pattern{
		ID:               "pat_1",
		Type:             model.PatternFailureHotspot,
		Description:      "Recurrent failures touching " + file,
		Confidence:       confidence,
		Frequency:        frequency,
		Evidence:         []string{"s1", "s2"},
		AffectedEntities: []string{file},
		ImpactLevel:      impact,
	}
}

func TestInfer_HotspotPolicy(t *testing.T) {
	ok := model.OrgKnowledge{
		Org:      "acme",
		Patterns: []model.Pattern{hotspotPattern("auth.go", 0.85, 6, model.SeverityHigh)},
	}

	policies := newEngine().Infer(ok)

	require.Len(t, policies, 1)
	p := policies[0]
	assert.Equal(t, model.TriggerModifyHighRiskFile, p.Trigger)
	assert.Equal(t, model.ActionRequireAdditionalReview, p.Action)
	assert.Equal(t, 0.85, p.Confidence)
	require.Len(t, p.Conditions, 1)
	assert.Equal(t, model.FieldFilePath, p.Conditions[0].Field)
	assert.Equal(t, model.OpEquals, p.Conditions[0].Operator)
	assert.Equal(t, "auth.go", p.Conditions[0].Value)
	assert.True(t, p.Active)
	assert.Equal(t, fixedNow, p.CreatedAt)
	assert.NoError(t, model.ValidatePolicy(p))
}

func TestInfer_CriticalHotspotEscalatesToApproval(t *testing.T) {
	ok := model.OrgKnowledge{
		Patterns: []model.Pattern{hotspotPattern("pay.go", 0.9, 7, model.SeverityCritical)},
	}

	policies := newEngine().Infer(ok)

	// The critical pattern also produces the emergency policy.
	require.Len(t, policies, 2)
	assert.Equal(t, model.ActionRequireApproval, policies[0].Action)
	assert.Equal(t, model.TriggerEmergencyChange, policies[1].Trigger)
	assert.Equal(t, 0.9, policies[1].Confidence)
	assert.Equal(t, model.SeverityHigh, policies[1].SeverityThreshold)
}

func TestInfer_BelowThresholdsIgnored(t *testing.T) {
	ok := model.OrgKnowledge{
		Patterns: []model.Pattern{
			hotspotPattern("a.go", 0.75, 6, model.SeverityHigh), // confidence below 0.8
			hotspotPattern("b.go", 0.9, 4, model.SeverityHigh),  // frequency below 5
		},
	}
	assert.Empty(t, newEngine().Infer(ok))
}

func TestInfer_WeekendTemporalPolicy(t *testing.T) {
	ok := model.OrgKnowledge{
		Patterns: []model.Pattern{
			{
				ID:               "pat_t",
				Type:             model.PatternTemporal,
				Description:      "Failures cluster on Saturday (4 of 5)",
				Confidence:       0.7,
				Frequency:        4,
				AffectedEntities: []string{"Saturday"},
				ImpactLevel:      model.SeverityLow,
			},
			{
				ID:               "pat_w",
				Type:             model.PatternTemporal,
				Description:      "Failures cluster on Wednesday (3 of 5)",
				Confidence:       0.7,
				AffectedEntities: []string{"Wednesday"},
			},
		},
	}

	policies := newEngine().Infer(ok)

	require.Len(t, policies, 1, "weekday clusters produce no policy")
	p := policies[0]
	assert.Equal(t, model.TriggerWeekendDeployment, p.Trigger)
	assert.Equal(t, model.ActionRequireApproval, p.Action)
	require.Len(t, p.Conditions, 1)
	assert.Equal(t, model.FieldTime, p.Conditions[0].Field)
	assert.Equal(t, model.OpInList, p.Conditions[0].Operator)
	assert.Equal(t, "Friday,Saturday,Sunday", p.Conditions[0].Value)
}

func TestInfer_TeamPolicies(t *testing.T) {
	ok := model.OrgKnowledge{
		TeamKnowledge: map[string]model.TeamKnowledge{
			"struggling": {
				Team:          "struggling",
				QualityScore:  0.3,
				ActivityLevel: model.ActivityHigh,
			},
			"experts": {
				Team:           "experts",
				QualityScore:   0.9,
				ActivityLevel:  model.ActivityMedium,
				ExpertiseAreas: []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"},
			},
		},
	}

	policies := newEngine().Infer(ok)

	require.Len(t, policies, 4, "three notify policies plus one review gate")
	// Teams iterate alphabetically: experts first.
	for i := 0; i < 3; i++ {
		assert.Equal(t, model.TriggerExpertiseAreaChange, policies[i].Trigger)
		assert.Equal(t, model.ActionNotifyTeam, policies[i].Action)
		assert.Equal(t, "experts", policies[i].TeamScope)
	}
	assert.Equal(t, "a.go", policies[0].Conditions[0].Value)

	gate := policies[3]
	assert.Equal(t, model.TriggerLowQualityTeam, gate.Trigger)
	assert.Equal(t, "struggling", gate.TeamScope)
	assert.Equal(t, 0.75, gate.Confidence)
}

func TestInfer_SharedExpertisePolicy(t *testing.T) {
	ok := model.OrgKnowledge{
		CrossTeamInsights: []model.CrossTeamInsight{
			{
				Kind:        "shared_expertise",
				Description: "File shared.go is maintained by 2 teams",
				Teams:       []string{"core", "platform"},
				Entities:    []string{"shared.go"},
			},
			{Kind: "collaboration", Teams: []string{"core", "platform"}},
		},
	}

	policies := newEngine().Infer(ok)

	require.Len(t, policies, 1)
	assert.Equal(t, model.TriggerModifySharedComponent, policies[0].Trigger)
	assert.Equal(t, model.OpContains, policies[0].Conditions[0].Operator)
	assert.Equal(t, "shared.go", policies[0].Conditions[0].Value)
}

func TestInfer_Deterministic(t *testing.T) {
	ok := model.OrgKnowledge{
		Patterns: []model.Pattern{hotspotPattern("x.go", 0.9, 6, model.SeverityHigh)},
		TeamKnowledge: map[string]model.TeamKnowledge{
			"a": {Team: "a", QualityScore: 0.2, ActivityLevel: model.ActivityHigh},
			"b": {Team: "b", QualityScore: 0.2, ActivityLevel: model.ActivityHigh},
		},
	}
	e := newEngine()
	assert.Equal(t, e.Infer(ok), e.Infer(ok))
}

func refinablePolicy() model.Policy {
	p := model.Policy{
		ID:         "pol_1",
		Trigger:    model.TriggerModifyHighRiskFile,
		Action:     model.ActionRequireAdditionalReview,
		Confidence: 0.75,
		Conditions: []model.PolicyCondition{
			{Field: model.FieldFilePath, Operator: model.OpEquals, Value: "auth.go"},
		},
		CreatedAt:          fixedNow,
		EffectivenessScore: 0.5,
	}
	return p
}

func outcome(id string, typ model.SignalType, files []string, ts time.Time) model.Signal {
	s := model.Signal{ID: id, Type: typ, Repo: "svc", Org: "acme", Files: files, Timestamp: ts}
	s.EnsureDefaults(ts)
	return s
}

// A 0.9 success rate moves effectiveness from 0.5 to 0.7, which is in the
// neutral band, so confidence stays put.
func TestRefine_NeutralBandLeavesConfidence(t *testing.T) {
	p := refinablePolicy()
	after := fixedNow.Add(time.Hour)

	var outcomes []model.Signal
	for i := 0; i < 9; i++ {
		outcomes = append(outcomes, outcome(string(rune('a'+i)), model.SignalCISuccess, []string{"auth.go"}, after))
	}
	outcomes = append(outcomes, outcome("z", model.SignalCIFailure, []string{"auth.go"}, after))

	refined := newEngine().Refine(p, outcomes)

	assert.InDelta(t, 0.7, refined.EffectivenessScore, 1e-9)
	assert.Equal(t, 0.75, refined.Confidence)
}

func TestRefine_HighEffectivenessBoostsConfidence(t *testing.T) {
	p := refinablePolicy()
	p.EffectivenessScore = 0.8
	after := fixedNow.Add(time.Hour)

	outcomes := []model.Signal{
		outcome("a", model.SignalCISuccess, []string{"auth.go"}, after),
		outcome("b", model.SignalPRApproval, []string{"auth.go"}, after),
	}

	refined := newEngine().Refine(p, outcomes)

	assert.InDelta(t, 0.9, refined.EffectivenessScore, 1e-9)
	assert.InDelta(t, 0.825, refined.Confidence, 1e-9)
}

func TestRefine_LowEffectivenessDecaysConfidence(t *testing.T) {
	p := refinablePolicy()
	p.EffectivenessScore = 0.2
	after := fixedNow.Add(time.Hour)

	outcomes := []model.Signal{
		outcome("a", model.SignalCIFailure, []string{"auth.go"}, after),
		outcome("b", model.SignalRollback, []string{"auth.go"}, after),
	}

	refined := newEngine().Refine(p, outcomes)

	assert.InDelta(t, 0.1, refined.EffectivenessScore, 1e-9)
	assert.InDelta(t, 0.6, refined.Confidence, 1e-9)
}

func TestRefine_ConfidenceFloorAndCap(t *testing.T) {
	after := fixedNow.Add(time.Hour)
	fail := []model.Signal{outcome("a", model.SignalCIFailure, []string{"auth.go"}, after)}
	good := []model.Signal{outcome("a", model.SignalCISuccess, []string{"auth.go"}, after)}

	low := refinablePolicy()
	low.Confidence = 0.11
	low.EffectivenessScore = 0.1
	assert.Equal(t, 0.1, newEngine().Refine(low, fail).Confidence)

	high := refinablePolicy()
	high.Confidence = 0.99
	high.EffectivenessScore = 0.9
	assert.Equal(t, 1.0, newEngine().Refine(high, good).Confidence)
}

func TestRefine_IgnoresSignalsBeforeCreation(t *testing.T) {
	p := refinablePolicy()
	before := fixedNow.Add(-time.Hour)

	refined := newEngine().Refine(p, []model.Signal{
		outcome("a", model.SignalCIFailure, []string{"auth.go"}, before),
	})

	assert.Equal(t, p, refined, "pre-creation outcomes are not evidence")
}

func TestRefine_NoMatchesReturnsUnmodified(t *testing.T) {
	p := refinablePolicy()
	after := fixedNow.Add(time.Hour)

	refined := newEngine().Refine(p, []model.Signal{
		outcome("a", model.SignalCIFailure, []string{"other.go"}, after),
	})

	assert.Equal(t, p, refined)
}

func TestRefine_UnknownConditionFailsClosed(t *testing.T) {
	p := refinablePolicy()
	p.Conditions = []model.PolicyCondition{
		{Field: "branch", Operator: model.OpEquals, Value: "main"},
	}
	after := fixedNow.Add(time.Hour)

	refined := newEngine().Refine(p, []model.Signal{
		outcome("a", model.SignalCISuccess, []string{"auth.go"}, after),
	})

	assert.Equal(t, p, refined, "unrecognized condition fields never match")
}

func TestRefine_TimeConditionMatchesWeekday(t *testing.T) {
	p := refinablePolicy()
	p.Conditions = []model.PolicyCondition{
		{Field: model.FieldTime, Operator: model.OpInList, Value: "Friday,Saturday,Sunday"},
	}
	saturday := time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, saturday.Weekday())

	refined := newEngine().Refine(p, []model.Signal{
		outcome("a", model.SignalCISuccess, nil, saturday),
	})

	assert.InDelta(t, 0.75, refined.EffectivenessScore, 1e-9)
}
