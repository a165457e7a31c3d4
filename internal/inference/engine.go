// Package inference turns org knowledge into governance policies and
// refines policy confidence from observed outcomes.
package inference

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/kizuki/internal/model"
)

// minPolicyConfidence is the floor below which inferred policies are
// discarded before they ever reach a registry.
const minPolicyConfidence = 0.7

var weekendDays = []string{"Friday", "Saturday", "Sunday"}

// Engine infers policies from synthesized org knowledge.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine. now may be nil, in which case time.Now is used.
func New(logger *slog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{logger: logger, now: now}
}

// Infer runs every inference rule over the org knowledge and returns the
// policies whose confidence clears the floor. Output order is
// deterministic: rules run in a fixed order and team-derived policies
// iterate teams alphabetically.
func (e *Engine) Infer(ok model.OrgKnowledge) []model.Policy {
	var policies []model.Policy
	policies = append(policies, e.fromHotspots(ok.Patterns)...)
	policies = append(policies, e.fromAuthorRisk(ok.Patterns)...)
	policies = append(policies, e.fromTemporal(ok.Patterns)...)
	policies = append(policies, e.fromTeams(ok.TeamKnowledge)...)
	policies = append(policies, e.fromSharedExpertise(ok.CrossTeamInsights)...)
	policies = append(policies, e.emergency(ok.Patterns)...)

	now := e.now().UTC()
	kept := make([]model.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Confidence < minPolicyConfidence {
			continue
		}
		p.Active = true
		p.EnsureDefaults(now)
		kept = append(kept, p)
	}
	e.logger.Debug("inferred policies", "org", ok.Org, "candidates", len(policies), "kept", len(kept))
	return kept
}

// fromHotspots targets files with strong, frequent failure evidence.
// CRITICAL hotspots escalate from extra review to a hard approval gate.
func (e *Engine) fromHotspots(patterns []model.Pattern) []model.Policy {
	var out []model.Policy
	for _, p := range patterns {
		if p.Type != model.PatternFailureHotspot || p.Confidence < 0.8 || p.Frequency < 5 {
			continue
		}
		file := p.AffectedEntities[0]
		action := model.ActionRequireAdditionalReview
		if p.ImpactLevel == model.SeverityCritical {
			action = model.ActionRequireApproval
		}
		out = append(out, model.Policy{
			ID:          model.StableID("pol", "hotspot:"+file),
			Name:        "Review changes to " + file,
			Description: fmt.Sprintf("%s failed %d times recently; changes need extra scrutiny", file, p.Frequency),
			Trigger:     model.TriggerModifyHighRiskFile,
			Action:      action,
			Conditions: []model.PolicyCondition{
				{Field: model.FieldFilePath, Operator: model.OpEquals, Value: file},
			},
			Confidence:         p.Confidence,
			EvidenceSignals:    p.Evidence,
			CreatedFromPattern: p.ID,
			Rationale:          p.Description,
		})
	}
	return out
}

func (e *Engine) fromAuthorRisk(patterns []model.Pattern) []model.Policy {
	var out []model.Policy
	for _, p := range patterns {
		if p.Type != model.PatternAuthorRisk || p.Confidence < 0.7 || p.Frequency < 5 {
			continue
		}
		author := p.AffectedEntities[0]
		out = append(out, model.Policy{
			ID:          model.StableID("pol", "author_risk:"+author),
			Name:        "Additional review for " + author,
			Description: fmt.Sprintf("Changes by %s have an elevated failure rate", author),
			Trigger:     model.TriggerHighRiskAuthor,
			Action:      model.ActionRequireAdditionalReview,
			Conditions: []model.PolicyCondition{
				{Field: model.FieldAuthor, Operator: model.OpEquals, Value: author},
			},
			Confidence:         p.Confidence,
			EvidenceSignals:    p.Evidence,
			CreatedFromPattern: p.ID,
			Rationale:          p.Description,
		})
	}
	return out
}

// fromTemporal gates weekend changes when failures cluster on a weekend
// day. Weekday clusters are noted but produce no policy.
func (e *Engine) fromTemporal(patterns []model.Pattern) []model.Policy {
	var out []model.Policy
	for _, p := range patterns {
		if p.Type != model.PatternTemporal {
			continue
		}
		weekend := false
		for _, day := range weekendDays {
			if strings.Contains(p.Description, day) {
				weekend = true
				break
			}
		}
		if !weekend {
			continue
		}
		out = append(out, model.Policy{
			ID:          model.StableID("pol", "weekend_deploy"),
			Name:        "Weekend deployment approval",
			Description: "Deployments on weekend days require explicit approval",
			Trigger:     model.TriggerWeekendDeployment,
			Action:      model.ActionRequireApproval,
			Conditions: []model.PolicyCondition{
				{Field: model.FieldTime, Operator: model.OpInList, Value: strings.Join(weekendDays, ",")},
			},
			Confidence:         p.Confidence,
			EvidenceSignals:    p.Evidence,
			CreatedFromPattern: p.ID,
			Rationale:          p.Description,
		})
	}
	return out
}

// fromTeams derives two policy shapes from team knowledge: a review gate
// for highly active low-quality teams, and notify policies routing changes
// in a strong team's top expertise areas to that team.
func (e *Engine) fromTeams(knowledge map[string]model.TeamKnowledge) []model.Policy {
	teams := make([]string, 0, len(knowledge))
	for t := range knowledge {
		teams = append(teams, t)
	}
	sort.Strings(teams)

	var out []model.Policy
	for _, team := range teams {
		tk := knowledge[team]
		if tk.QualityScore < 0.4 && tk.ActivityLevel == model.ActivityHigh {
			out = append(out, model.Policy{
				ID:          model.StableID("pol", "low_quality:"+team),
				Name:        "Additional review for team " + team,
				Description: fmt.Sprintf("Team %s is highly active with quality score %.2f", team, tk.QualityScore),
				Trigger:     model.TriggerLowQualityTeam,
				Action:      model.ActionRequireAdditionalReview,
				Conditions: []model.PolicyCondition{
					{Field: model.FieldTeam, Operator: model.OpEquals, Value: team},
				},
				Confidence: 0.75,
				TeamScope:  team,
				Rationale:  "Sustained low success rate under high activity",
			})
		}
		if len(tk.ExpertiseAreas) > 5 && tk.QualityScore > 0.7 {
			areas := tk.ExpertiseAreas
			if len(areas) > 3 {
				areas = areas[:3]
			}
			for _, area := range areas {
				out = append(out, model.Policy{
					ID:          model.StableID("pol", "expertise:"+team+":"+area),
					Name:        fmt.Sprintf("Notify %s on changes to %s", team, area),
					Description: fmt.Sprintf("Team %s owns most changes to %s", team, area),
					Trigger:     model.TriggerExpertiseAreaChange,
					Action:      model.ActionNotifyTeam,
					Conditions: []model.PolicyCondition{
						{Field: model.FieldFilePath, Operator: model.OpContains, Value: area},
					},
					Confidence: 0.7,
					TeamScope:  team,
					Rationale:  "Routing changes to the team with the most context",
				})
			}
		}
	}
	return out
}

func (e *Engine) fromSharedExpertise(insights []model.CrossTeamInsight) []model.Policy {
	var out []model.Policy
	for _, in := range insights {
		if in.Kind != "shared_expertise" || len(in.Teams) < 2 || len(in.Entities) == 0 {
			continue
		}
		file := in.Entities[0]
		out = append(out, model.Policy{
			ID:          model.StableID("pol", "shared:"+file),
			Name:        "Notify maintainers of " + file,
			Description: fmt.Sprintf("%s is maintained by %d teams; changes affect all of them", file, len(in.Teams)),
			Trigger:     model.TriggerModifySharedComponent,
			Action:      model.ActionNotifyTeam,
			Conditions: []model.PolicyCondition{
				{Field: model.FieldFilePath, Operator: model.OpContains, Value: file},
			},
			Confidence: 0.75,
			Rationale:  in.Description,
		})
	}
	return out
}

// emergency emits a single org-wide approval gate when any pattern carries
// critical impact.
func (e *Engine) emergency(patterns []model.Pattern) []model.Policy {
	for _, p := range patterns {
		if p.ImpactLevel != model.SeverityCritical {
			continue
		}
		return []model.Policy{{
			ID:          model.StableID("pol", "emergency"),
			Name:        "Emergency change approval",
			Description: "Critical-impact patterns detected; all emergency changes require approval",
			Trigger:     model.TriggerEmergencyChange,
			Action:      model.ActionRequireApproval,
			Conditions: []model.PolicyCondition{
				{Field: model.FieldFilePath, Operator: model.OpContains, Value: ""},
			},
			Confidence:         0.9,
			SeverityThreshold:  model.SeverityHigh,
			CreatedFromPattern: p.ID,
			Rationale:          "At least one critical-impact pattern is active",
		}}
	}
	return nil
}
