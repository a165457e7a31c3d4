package synthesis

import (
	"fmt"
	"sort"

	"github.com/ashita-ai/kizuki/internal/aggregate"
	"github.com/ashita-ai/kizuki/internal/model"
)

const emptyOrgConfidence = 0.5

// OrgKnowledge builds the org-wide rollup: detected patterns, per-team
// knowledge, cross-team insights and derived findings. The result is
// recomputed from scratch on every call.
func (s *Synthesizer) OrgKnowledge(signals []model.Signal, org string, opts aggregate.Options) model.OrgKnowledge {
	var scoped []model.Signal
	for _, sig := range signals {
		if sig.Org == org {
			scoped = append(scoped, sig)
		}
	}

	ok := model.OrgKnowledge{
		Org:                      org,
		Patterns:                 []model.Pattern{},
		TeamKnowledge:            map[string]model.TeamKnowledge{},
		CrossTeamInsights:        []model.CrossTeamInsight{},
		CriticalInsights:         []string{},
		ImprovementOpportunities: []string{},
		SuccessPractices:         []string{},
		RiskAreas:                []string{},
		ConfidenceScore:          emptyOrgConfidence,
	}
	if len(scoped) == 0 {
		return ok
	}

	ok.AnalysisPeriod = analysisPeriod(scoped)
	ok.Patterns = s.aggregator.Aggregate(scoped, opts)

	teams := distinctTeams(scoped)
	for _, team := range teams {
		ok.TeamKnowledge[team] = s.TeamKnowledge(scoped, team)
	}

	ok.CrossTeamInsights = crossTeamInsights(scoped, ok.TeamKnowledge, teams)
	ok.CriticalInsights = criticalInsights(ok.Patterns, ok.TeamKnowledge, teams)
	ok.ImprovementOpportunities = improvementOpportunities(ok.Patterns, ok.TeamKnowledge, teams)
	ok.SuccessPractices = successPractices(ok.Patterns)
	ok.RiskAreas = riskAreas(ok.Patterns, ok.TeamKnowledge, teams)
	ok.ConfidenceScore = confidenceScore(len(scoped), ok.Patterns, len(ok.TeamKnowledge), len(teams))

	s.logger.Debug("synthesized org knowledge",
		"org", org,
		"signals", len(scoped),
		"patterns", len(ok.Patterns),
		"teams", len(teams),
		"confidence", ok.ConfidenceScore)
	return ok
}

// OrgHealth is a coarse 0..1 health score for an org's signal window.
// With no signals it is the neutral baseline 0.8; otherwise the baseline
// shifts by the success-failure balance and drops a notch when critical
// incidents are present.
func (s *Synthesizer) OrgHealth(signals []model.Signal, org string) float64 {
	var total, successes, failures, critical int
	for _, sig := range signals {
		if sig.Org != org {
			continue
		}
		total++
		switch {
		case sig.Type.IsSuccess():
			successes++
		case sig.Type.IsFailure():
			failures++
		}
		if sig.Severity == model.SeverityCritical {
			critical++
		}
	}
	if total == 0 {
		return 0.8
	}

	health := 0.8 + 0.2*(float64(successes)-float64(failures))/float64(total)
	if critical > 0 {
		health -= 0.1
	}
	if health < 0 {
		return 0
	}
	if health > 1 {
		return 1
	}
	return health
}

func analysisPeriod(signals []model.Signal) model.AnalysisPeriod {
	period := model.AnalysisPeriod{Start: signals[0].Timestamp, End: signals[0].Timestamp}
	for _, sig := range signals[1:] {
		if sig.Timestamp.Before(period.Start) {
			period.Start = sig.Timestamp
		}
		if sig.Timestamp.After(period.End) {
			period.End = sig.Timestamp
		}
	}
	return period
}

func distinctTeams(signals []model.Signal) []string {
	set := make(map[string]bool)
	for _, sig := range signals {
		if sig.Team != "" {
			set[sig.Team] = true
		}
	}
	teams := make([]string, 0, len(set))
	for t := range set {
		teams = append(teams, t)
	}
	sort.Strings(teams)
	return teams
}

// crossTeamInsights reports pairwise collaboration and files touched by
// more than one team.
func crossTeamInsights(signals []model.Signal, knowledge map[string]model.TeamKnowledge, teams []string) []model.CrossTeamInsight {
	insights := []model.CrossTeamInsight{}

	for _, team := range teams {
		tk := knowledge[team]
		others := make([]string, 0, len(tk.CollaborationPatterns))
		for other := range tk.CollaborationPatterns {
			others = append(others, other)
		}
		sort.Strings(others)
		for _, other := range others {
			if other <= team {
				continue // report each pair once
			}
			insights = append(insights, model.CrossTeamInsight{
				Kind:        "collaboration",
				Description: fmt.Sprintf("Teams %s and %s share contributors across repositories", team, other),
				Teams:       []string{team, other},
				Entities:    []string{},
			})
		}
	}

	fileTeams := make(map[string]map[string]bool)
	for _, sig := range signals {
		if sig.Team == "" {
			continue
		}
		for _, f := range sig.Files {
			if f == "" {
				continue
			}
			if fileTeams[f] == nil {
				fileTeams[f] = make(map[string]bool)
			}
			fileTeams[f][sig.Team] = true
		}
	}
	files := make([]string, 0, len(fileTeams))
	for f, owners := range fileTeams {
		if len(owners) > 1 {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	for _, f := range files {
		owners := make([]string, 0, len(fileTeams[f]))
		for t := range fileTeams[f] {
			owners = append(owners, t)
		}
		sort.Strings(owners)
		insights = append(insights, model.CrossTeamInsight{
			Kind:        "shared_expertise",
			Description: fmt.Sprintf("File %s is maintained by %d teams", f, len(owners)),
			Teams:       owners,
			Entities:    []string{f},
		})
	}
	return insights
}

func criticalInsights(patterns []model.Pattern, knowledge map[string]model.TeamKnowledge, teams []string) []string {
	insights := []string{}
	for _, p := range patterns {
		if p.ImpactLevel == model.SeverityCritical {
			insights = append(insights, "Critical pattern: "+p.Description)
		}
	}
	for _, team := range teams {
		tk := knowledge[team]
		if tk.QualityScore < 0.4 && tk.ActivityLevel == model.ActivityHigh {
			insights = append(insights, fmt.Sprintf("Team %s is highly active with a low quality score (%.2f)", team, tk.QualityScore))
		}
	}
	return insights
}

func improvementOpportunities(patterns []model.Pattern, knowledge map[string]model.TeamKnowledge, teams []string) []string {
	opportunities := []string{}
	for _, p := range patterns {
		if p.Type == model.PatternFailureHotspot && p.Frequency >= 5 {
			opportunities = append(opportunities, "Stabilize hotspot: "+p.AffectedEntities[0])
		}
	}
	for _, team := range teams {
		if knowledge[team].ActivityLevel == model.ActivityLow {
			opportunities = append(opportunities, fmt.Sprintf("Team %s has low recorded activity; check signal coverage", team))
		}
	}
	return opportunities
}

func successPractices(patterns []model.Pattern) []string {
	practices := []string{}
	for _, p := range patterns {
		if p.Type == model.PatternSuccessPractice {
			practices = append(practices, p.AffectedEntities[0])
		}
	}
	return practices
}

func riskAreas(patterns []model.Pattern, knowledge map[string]model.TeamKnowledge, teams []string) []string {
	areas := []string{}
	for _, p := range patterns {
		if p.ImpactLevel == model.SeverityHigh || p.ImpactLevel == model.SeverityCritical {
			areas = append(areas, p.Description)
		}
	}
	for _, team := range teams {
		if len(knowledge[team].RiskIndicators) > 2 {
			areas = append(areas, fmt.Sprintf("Team %s carries multiple risk indicators", team))
		}
	}
	return areas
}

// confidenceScore weighs signal volume, pattern strength and team coverage:
// 0.4*min(1, signals/100) + 0.4*meanPatternConfidence + 0.2*coverage.
func confidenceScore(signalCount int, patterns []model.Pattern, teamsCovered, teamsSeen int) float64 {
	volume := float64(signalCount) / 100
	if volume > 1 {
		volume = 1
	}

	meanConf := 0.0
	if len(patterns) > 0 {
		for _, p := range patterns {
			meanConf += p.Confidence
		}
		meanConf /= float64(len(patterns))
	}

	coverage := 0.0
	if teamsSeen > 0 {
		coverage = float64(teamsCovered) / float64(teamsSeen)
	}
	return 0.4*volume + 0.4*meanConf + 0.2*coverage
}
