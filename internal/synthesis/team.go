// Package synthesis rolls signal sets and detected patterns up into
// per-team and org-wide knowledge summaries.
package synthesis

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/ashita-ai/kizuki/internal/aggregate"
	"github.com/ashita-ai/kizuki/internal/model"
)

// Synthesizer builds TeamKnowledge and OrgKnowledge from signal snapshots.
type Synthesizer struct {
	aggregator *aggregate.Aggregator
	logger     *slog.Logger
}

// New creates a Synthesizer that uses the given aggregator for pattern
// detection during org rollups.
func New(aggregator *aggregate.Aggregator, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{aggregator: aggregator, logger: logger}
}

const (
	maxExpertiseAreas    = 10
	maxCommonMistakes    = 5
	maxPreferred         = 5
	highActivityFloor    = 50
	mediumActivityFloor  = 20
	neutralQualityScore  = 0.5
	minBigramFrequency   = 2
	minPracticeFrequency = 2
)

// TeamKnowledge summarizes one team from the full signal snapshot. Signals
// outside the team only contribute to collaboration counting.
func (s *Synthesizer) TeamKnowledge(signals []model.Signal, team string) model.TeamKnowledge {
	var own []model.Signal
	for _, sig := range signals {
		if sig.Team == team {
			own = append(own, sig)
		}
	}

	tk := model.TeamKnowledge{
		Team:                  team,
		ExpertiseAreas:        expertiseAreas(own),
		CommonMistakes:        commonMistakes(own),
		PreferredPractices:    preferredPractices(own),
		CollaborationPatterns: collaborationCounts(signals, own, team),
		RiskIndicators:        []string{},
		SuccessFactors:        []string{},
		ActivityLevel:         activityLevel(len(own)),
		QualityScore:          qualityScore(own),
	}

	var failures, successes, critical int
	for _, sig := range own {
		switch {
		case sig.Type.IsFailure():
			failures++
		case sig.Type.IsSuccess():
			successes++
		}
		if sig.Severity == model.SeverityCritical {
			critical++
		}
	}
	if failures > successes {
		tk.RiskIndicators = append(tk.RiskIndicators, "High failure rate")
	}
	if critical > 0 {
		tk.RiskIndicators = append(tk.RiskIndicators, "Critical incidents")
	}

	if tk.QualityScore > 0.7 {
		tk.SuccessFactors = append(tk.SuccessFactors, "High quality score")
	}
	if collaborationTotal(tk.CollaborationPatterns) > 3 {
		tk.SuccessFactors = append(tk.SuccessFactors, "Strong cross-team collaboration")
	}
	return tk
}

// expertiseAreas returns the team's ten most-touched files, busiest first,
// ties broken alphabetically.
func expertiseAreas(signals []model.Signal) []string {
	touches := make(map[string]int)
	for _, sig := range signals {
		for _, f := range sig.Files {
			if f != "" {
				touches[f]++
			}
		}
	}
	return topCounted(touches, maxExpertiseAreas, 1)
}

// commonMistakes mines adjacent word pairs from failure-signal cause text.
// Only bigrams seen at least twice are reported.
func commonMistakes(signals []model.Signal) []string {
	bigrams := make(map[string]int)
	for _, sig := range signals {
		if !sig.Type.IsFailure() || sig.Cause == "" {
			continue
		}
		words := strings.Fields(strings.ToLower(sig.Cause))
		for i := 0; i+1 < len(words); i++ {
			bigrams[words[i]+" "+words[i+1]]++
		}
	}
	return topCounted(bigrams, maxCommonMistakes, minBigramFrequency)
}

// preferredPractices surfaces tags that recur on the team's success-class
// signals.
func preferredPractices(signals []model.Signal) []string {
	tags := make(map[string]int)
	for _, sig := range signals {
		if !sig.Type.IsSuccess() {
			continue
		}
		for _, tag := range sig.Tags {
			if tag != "" {
				tags[tag]++
			}
		}
	}
	return topCounted(tags, maxPreferred, minPracticeFrequency)
}

// collaborationCounts counts, per other team, signals authored by one of
// this team's authors but landing in a repo this team does not own.
func collaborationCounts(all, own []model.Signal, team string) map[string]int {
	authors := make(map[string]bool)
	repos := make(map[string]bool)
	for _, sig := range own {
		if sig.Author != "" {
			authors[sig.Author] = true
		}
		repos[sig.Repo] = true
	}

	counts := make(map[string]int)
	for _, sig := range all {
		if sig.Team == team || sig.Team == "" {
			continue
		}
		if authors[sig.Author] && !repos[sig.Repo] {
			counts[sig.Team]++
		}
	}
	return counts
}

func collaborationTotal(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func activityLevel(count int) model.ActivityLevel {
	switch {
	case count >= highActivityFloor:
		return model.ActivityHigh
	case count >= mediumActivityFloor:
		return model.ActivityMedium
	default:
		return model.ActivityLow
	}
}

// qualityScore is the success share of the team's signals, 0.5 when the
// team has none.
func qualityScore(signals []model.Signal) float64 {
	if len(signals) == 0 {
		return neutralQualityScore
	}
	successes := 0
	for _, sig := range signals {
		if sig.Type.IsSuccess() {
			successes++
		}
	}
	return float64(successes) / float64(len(signals))
}

// topCounted returns up to limit keys with count >= minCount, ordered by
// descending count then key.
func topCounted(counts map[string]int, limit, minCount int) []string {
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for k, n := range counts {
		if n >= minCount {
			entries = append(entries, entry{k, n})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key
	}
	return out
}
