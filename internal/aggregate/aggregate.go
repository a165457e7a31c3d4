// Package aggregate runs the pattern detectors over a signal set.
//
// Five independent detectors (failure hotspots, success practices, author
// risk, temporal clustering, cross-repo expertise) each emit confidence-
// scored patterns; results are concatenated and filtered by a confidence
// threshold. Aggregation is a pure function of the input: group keys are
// sorted and detectors run in a fixed order, so two calls on the same
// snapshot produce identical output.
package aggregate

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ashita-ai/kizuki/internal/model"
)

// Options tune the detectors.
type Options struct {
	// MinFrequency is the minimum occurrence count before a grouping is
	// considered a pattern.
	MinFrequency int
	// ConfidenceThreshold drops patterns below this confidence after all
	// detectors have run.
	ConfidenceThreshold float64
}

// DefaultOptions are the standard thresholds for nightly aggregation.
func DefaultOptions() Options {
	return Options{MinFrequency: 3, ConfidenceThreshold: 0.6}
}

// Aggregator detects recurring patterns in signal sets.
type Aggregator struct {
	logger *slog.Logger
}

// New creates an Aggregator.
func New(logger *slog.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate runs all detectors and returns patterns at or above the
// confidence threshold.
func (a *Aggregator) Aggregate(signals []model.Signal, opts Options) []model.Pattern {
	if opts.MinFrequency <= 0 {
		opts.MinFrequency = 3
	}

	patterns := make([]model.Pattern, 0)
	patterns = append(patterns, a.failureHotspots(signals, opts.MinFrequency)...)
	patterns = append(patterns, a.successPractices(signals, opts.MinFrequency)...)
	patterns = append(patterns, a.authorRisk(signals, opts.MinFrequency)...)
	patterns = append(patterns, a.temporalPatterns(signals, opts.MinFrequency)...)
	patterns = append(patterns, a.crossRepoExpertise(signals)...)

	kept := patterns[:0]
	for _, p := range patterns {
		if p.Confidence >= opts.ConfidenceThreshold {
			kept = append(kept, p)
		}
	}

	a.logger.Debug("aggregate: detectors finished",
		"signals", len(signals), "patterns", len(kept))
	return kept
}

// failureHotspots groups failure-class signals by touched file and emits a
// pattern per file seen at least minFrequency times.
// confidence = min(1, count/(minFrequency*2)), so it grows with occurrence
// count and caps at 1.
func (a *Aggregator) failureHotspots(signals []model.Signal, minFrequency int) []model.Pattern {
	byFile := make(map[string][]model.Signal)
	for _, s := range signals {
		if !s.Type.IsFailure() {
			continue
		}
		for _, f := range s.Files {
			byFile[f] = append(byFile[f], s)
		}
	}

	patterns := make([]model.Pattern, 0)
	for _, file := range sortedKeys(byFile) {
		group := byFile[file]
		if len(group) < minFrequency {
			continue
		}

		impact := model.SeverityMedium
		for _, s := range group {
			if s.Severity == model.SeverityCritical {
				impact = model.SeverityCritical
				break
			}
			if s.Severity == model.SeverityHigh {
				impact = model.SeverityHigh
			}
		}

		first, last := seenRange(group)
		patterns = append(patterns, model.Pattern{
			ID:               model.StableID("pat", "failure_hotspot:"+file),
			Type:             model.PatternFailureHotspot,
			Description:      fmt.Sprintf("Recurrent failures touching %s (%d occurrences)", file, len(group)),
			Confidence:       capConfidence(float64(len(group)) / float64(minFrequency*2)),
			Frequency:        len(group),
			Evidence:         signalIDs(group),
			AffectedEntities: []string{file},
			FirstSeen:        first,
			LastSeen:         last,
			Trend:            model.TrendStable,
			ImpactLevel:      impact,
			Recommendations: []string{
				"Require additional review for changes to " + file,
				"Add regression coverage around " + file,
			},
		})
	}
	return patterns
}

// successPractices groups success-class signals by tag.
// confidence = min(1, count/(minFrequency*3)): practices need more evidence
// than failures before we trust them.
func (a *Aggregator) successPractices(signals []model.Signal, minFrequency int) []model.Pattern {
	byTag := make(map[string][]model.Signal)
	for _, s := range signals {
		if !s.Type.IsSuccess() {
			continue
		}
		for _, tag := range s.Tags {
			byTag[tag] = append(byTag[tag], s)
		}
	}

	patterns := make([]model.Pattern, 0)
	for _, tag := range sortedKeys(byTag) {
		group := byTag[tag]
		if len(group) < minFrequency {
			continue
		}

		first, last := seenRange(group)
		patterns = append(patterns, model.Pattern{
			ID:               model.StableID("pat", "success_practice:"+tag),
			Type:             model.PatternSuccessPractice,
			Description:      fmt.Sprintf("Practice %q correlates with successful outcomes (%d occurrences)", tag, len(group)),
			Confidence:       capConfidence(float64(len(group)) / float64(minFrequency*3)),
			Frequency:        len(group),
			Evidence:         signalIDs(group),
			AffectedEntities: []string{tag},
			FirstSeen:        first,
			LastSeen:         last,
			Trend:            model.TrendStable,
			ImpactLevel:      model.SeverityMedium,
			Recommendations: []string{
				"Promote the " + tag + " practice across teams",
			},
		})
	}
	return patterns
}

// authorRisk flags authors whose failures clearly outweigh their successes
// (failures > successes * 1.5) across at least minFrequency signals.
func (a *Aggregator) authorRisk(signals []model.Signal, minFrequency int) []model.Pattern {
	byAuthor := make(map[string][]model.Signal)
	for _, s := range signals {
		if s.Author == "" {
			continue
		}
		byAuthor[s.Author] = append(byAuthor[s.Author], s)
	}

	patterns := make([]model.Pattern, 0)
	for _, author := range sortedKeys(byAuthor) {
		group := byAuthor[author]
		if len(group) < minFrequency {
			continue
		}

		var failures, successes int
		for _, s := range group {
			if s.Type.IsFailure() {
				failures++
			} else if s.Type.IsSuccess() {
				successes++
			}
		}
		if float64(failures) <= float64(successes)*1.5 {
			continue
		}

		first, last := seenRange(group)
		patterns = append(patterns, model.Pattern{
			ID:               model.StableID("pat", "author_risk:"+author),
			Type:             model.PatternAuthorRisk,
			Description:      fmt.Sprintf("Author %s shows an elevated failure rate (%d failures vs %d successes)", author, failures, successes),
			Confidence:       0.8,
			Frequency:        failures,
			Evidence:         signalIDs(group),
			AffectedEntities: []string{author},
			FirstSeen:        first,
			LastSeen:         last,
			Trend:            model.TrendStable,
			ImpactLevel:      model.SeverityMedium,
			Recommendations: []string{
				"Pair " + author + " with a reviewer on risky changes",
			},
		})
	}
	return patterns
}

// temporalPatterns flags weekdays where CI/deployment failures cluster well
// above the uniform expectation (more than 1.5x totalFailures/7) with at
// least minFrequency failures.
func (a *Aggregator) temporalPatterns(signals []model.Signal, minFrequency int) []model.Pattern {
	byWeekday := make(map[string][]model.Signal)
	total := 0
	for _, s := range signals {
		if s.Type != model.SignalCIFailure && s.Type != model.SignalDeploymentFailure {
			continue
		}
		day := s.Timestamp.Weekday().String()
		byWeekday[day] = append(byWeekday[day], s)
		total++
	}

	expected := float64(total) / 7

	patterns := make([]model.Pattern, 0)
	for _, day := range sortedKeys(byWeekday) {
		group := byWeekday[day]
		if len(group) < minFrequency || float64(len(group)) <= expected*1.5 {
			continue
		}

		first, last := seenRange(group)
		patterns = append(patterns, model.Pattern{
			ID:               model.StableID("pat", "temporal:"+day),
			Type:             model.PatternTemporal,
			Description:      fmt.Sprintf("Failures cluster on %s (%d of %d)", day, len(group), total),
			Confidence:       0.7,
			Frequency:        len(group),
			Evidence:         signalIDs(group),
			AffectedEntities: []string{day},
			FirstSeen:        first,
			LastSeen:         last,
			Trend:            model.TrendStable,
			ImpactLevel:      model.SeverityLow,
			Recommendations: []string{
				"Review deployment practices on " + day,
			},
		})
	}
	return patterns
}

// crossRepoExpertise flags authors active in 3 or more distinct repos.
func (a *Aggregator) crossRepoExpertise(signals []model.Signal) []model.Pattern {
	byAuthor := make(map[string][]model.Signal)
	for _, s := range signals {
		if s.Author == "" {
			continue
		}
		byAuthor[s.Author] = append(byAuthor[s.Author], s)
	}

	patterns := make([]model.Pattern, 0)
	for _, author := range sortedKeys(byAuthor) {
		group := byAuthor[author]

		repoSet := make(map[string]bool)
		for _, s := range group {
			if s.Repo != "" {
				repoSet[s.Repo] = true
			}
		}
		if len(repoSet) < 3 {
			continue
		}
		repos := sortedKeys(repoSet)

		first, last := seenRange(group)
		patterns = append(patterns, model.Pattern{
			ID:               model.StableID("pat", "cross_repo:"+author),
			Type:             model.PatternCrossRepoExpertise,
			Description:      fmt.Sprintf("Author %s is active across %d repositories", author, len(repos)),
			Confidence:       0.8,
			Frequency:        len(group),
			Evidence:         signalIDs(group),
			AffectedEntities: append([]string{author}, repos...),
			FirstSeen:        first,
			LastSeen:         last,
			Trend:            model.TrendStable,
			ImpactLevel:      model.SeverityMedium,
			Recommendations: []string{
				"Consider " + author + " for cross-cutting reviews",
			},
		})
	}
	return patterns
}

func capConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func signalIDs(signals []model.Signal) []string {
	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.ID
	}
	return ids
}

func seenRange(signals []model.Signal) (first, last time.Time) {
	for i, s := range signals {
		if i == 0 || s.Timestamp.Before(first) {
			first = s.Timestamp
		}
		if i == 0 || s.Timestamp.After(last) {
			last = s.Timestamp
		}
	}
	return first, last
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
