package model

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

// SignalType represents the category of an engineering event.
type SignalType string

const (
	// Build and deployment outcomes.
	SignalCIFailure         SignalType = "ci_failure"
	SignalCISuccess         SignalType = "ci_success"
	SignalDeploymentSuccess SignalType = "deployment_success"
	SignalDeploymentFailure SignalType = "deployment_failure"

	// Code review lifecycle.
	SignalPRComment   SignalType = "pr_comment"
	SignalPRApproval  SignalType = "pr_approval"
	SignalPRRejection SignalType = "pr_rejection"

	// Remediation and incidents.
	SignalRollback SignalType = "rollback"
	SignalHotfix   SignalType = "hotfix"
	SignalIncident SignalType = "incident"

	// Governance and quality.
	SignalManualOverride        SignalType = "manual_override"
	SignalPolicyViolation       SignalType = "policy_violation"
	SignalReviewFeedback        SignalType = "review_feedback"
	SignalFlakyTest             SignalType = "flaky_test"
	SignalPerformanceRegression SignalType = "performance_regression"
)

// Severity grades how bad an event was.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ImpactScope is the blast radius of an event.
type ImpactScope string

const (
	ImpactLocal    ImpactScope = "local"
	ImpactTeam     ImpactScope = "team"
	ImpactOrg      ImpactScope = "org"
	ImpactCustomer ImpactScope = "customer"
)

// Signal is a single recorded engineering event.
// Immutable once stored; re-ingesting the same ID overwrites in place.
type Signal struct {
	ID          string         `json:"id"`
	Type        SignalType     `json:"type"`
	Repo        string         `json:"repo"`
	Org         string         `json:"org"`
	Team        string         `json:"team"`
	Files       []string       `json:"files"`
	Cause       string         `json:"cause,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
	Author      string         `json:"author,omitempty"`
	Reviewer    string         `json:"reviewer,omitempty"`
	Severity    Severity       `json:"severity"`
	ImpactScope ImpactScope    `json:"impact_scope"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata"`
	Tags        []string       `json:"tags"`
}

// failureTypes are the signal types that count as failures for pattern
// detection and quality scoring.
var failureTypes = map[SignalType]bool{
	SignalCIFailure:         true,
	SignalPRRejection:       true,
	SignalRollback:          true,
	SignalIncident:          true,
	SignalDeploymentFailure: true,
}

// successTypes are the signal types that count as successes.
var successTypes = map[SignalType]bool{
	SignalCISuccess:         true,
	SignalPRApproval:        true,
	SignalDeploymentSuccess: true,
}

// IsFailure reports whether the signal type counts as a failure outcome.
func (t SignalType) IsFailure() bool { return failureTypes[t] }

// IsSuccess reports whether the signal type counts as a success outcome.
func (t SignalType) IsSuccess() bool { return successTypes[t] }

// validSignalTypes is the closed set accepted by ValidateSignal.
var validSignalTypes = map[SignalType]bool{
	SignalCIFailure: true, SignalCISuccess: true,
	SignalDeploymentSuccess: true, SignalDeploymentFailure: true,
	SignalPRComment: true, SignalPRApproval: true, SignalPRRejection: true,
	SignalRollback: true, SignalHotfix: true, SignalIncident: true,
	SignalManualOverride: true, SignalPolicyViolation: true,
	SignalReviewFeedback: true, SignalFlakyTest: true,
	SignalPerformanceRegression: true,
}

// EnsureDefaults backfills derived and collection fields so a Signal is safe
// to store and to serialize: nil slices/maps become empty, a missing ID is
// derived as {type}_{repo}_{unix}, and a zero timestamp becomes now.
// Severity and impact default to the lowest grade.
func (s *Signal) EnsureDefaults(now time.Time) {
	if s.Timestamp.IsZero() {
		s.Timestamp = now.UTC()
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("%s_%s_%d", s.Type, s.Repo, s.Timestamp.Unix())
	}
	if s.Files == nil {
		s.Files = []string{}
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	if s.Severity == "" {
		s.Severity = SeverityLow
	}
	if s.ImpactScope == "" {
		s.ImpactScope = ImpactLocal
	}
}

// ErrInvalidSignal wraps all signal validation failures.
var ErrInvalidSignal = errors.New("model: invalid signal")

// ValidateSignal checks that a signal carries a known type, severity and
// impact scope. Empty repo/org/author are acceptable recorded values.
func ValidateSignal(s Signal) error {
	if !validSignalTypes[s.Type] {
		return fmt.Errorf("%w: unknown signal type %q", ErrInvalidSignal, s.Type)
	}
	switch s.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidSignal, s.Severity)
	}
	switch s.ImpactScope {
	case ImpactLocal, ImpactTeam, ImpactOrg, ImpactCustomer:
	default:
		return fmt.Errorf("%w: unknown impact scope %q", ErrInvalidSignal, s.ImpactScope)
	}
	return nil
}

// StableID derives a short deterministic identifier from an identifying
// string using FNV-1a. Stable across processes, unlike runtime map hashes.
func StableID(prefix, identity string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(identity))
	return fmt.Sprintf("%s_%x", prefix, h.Sum64())
}
