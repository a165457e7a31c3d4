package model

import (
	"fmt"
	"time"
)

// PolicyTrigger is the event class that causes a policy to be evaluated.
type PolicyTrigger string

const (
	TriggerModifyHighRiskFile    PolicyTrigger = "modify_high_risk_file"
	TriggerModifySharedComponent PolicyTrigger = "modify_shared_component"
	TriggerWeekendDeployment     PolicyTrigger = "weekend_deployment"
	TriggerAfterHoursDeployment  PolicyTrigger = "after_hours_deployment"
	TriggerLargeChange           PolicyTrigger = "large_change"
	TriggerHighRiskAuthor        PolicyTrigger = "high_risk_author"
	TriggerLowQualityTeam        PolicyTrigger = "low_quality_team"
	TriggerCriticalPathChange    PolicyTrigger = "critical_path_change"
	TriggerMissingTests          PolicyTrigger = "missing_tests"
	TriggerRepeatedFailure       PolicyTrigger = "repeated_failure"
	TriggerExpertiseAreaChange   PolicyTrigger = "expertise_area_change"
	TriggerEmergencyChange       PolicyTrigger = "emergency_change"
)

// PolicyAction is the intervention a policy prescribes when triggered.
type PolicyAction string

const (
	ActionRequireApproval         PolicyAction = "require_approval"
	ActionRequireAdditionalReview PolicyAction = "require_additional_review"
	ActionNotifyTeam              PolicyAction = "notify_team"
	ActionBlockMerge              PolicyAction = "block_merge"
	ActionRequireTests            PolicyAction = "require_tests"
	ActionEscalate                PolicyAction = "escalate"
	ActionRequirePairReview       PolicyAction = "require_pair_review"
	ActionLimitBlastRadius        PolicyAction = "limit_blast_radius"
	ActionScheduleReview          PolicyAction = "schedule_review"
	ActionWarnAuthor              PolicyAction = "warn_author"
	ActionAuditLog                PolicyAction = "audit_log"
	ActionRollbackPlanRequired    PolicyAction = "rollback_plan_required"
)

// ConditionOperator is the sealed set of comparison operators.
// The condition evaluator switches exhaustively over this set; adding an
// operator is a compile-time-checked change.
type ConditionOperator string

const (
	OpEquals   ConditionOperator = "equals"
	OpContains ConditionOperator = "contains"
	OpInList   ConditionOperator = "in_list"
)

// Condition fields evaluated against an incoming change event.
const (
	FieldFilePath = "file_path"
	FieldAuthor   = "author"
	FieldTeam     = "team"
	FieldTime     = "time"
)

// PolicyCondition is one ANDed clause of a policy. For OpInList the value is
// a comma-separated list.
type PolicyCondition struct {
	Field       string            `json:"field"`
	Operator    ConditionOperator `json:"operator"`
	Value       string            `json:"value"`
	Description string            `json:"description,omitempty"`
}

// Policy is a governance rule inferred from evidence. Created once by
// inference and mutated in place by refinement (confidence,
// effectiveness score). Soft-disabled via Active=false rather than deleted.
type Policy struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Trigger            PolicyTrigger     `json:"trigger"`
	Action             PolicyAction      `json:"action"`
	Conditions         []PolicyCondition `json:"conditions"`
	Confidence         float64           `json:"confidence"`
	EvidenceSignals    []string          `json:"evidence_signals"`
	CreatedFromPattern string            `json:"created_from_pattern,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	LastTriggered      *time.Time        `json:"last_triggered,omitempty"`
	TriggerCount       int               `json:"trigger_count"`
	EffectivenessScore float64           `json:"effectiveness_score"`
	TeamScope          string            `json:"team_scope,omitempty"`
	RepoScope          string            `json:"repo_scope,omitempty"`
	SeverityThreshold  Severity          `json:"severity_threshold"`
	ImpactThreshold    ImpactScope       `json:"impact_threshold"`
	Active             bool              `json:"active"`
	Rationale          string            `json:"rationale"`
}

// EnsureDefaults backfills collection fields and lifecycle defaults so a
// freshly inferred policy is safe to persist and serialize.
func (p *Policy) EnsureDefaults(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now.UTC()
	}
	if p.Conditions == nil {
		p.Conditions = []PolicyCondition{}
	}
	if p.EvidenceSignals == nil {
		p.EvidenceSignals = []string{}
	}
	if p.EffectivenessScore == 0 {
		p.EffectivenessScore = 0.5
	}
	if p.SeverityThreshold == "" {
		p.SeverityThreshold = SeverityLow
	}
	if p.ImpactThreshold == "" {
		p.ImpactThreshold = ImpactLocal
	}
}

// ValidatePolicy checks a policy's enum fields and confidence range.
func ValidatePolicy(p Policy) error {
	switch p.Trigger {
	case TriggerModifyHighRiskFile, TriggerModifySharedComponent,
		TriggerWeekendDeployment, TriggerAfterHoursDeployment,
		TriggerLargeChange, TriggerHighRiskAuthor, TriggerLowQualityTeam,
		TriggerCriticalPathChange, TriggerMissingTests, TriggerRepeatedFailure,
		TriggerExpertiseAreaChange, TriggerEmergencyChange:
	default:
		return fmt.Errorf("model: unknown policy trigger %q", p.Trigger)
	}
	switch p.Action {
	case ActionRequireApproval, ActionRequireAdditionalReview, ActionNotifyTeam,
		ActionBlockMerge, ActionRequireTests, ActionEscalate,
		ActionRequirePairReview, ActionLimitBlastRadius, ActionScheduleReview,
		ActionWarnAuthor, ActionAuditLog, ActionRollbackPlanRequired:
	default:
		return fmt.Errorf("model: unknown policy action %q", p.Action)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("model: policy confidence %v out of range [0,1]", p.Confidence)
	}
	for i, c := range p.Conditions {
		switch c.Operator {
		case OpEquals, OpContains, OpInList:
		default:
			return fmt.Errorf("model: conditions[%d]: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}
