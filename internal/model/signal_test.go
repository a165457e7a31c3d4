package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kizuki/internal/model"
)

func TestEnsureDefaults_DerivesID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := model.Signal{Type: model.SignalCIFailure, Repo: "payments"}
	s.EnsureDefaults(now)

	assert.Equal(t, "ci_failure_payments_1772366400", s.ID)
	assert.Equal(t, now, s.Timestamp)
}

func TestEnsureDefaults_KeepsExistingID(t *testing.T) {
	s := model.Signal{ID: "custom", Type: model.SignalIncident}
	s.EnsureDefaults(time.Now())
	assert.Equal(t, "custom", s.ID)
}

func TestEnsureDefaults_InitializesCollections(t *testing.T) {
	s := model.Signal{Type: model.SignalPRComment}
	s.EnsureDefaults(time.Now())

	require.NotNil(t, s.Files)
	require.NotNil(t, s.Tags)
	require.NotNil(t, s.Metadata)
	assert.Empty(t, s.Files)
	assert.Equal(t, model.SeverityLow, s.Severity)
	assert.Equal(t, model.ImpactLocal, s.ImpactScope)
}

func TestValidateSignal_UnknownType(t *testing.T) {
	s := model.Signal{Type: "earthquake"}
	s.EnsureDefaults(time.Now())
	err := model.ValidateSignal(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal type")
}

func TestValidateSignal_EmptyRepoIsAcceptable(t *testing.T) {
	s := model.Signal{Type: model.SignalRollback}
	s.EnsureDefaults(time.Now())
	assert.NoError(t, model.ValidateSignal(s))
}

func TestSignalTypeClasses(t *testing.T) {
	assert.True(t, model.SignalCIFailure.IsFailure())
	assert.True(t, model.SignalDeploymentFailure.IsFailure())
	assert.False(t, model.SignalCIFailure.IsSuccess())
	assert.True(t, model.SignalPRApproval.IsSuccess())
	assert.False(t, model.SignalHotfix.IsFailure())
	assert.False(t, model.SignalHotfix.IsSuccess())
}

func TestStableID_DeterministicAcrossCalls(t *testing.T) {
	a := model.StableID("pat", "failure_hotspot:api/handler.go")
	b := model.StableID("pat", "failure_hotspot:api/handler.go")
	c := model.StableID("pat", "failure_hotspot:api/other.go")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "pat_")
}

func TestPolicyEnsureDefaults(t *testing.T) {
	p := model.Policy{Trigger: model.TriggerWeekendDeployment, Action: model.ActionRequireApproval}
	p.EnsureDefaults(time.Now())

	assert.Equal(t, 0.5, p.EffectivenessScore)
	assert.NotNil(t, p.Conditions)
	assert.NotNil(t, p.EvidenceSignals)
	assert.Equal(t, model.SeverityLow, p.SeverityThreshold)
}

func TestValidatePolicy_UnknownOperatorRejected(t *testing.T) {
	p := model.Policy{
		Trigger:    model.TriggerModifyHighRiskFile,
		Action:     model.ActionRequireApproval,
		Confidence: 0.8,
		Conditions: []model.PolicyCondition{
			{Field: model.FieldFilePath, Operator: "regex", Value: ".*"},
		},
	}
	err := model.ValidatePolicy(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator")
}
