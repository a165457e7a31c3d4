package storage_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kizuki/internal/model"
	"github.com/ashita-ai/kizuki/internal/storage"
)

func newLite(t *testing.T) *storage.Lite {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := storage.NewSQLite(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l
}

func testSignal(id string, typ model.SignalType, ts time.Time) model.Signal {
	s := model.Signal{
		ID:        id,
		Type:      typ,
		Repo:      "payments",
		Org:       "acme",
		Team:      "platform",
		Author:    "rowan",
		Timestamp: ts,
	}
	s.EnsureDefaults(ts)
	return s
}

func TestStoreSignal_CreatesSchemaOnFirstWrite(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()

	// No schema exists yet; the first write must create it and retry.
	id, err := l.StoreSignal(ctx, testSignal("s1", model.SignalCIFailure, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
}

func TestStoreSignal_UpsertIsIdempotent(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	s := testSignal("dup", model.SignalCIFailure, ts)
	s.Cause = "first version"
	_, err := l.StoreSignal(ctx, s)
	require.NoError(t, err)

	s.Cause = "second version"
	s.Severity = model.SeverityCritical
	_, err = l.StoreSignal(ctx, s)
	require.NoError(t, err)

	got, err := l.QuerySignals(ctx, storage.QueryFilters{Repo: "payments"})
	require.NoError(t, err)
	require.Len(t, got, 1, "same ID must result in exactly one row")
	assert.Equal(t, "second version", got[0].Cause)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
}

func TestQuerySignals_OrderedNewestFirst(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		_, err := l.StoreSignal(ctx, testSignal(id, model.SignalCISuccess, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	got, err := l.QuerySignals(ctx, storage.QueryFilters{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestQuerySignals_FiltersAreANDed(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()
	now := time.Now()

	s1 := testSignal("x1", model.SignalCIFailure, now)
	s2 := testSignal("x2", model.SignalCIFailure, now.Add(time.Second))
	s2.Author = "casey"
	s3 := testSignal("x3", model.SignalCISuccess, now.Add(2*time.Second))

	for _, s := range []model.Signal{s1, s2, s3} {
		_, err := l.StoreSignal(ctx, s)
		require.NoError(t, err)
	}

	got, err := l.QuerySignals(ctx, storage.QueryFilters{
		Type:   model.SignalCIFailure,
		Author: "rowan",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x1", got[0].ID)
}

func TestQuerySignals_SinceDaysWindow(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()

	old := testSignal("old", model.SignalRollback, time.Now().AddDate(0, 0, -40))
	recent := testSignal("recent", model.SignalRollback, time.Now().Add(-time.Hour))
	for _, s := range []model.Signal{old, recent} {
		_, err := l.StoreSignal(ctx, s)
		require.NoError(t, err)
	}

	got, err := l.QuerySignals(ctx, storage.QueryFilters{SinceDays: 30})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].ID)
}

func TestQuerySignals_LimitApplied(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		s := testSignal("", model.SignalPRComment, base.Add(time.Duration(i)*time.Minute))
		s.ID = string(rune('a' + i))
		_, err := l.StoreSignal(ctx, s)
		require.NoError(t, err)
	}

	got, err := l.QuerySignals(ctx, storage.QueryFilters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQuerySignals_RoundTripsCollections(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()

	s := testSignal("coll", model.SignalIncident, time.Now())
	s.Files = []string{"api/server.go", "core/loop.go"}
	s.Tags = []string{"incident", "paging"}
	s.Metadata = map[string]any{"source": "pagerduty"}
	_, err := l.StoreSignal(ctx, s)
	require.NoError(t, err)

	got, err := l.QuerySignals(ctx, storage.QueryFilters{Org: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"api/server.go", "core/loop.go"}, got[0].Files)
	assert.Equal(t, []string{"incident", "paging"}, got[0].Tags)
	assert.Equal(t, "pagerduty", got[0].Metadata["source"])
}

func TestQuerySignals_EmptyStoreReturnsEmptySlice(t *testing.T) {
	l := newLite(t)

	got, err := l.QuerySignals(context.Background(), storage.QueryFilters{Org: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPolicy_UpsertGetList(t *testing.T) {
	l := newLite(t)
	ctx := context.Background()

	p := model.Policy{
		ID:         "pol_1",
		Name:       "Weekend deployment approval",
		Trigger:    model.TriggerWeekendDeployment,
		Action:     model.ActionRequireApproval,
		Confidence: 0.7,
		Conditions: []model.PolicyCondition{
			{Field: model.FieldTime, Operator: model.OpInList, Value: "Friday,Saturday,Sunday"},
		},
		Active: true,
	}
	p.EnsureDefaults(time.Now())

	require.NoError(t, l.UpsertPolicy(ctx, "acme", p))

	got, err := l.GetPolicy(ctx, "pol_1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, model.OpInList, got.Conditions[0].Operator)

	// Refinement overwrites in place.
	p.Confidence = 0.77
	require.NoError(t, l.UpsertPolicy(ctx, "acme", p))
	listed, err := l.ListPolicies(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.InDelta(t, 0.77, listed[0].Confidence, 1e-9)
}

func TestGetPolicy_NotFound(t *testing.T) {
	l := newLite(t)

	_, err := l.GetPolicy(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
