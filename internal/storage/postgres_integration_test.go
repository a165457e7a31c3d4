package storage_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kizuki/internal/model"
	"github.com/ashita-ai/kizuki/internal/storage"
	"github.com/ashita-ai/kizuki/migrations"
)

// startPostgres launches a disposable Postgres container and returns a DSN.
// Requires Docker; gated behind KIZUKI_INTEGRATION so unit runs stay fast.
func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("KIZUKI_INTEGRATION") == "" {
		t.Skip("set KIZUKI_INTEGRATION=1 to run Postgres integration tests")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kizuki",
			"POSTGRES_PASSWORD": "kizuki",
			"POSTGRES_DB":       "kizuki",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://kizuki:kizuki@%s:%s/kizuki?sslmode=disable", host, port.Port())
}

func TestPostgresStore_EndToEnd(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.NewPostgres(ctx, dsn, migrations.FS, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })

	s := model.Signal{
		ID:        "pg_1",
		Type:      model.SignalDeploymentFailure,
		Repo:      "checkout",
		Org:       "acme",
		Author:    "rowan",
		Files:     []string{"api/deploy.go"},
		Severity:  model.SeverityHigh,
		Timestamp: time.Now().UTC(),
	}
	s.EnsureDefaults(time.Now())
	id, err := db.StoreSignal(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "pg_1", id)

	// Upsert in place.
	s.Cause = "missing migration"
	_, err = db.StoreSignal(ctx, s)
	require.NoError(t, err)

	got, err := db.QuerySignals(ctx, storage.QueryFilters{Org: "acme", Type: model.SignalDeploymentFailure})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "missing migration", got[0].Cause)
	assert.Equal(t, []string{"api/deploy.go"}, got[0].Files)

	p := model.Policy{
		ID:         "pg_pol",
		Name:       "High-risk file review",
		Trigger:    model.TriggerModifyHighRiskFile,
		Action:     model.ActionRequireAdditionalReview,
		Confidence: 0.83,
		Active:     true,
	}
	p.EnsureDefaults(time.Now())
	require.NoError(t, db.UpsertPolicy(ctx, "acme", p))

	loaded, err := db.GetPolicy(ctx, "pg_pol")
	require.NoError(t, err)
	assert.InDelta(t, 0.83, loaded.Confidence, 1e-9)

	listed, err := db.ListPolicies(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestPostgresStore_ReadsOnFreshDatabase(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// NewPostgres applies the schema, so reads before any write must see
	// empty tables rather than surface a missing-relation error.
	db, err := storage.NewPostgres(ctx, dsn, migrations.FS, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })

	signals, err := db.QuerySignals(ctx, storage.QueryFilters{Org: "acme"})
	require.NoError(t, err)
	assert.Empty(t, signals)

	policies, err := db.ListPolicies(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, policies)

	_, err = db.GetPolicy(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgresStore_QueryRecoversDroppedTable(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.NewPostgres(ctx, dsn, migrations.FS, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })

	// pgx reports the missing relation during row iteration, not from
	// Query itself; the store must still detect it and reapply the schema.
	_, err = db.Pool().Exec(ctx, `DROP TABLE signals`)
	require.NoError(t, err)

	signals, err := db.QuerySignals(ctx, storage.QueryFilters{Org: "acme"})
	require.NoError(t, err)
	assert.Empty(t, signals)

	// The recreated table accepts writes again.
	s := model.Signal{
		ID:        "pg_recover",
		Type:      model.SignalCIFailure,
		Repo:      "checkout",
		Org:       "acme",
		Timestamp: time.Now().UTC(),
	}
	s.EnsureDefaults(time.Now())
	_, err = db.StoreSignal(ctx, s)
	require.NoError(t, err)
}
