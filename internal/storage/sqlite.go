package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ashita-ai/kizuki/internal/model"
)

// sqliteTimeFormat is a fixed-width UTC encoding so lexicographic order of
// the ts column matches chronological order.
const sqliteTimeFormat = "2006-01-02 15:04:05.000000000"

// sqliteSchema mirrors the Postgres migrations for the embedded backend.
// Statements are executed one by one on first use.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id           TEXT PRIMARY KEY,
		signal_type  TEXT NOT NULL,
		repo         TEXT NOT NULL DEFAULT '',
		org          TEXT NOT NULL DEFAULT '',
		team         TEXT NOT NULL DEFAULT '',
		files        TEXT NOT NULL DEFAULT '[]',
		cause        TEXT NOT NULL DEFAULT '',
		resolution   TEXT NOT NULL DEFAULT '',
		author       TEXT NOT NULL DEFAULT '',
		reviewer     TEXT NOT NULL DEFAULT '',
		severity     TEXT NOT NULL DEFAULT 'low',
		impact_scope TEXT NOT NULL DEFAULT 'local',
		ts           TEXT NOT NULL,
		metadata     TEXT NOT NULL DEFAULT '{}',
		tags         TEXT NOT NULL DEFAULT '[]',
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_repo_ts   ON signals (repo, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_org_ts    ON signals (org, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_type_ts   ON signals (signal_type, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_author_ts ON signals (author, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS policies (
		id         TEXT PRIMARY KEY,
		org        TEXT NOT NULL DEFAULT '',
		active     INTEGER NOT NULL DEFAULT 1,
		doc        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_policies_org ON policies (org, active)`,
}

// Lite is the embedded SQLite-backed Store, used in local mode and tests.
// SQLite's native locking provides the single-writer/multi-reader semantics
// the pipeline needs.
type Lite struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*Lite)(nil)

// NewSQLite opens (or creates) an embedded store at path. Use ":memory:"
// for an ephemeral store.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*Lite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// One writer connection; the driver serializes access.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: set busy_timeout: %w", err)
	}

	return &Lite{db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (l *Lite) Close(ctx context.Context) error {
	return l.db.Close()
}

// isMissingTable returns true for SQLite "no such table" errors.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (l *Lite) ensureSchema(ctx context.Context) error {
	l.logger.Info("storage: schema missing, creating sqlite tables")
	for _, stmt := range sqliteSchema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create sqlite schema: %w", err)
		}
	}
	return nil
}

// StoreSignal upserts a signal keyed by ID and returns the stored ID.
func (l *Lite) StoreSignal(ctx context.Context, s model.Signal) (string, error) {
	s.EnsureDefaults(time.Now())

	err := l.execUpsertSignal(ctx, s)
	if isMissingTable(err) {
		if merr := l.ensureSchema(ctx); merr != nil {
			return "", merr
		}
		err = l.execUpsertSignal(ctx, s)
	}
	if err != nil {
		return "", fmt.Errorf("storage: store signal: %w", err)
	}
	return s.ID, nil
}

func (l *Lite) execUpsertSignal(ctx context.Context, s model.Signal) error {
	files, err := json.Marshal(s.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO signals (id, signal_type, repo, org, team, files, cause, resolution,
		                     author, reviewer, severity, impact_scope, ts, metadata, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			signal_type = excluded.signal_type,
			repo = excluded.repo,
			org = excluded.org,
			team = excluded.team,
			files = excluded.files,
			cause = excluded.cause,
			resolution = excluded.resolution,
			author = excluded.author,
			reviewer = excluded.reviewer,
			severity = excluded.severity,
			impact_scope = excluded.impact_scope,
			ts = excluded.ts,
			metadata = excluded.metadata,
			tags = excluded.tags`,
		s.ID, string(s.Type), s.Repo, s.Org, s.Team, string(files), s.Cause, s.Resolution,
		s.Author, s.Reviewer, string(s.Severity), string(s.ImpactScope),
		s.Timestamp.UTC().Format(sqliteTimeFormat), string(metadata), string(tags),
	)
	return err
}

// QuerySignals returns signals matching the filters, newest first.
func (l *Lite) QuerySignals(ctx context.Context, f QueryFilters) ([]model.Signal, error) {
	query, args := buildSignalQuery(f, placeholderQuestion)
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			args[i] = t.UTC().Format(sqliteTimeFormat)
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if isMissingTable(err) {
		if merr := l.ensureSchema(ctx); merr != nil {
			return nil, merr
		}
		rows, err = l.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query signals: %w", err)
	}
	defer rows.Close()

	signals := make([]model.Signal, 0)
	for rows.Next() {
		var (
			s                         model.Signal
			ts, files, metadata, tags string
		)
		if err := rows.Scan(&s.ID, &s.Type, &s.Repo, &s.Org, &s.Team, &files,
			&s.Cause, &s.Resolution, &s.Author, &s.Reviewer,
			&s.Severity, &s.ImpactScope, &ts, &metadata, &tags); err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		parsed, err := time.Parse(sqliteTimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("storage: parse signal timestamp: %w", err)
		}
		s.Timestamp = parsed.UTC()
		if err := decodeSignalJSON(&s, []byte(files), []byte(metadata), []byte(tags)); err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// UpsertPolicy persists a policy document keyed by ID, scoped to an org.
func (l *Lite) UpsertPolicy(ctx context.Context, org string, p model.Policy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage: marshal policy: %w", err)
	}

	exec := func() error {
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO policies (id, org, active, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				org = excluded.org,
				active = excluded.active,
				doc = excluded.doc,
				updated_at = excluded.updated_at`,
			p.ID, org, p.Active, string(doc),
			p.CreatedAt.UTC().Format(sqliteTimeFormat),
			time.Now().UTC().Format(sqliteTimeFormat),
		)
		return err
	}

	err = exec()
	if isMissingTable(err) {
		if merr := l.ensureSchema(ctx); merr != nil {
			return merr
		}
		err = exec()
	}
	if err != nil {
		return fmt.Errorf("storage: upsert policy: %w", err)
	}
	return nil
}

// GetPolicy loads one policy by ID. Returns ErrNotFound if absent.
func (l *Lite) GetPolicy(ctx context.Context, id string) (model.Policy, error) {
	var doc string
	err := l.db.QueryRowContext(ctx, `SELECT doc FROM policies WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
		return model.Policy{}, ErrNotFound
	}
	if err != nil {
		return model.Policy{}, fmt.Errorf("storage: get policy: %w", err)
	}

	var p model.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return model.Policy{}, fmt.Errorf("storage: unmarshal policy: %w", err)
	}
	return p, nil
}

// ListPolicies returns all policies for an org, newest first.
func (l *Lite) ListPolicies(ctx context.Context, org string) ([]model.Policy, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT doc FROM policies WHERE org = ? ORDER BY created_at DESC`, org)
	if isMissingTable(err) {
		return []model.Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list policies: %w", err)
	}
	defer rows.Close()

	policies := make([]model.Policy, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan policy: %w", err)
		}
		var p model.Policy
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("storage: unmarshal policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
