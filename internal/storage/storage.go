// Package storage provides the durable signal and policy stores.
//
// Two backends implement the same Store contract: PostgreSQL (via pgx, the
// production store) and embedded SQLite (local mode and tests). Both treat a
// missing schema as a recoverable condition: the first write creates the
// tables and retries, so callers never see schema errors.
package storage

import (
	"context"
	"errors"

	"github.com/ashita-ai/kizuki/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// DefaultQueryLimit caps signal queries when the caller does not set one.
const DefaultQueryLimit = 1000

// QueryFilters narrows a signal query. Zero values mean "no filter";
// filters are ANDed. SinceDays selects signals newer than now minus N days.
type QueryFilters struct {
	Repo      string
	Org       string
	Type      model.SignalType
	Author    string
	SinceDays int
	Limit     int
}

// Store is the durable log of signals and inferred policies.
//
// StoreSignal is an idempotent upsert keyed by Signal.ID: re-ingesting an ID
// overwrites the row in place. QuerySignals returns newest-first.
type Store interface {
	StoreSignal(ctx context.Context, s model.Signal) (string, error)
	QuerySignals(ctx context.Context, f QueryFilters) ([]model.Signal, error)

	UpsertPolicy(ctx context.Context, org string, p model.Policy) error
	GetPolicy(ctx context.Context, id string) (model.Policy, error)
	ListPolicies(ctx context.Context, org string) ([]model.Policy, error)

	Close(ctx context.Context) error
}
