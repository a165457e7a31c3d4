package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry budget for signal and policy upserts. The writes are single
// statements, so a transient conflict can always be replayed verbatim.
const (
	writeRetries   = 3
	writeRetryBase = 50 * time.Millisecond
)

// isTransientConflict reports whether err is a Postgres conflict worth
// replaying: serialization_failure (40001) or deadlock_detected (40P01).
func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withWriteRetry runs fn, replaying transient conflicts up to writeRetries
// times with jittered exponential backoff. Any other error, including a
// missing table, returns immediately so the caller can handle it.
func withWriteRetry(ctx context.Context, fn func() error) error {
	delay := writeRetryBase
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isTransientConflict(err) || attempt == writeRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // backoff jitter, not security-sensitive
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
