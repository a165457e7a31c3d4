package kizuki

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port         int
	storeBackend string
	databaseURL  string
	sqlitePath   string
	ingestAPIKey string
	logger       *slog.Logger
	version      string
}

// WithPort overrides the TCP port from config (KIZUKI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStoreBackend overrides the store backend from config (KIZUKI_STORE
// env var). Valid values are "postgres" and "sqlite".
func WithStoreBackend(backend string) Option {
	return func(o *resolvedOptions) { o.storeBackend = backend }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite database path from config
// (KIZUKI_SQLITE_PATH env var). ":memory:" gives an ephemeral store.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithIngestAPIKey overrides the write-endpoint API key from config
// (KIZUKI_INGEST_API_KEY env var).
func WithIngestAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.ingestAPIKey = key }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
