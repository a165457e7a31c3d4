// Package kizuki is the public API for embedding the Kizuki learning server.
//
// Operators who want Kizuki inside a larger binary import this package to
// construct and run the server without forking it:
//
//	app, err := kizuki.New(
//	    kizuki.WithVersion(version),
//	    kizuki.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kizuki (root) imports
// internal/*, but internal/* never imports kizuki (root).
package kizuki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kizuki/internal/aggregate"
	"github.com/ashita-ai/kizuki/internal/auth"
	"github.com/ashita-ai/kizuki/internal/config"
	"github.com/ashita-ai/kizuki/internal/mcp"
	"github.com/ashita-ai/kizuki/internal/server"
	"github.com/ashita-ai/kizuki/internal/service/pipeline"
	"github.com/ashita-ai/kizuki/internal/storage"
	"github.com/ashita-ai/kizuki/internal/telemetry"
	"github.com/ashita-ai/kizuki/migrations"
)

// App is the Kizuki server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	svc          *pipeline.Service
	srv          *server.Server
	mcpSrv       *mcp.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kizuki server. It opens the configured store, wires
// the pipeline and both serving surfaces, and returns a ready-to-run App.
// It does NOT start any goroutines or accept connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storeBackend != "" {
		cfg.StoreBackend = o.storeBackend
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.ingestAPIKey != "" {
		cfg.IngestAPIKey = o.ingestAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kizuki starting", "version", version, "port", cfg.Port, "store", cfg.StoreBackend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := newStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	keyring, err := auth.NewKeyring(cfg.IngestAPIKey)
	if err != nil {
		_ = store.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !keyring.Enabled() {
		logger.Warn("ingest auth disabled (no KIZUKI_INGEST_API_KEY) — write endpoints are open")
	}

	svc, err := pipeline.New(store, aggregate.Options{
		MinFrequency:        cfg.MinFrequency,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	}, logger, nil)
	if err != nil {
		_ = store.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	mcpSrv := mcp.New(svc, version, logger)

	srv := server.New(server.Config{
		Pipeline:            svc,
		Keyring:             keyring,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		svc:          svc,
		srv:          srv,
		mcpSrv:       mcpSrv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has already run — callers
// should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// RunMCPStdio serves the MCP server on stdin/stdout instead of HTTP. It
// blocks until the stream closes, then releases the store and telemetry.
func (a *App) RunMCPStdio() error {
	a.logger.Info("kizuki mcp stdio mode", "version", a.version)
	err := a.mcpSrv.ServeStdio()
	if sErr := a.Shutdown(context.Background()); err == nil {
		err = sErr
	}
	return err
}

// Shutdown drains in-flight HTTP requests, then closes the store and the
// OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kizuki shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if err := a.store.Close(ctx); err != nil {
		a.logger.Error("store close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("kizuki stopped")
	return nil
}

func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return storage.NewPostgres(ctx, cfg.DatabaseURL, migrations.FS, logger)
	case "sqlite":
		return storage.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
