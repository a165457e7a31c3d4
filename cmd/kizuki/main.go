package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashita-ai/kizuki"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	mcpStdio := flag.Bool("mcp-stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("KIZUKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	out := os.Stdout
	if *mcpStdio {
		// stdout carries the MCP stream in stdio mode.
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	app, err := kizuki.New(
		kizuki.WithVersion(version),
		kizuki.WithLogger(logger),
	)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if *mcpStdio {
		if err := app.RunMCPStdio(); err != nil {
			logger.Error("mcp stdio server failed", "error", err)
			return 1
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
