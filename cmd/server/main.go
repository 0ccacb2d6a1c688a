// Package main is the entry point for the pskb article workspace.
//
// MAIN PACKAGE IN GO:
// main() is kept minimal. Its job is to:
// 1. Read configuration (env vars, optionally from a .env file)
// 2. Create the logger
// 3. Start the server
//
// All actual logic lives in imported packages (internal/server,
// internal/handler, internal/service, ...).
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/pskb/internal/config"
	"github.com/sakif/pskb/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Text output for a terminal, JSON when LOG_FORMAT=json for log
	// collectors.
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. RESOLVE FILE PATHS ===
	// Relative template and static directories resolve against the working
	// directory, usually the project root.
	cfg.TemplateDir, _ = filepath.Abs(cfg.TemplateDir)
	cfg.StaticDir, _ = filepath.Abs(cfg.StaticDir)

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
