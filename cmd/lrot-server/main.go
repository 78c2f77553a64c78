// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lrot-server serves the operations assistant functions over HTTP.
//
// Usage:
//
//	lrot-server -config /etc/lrot/lrot.yaml
//
// Environment variables override the file; see services/config. Secrets
// (LROT_DB_PASSWORD, LROT_INFLUX_TOKEN, LROT_ADJUSTMENTS_USER_SID) are
// read from the environment and held in memguard enclaves.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/lrot/services/config"
	"github.com/AleutianAI/lrot/services/secrets"
	"github.com/AleutianAI/lrot/services/telemetry"
	"github.com/gin-gonic/gin"

	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("LROT_CONFIG"), "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging and gin request logs")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *debug, logger); err != nil {
		logger.Error("lrot-server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, debug bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.OptionsFromEnv("lrot-server"))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	sm := secrets.NewManager(secrets.EnvBackend{}, cfg.Secrets.CacheTTL)
	defer sm.Purge()

	a, err := buildApp(ctx, cfg, sm, debug, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", slog.String("error", err.Error()))
		}
	}()
	for _, bg := range a.background {
		go bg(ctx)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting lrot-server",
			slog.String("address", cfg.Server.Addr),
			slog.String("functions", strings.Join(a.registered, ",")),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down lrot-server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
