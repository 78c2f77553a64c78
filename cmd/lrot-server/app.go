// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/lrot/services/adjustments"
	"github.com/AleutianAI/lrot/services/assistant"
	"github.com/AleutianAI/lrot/services/catalog"
	"github.com/AleutianAI/lrot/services/clustermetrics"
	"github.com/AleutianAI/lrot/services/config"
	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/AleutianAI/lrot/services/dispatch"
	"github.com/AleutianAI/lrot/services/eod"
	"github.com/AleutianAI/lrot/services/functions"
	"github.com/AleutianAI/lrot/services/prediction"
	"github.com/AleutianAI/lrot/services/secrets"
	"github.com/AleutianAI/lrot/services/variance"
	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
)

// app owns every long-lived component of the server.
type app struct {
	engine     *gin.Engine
	router     *dispatch.Router
	registered []string

	// background runs until the server context ends, e.g. catalog watch.
	background []func(ctx context.Context)

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires the components named by cfg.
//
// Description:
//
//	The database-backed operations (process status, variance) are only
//	registered when a DSN is configured; the router answers
//	FUNCTION_NOT_FOUND for the rest. time_remaining needs nothing and is
//	always present. sync_adjustments requires adjustments.enabled.
//
// Outputs:
//
//	*app - Ready to serve. The caller must Close it.
//	error - Non-nil if a configured component cannot be constructed.
func buildApp(ctx context.Context, cfg config.Config, sm *secrets.Manager, debug bool, logger *slog.Logger) (*app, error) {
	a := &app{}
	if err := a.wire(ctx, cfg, sm, debug, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg config.Config, sm *secrets.Manager, debug bool, logger *slog.Logger) error {
	deps := functions.Deps{Logger: logger}

	clock, err := eod.NewClock(cfg.EOD.Timezone, cfg.EOD.Hour, nil)
	if err != nil {
		return err
	}
	deps.Clock = clock

	if cfg.Adjustments.Enabled {
		deps.Adjustments = adjustments.NewClient(adjustments.Config{
			TokenURL:    cfg.Adjustments.TokenURL,
			CallbackURL: cfg.Adjustments.CallbackURL,
			AppID:       cfg.Adjustments.AppID,
			Timeout:     cfg.Adjustments.Timeout,
		}, sm, nil, logger)
	}

	var ready assistant.ReadinessCheck
	if cfg.Database.Configured() {
		password, err := sm.Optional(ctx, secrets.DatabasePassword)
		if err != nil {
			return fmt.Errorf("reading database password: %w", err)
		}
		src, err := datasource.OpenSQL(datasource.SQLConfig{
			Name:            cfg.Database.Name,
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.ResolveDSN(password),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, src.Close)
		ready = src.Ping

		var history datasource.Source = src
		if cfg.Cache.Enabled {
			db, err := openCache(cfg.Cache.Dir)
			if err != nil {
				logger.Warn("query cache unavailable, history queries uncached",
					slog.String("dir", cfg.Cache.Dir),
					slog.String("error", err.Error()),
				)
			} else {
				a.closers = append(a.closers, db.Close)
				history = datasource.NewCachedSource(cfg.Database.Name, src, db, cfg.Cache.TTL, logger)
				logger.Info("query cache opened", slog.String("dir", cfg.Cache.Dir), slog.Duration("ttl", cfg.Cache.TTL))
			}
		}

		provider, err := catalogProvider(ctx, a, cfg.Catalog, logger)
		if err != nil {
			return err
		}

		fetcher, err := metricsFetcher(ctx, a, cfg.ClusterMetrics, sm)
		if err != nil {
			return err
		}

		loc, err := time.LoadLocation(cfg.Prediction.Timezone)
		if err != nil {
			return fmt.Errorf("prediction timezone: %w", err)
		}
		status, err := prediction.NewEngine(prediction.Config{
			Catalog: provider,
			Status:  src,
			History: history,
			Metrics: fetcher,
			Options: prediction.Options{
				HistoryDays:    cfg.Prediction.HistoryDays,
				MetricsTimeout: cfg.ClusterMetrics.Timeout,
				Location:       loc,
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		deps.Status = status

		vcfg, err := varianceConfig(cfg.Variance)
		if err != nil {
			return err
		}
		inv, err := variance.NewEngine(src, vcfg, logger)
		if err != nil {
			return err
		}
		deps.Variance = inv
	} else {
		logger.Warn("no database configured, status and variance functions disabled")
	}

	reg := dispatch.NewRegistry()
	a.registered = functions.RegisterAll(reg, deps)
	a.router = dispatch.NewRouter(reg, dispatch.WithLogger(logger))
	a.engine = assistant.NewEngine(assistant.NewHandlers(a.router, ready, logger), assistant.EngineOptions{
		ServiceName:   "lrot-server",
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
		Debug:         debug,
	})
	return nil
}

// openCache opens the badger cache. An empty dir keeps it in memory.
func openCache(dir string) (*dgbadger.DB, error) {
	opts := dgbadger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return dgbadger.Open(opts)
}

func catalogProvider(ctx context.Context, a *app, cfg config.CatalogConfig, logger *slog.Logger) (catalog.Provider, error) {
	if cfg.Path == "" {
		c, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		return catalog.NewStatic(c), nil
	}
	loader, err := catalog.NewFileLoader(ctx, cfg.Path, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Watch {
		a.background = append(a.background, func(ctx context.Context) {
			if err := loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("catalog watch stopped", slog.String("error", err.Error()))
			}
		})
	}
	return loader, nil
}

func metricsFetcher(ctx context.Context, a *app, cfg config.ClusterMetricsConfig, sm *secrets.Manager) (clustermetrics.Fetcher, error) {
	switch cfg.Backend {
	case config.MetricsYARN:
		return clustermetrics.NewYARNFetcher(cfg.YARNURL, &http.Client{Timeout: cfg.Timeout}), nil
	case config.MetricsInflux:
		token, err := sm.Optional(ctx, secrets.InfluxToken)
		if err != nil {
			return nil, fmt.Errorf("reading influx token: %w", err)
		}
		f := clustermetrics.NewInfluxFetcher(clustermetrics.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
		})
		a.closers = append(a.closers, func() error { f.Close(); return nil })
		return f, nil
	default:
		return nil, nil
	}
}

func varianceConfig(cfg config.VarianceConfig) (*variance.Config, error) {
	if cfg.TablesPath == "" {
		return variance.DefaultConfig()
	}
	return variance.LoadConfigFile(cfg.TablesPath)
}
