// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datasource provides tabular query access for the analytic engines.
//
// Engines depend only on the Source interface. SQLSource runs queries through
// database/sql, CachedSource memoizes another Source in BadgerDB, and
// SourceFunc adapts a plain function for tests and fixtures.
package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	// Registers the "sqlite" driver used by local and test deployments.
	_ "modernc.org/sqlite"
)

const tracerName = "lrot.datasource"

// Source executes a query and returns its rows.
//
// Implementations wrap transport failures with datatypes.ErrUpstream.
type Source interface {
	Query(ctx context.Context, query string, args ...any) ([]datatypes.Row, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, query string, args ...any) ([]datatypes.Row, error)

// Query implements Source.
func (f SourceFunc) Query(ctx context.Context, query string, args ...any) ([]datatypes.Row, error) {
	return f(ctx, query, args...)
}

// SQLSource runs queries against a database/sql pool.
//
// Description:
//
//	The pool is opened with the configured driver name and DSN. Only
//	drivers linked into the binary can be used; "sqlite" is always present.
//	Column values are normalized so []byte becomes string.
//
// Thread Safety: Safe for concurrent use. *sql.DB is a pool.
type SQLSource struct {
	name   string
	db     *sql.DB
	logger *slog.Logger
}

// SQLConfig configures an SQLSource.
type SQLConfig struct {
	// Name labels metrics and logs, e.g. "status" or "history".
	Name string

	// Driver is the database/sql driver name.
	Driver string

	// DSN is the driver-specific connection string. It may carry secrets
	// and is never logged unredacted.
	DSN string

	// MaxOpenConns caps the pool. Zero leaves the driver default.
	MaxOpenConns int

	// ConnMaxLifetime recycles connections. Zero disables recycling.
	ConnMaxLifetime time.Duration
}

// OpenSQL opens an SQLSource. The connection is verified lazily on first use.
func OpenSQL(cfg SQLConfig, logger *slog.Logger) (*SQLSource, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("datasource %q: driver must not be empty", cfg.Name)
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("datasource %q: open: %s", cfg.Name, llm.SafeLogString(err.Error()))
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewSQLSource(cfg.Name, db, logger), nil
}

// NewSQLSource wraps an existing pool. The caller keeps ownership of db
// unless Close is called.
func NewSQLSource(name string, db *sql.DB, logger *slog.Logger) *SQLSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLSource{name: name, db: db, logger: logger}
}

// DB returns the underlying pool.
func (s *SQLSource) DB() *sql.DB {
	return s.db
}

// Close closes the pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity.
func (s *SQLSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return datatypes.Upstream(fmt.Sprintf("datasource %s unreachable", s.name), err)
	}
	return nil
}

// Query implements Source.
//
// Outputs:
//   - []datatypes.Row: One map per row keyed by column name. Empty, not nil,
//     when the query matches nothing.
//   - error: datatypes.ErrUpstream on driver or scan failure.
func (s *SQLSource) Query(ctx context.Context, query string, args ...any) ([]datatypes.Row, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "datasource.SQLSource.Query",
		trace.WithAttributes(attribute.String("datasource.name", s.name)),
	)
	defer span.End()

	start := time.Now()
	rows, err := s.query(ctx, query, args...)
	queryDurationSeconds.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	if err != nil {
		queriesTotal.WithLabelValues(s.name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.logger.Warn("datasource query failed",
			slog.String("source", s.name),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return nil, datatypes.Upstream(fmt.Sprintf("%s query failed", s.name), err)
	}

	queriesTotal.WithLabelValues(s.name, "ok").Inc()
	span.SetAttributes(attribute.Int("datasource.rows", len(rows)))
	s.logger.Debug("datasource query completed",
		slog.String("source", s.name),
		slog.Int("rows", len(rows)),
		slog.Duration("duration", time.Since(start)),
	)
	return rows, nil
}

func (s *SQLSource) query(ctx context.Context, query string, args ...any) ([]datatypes.Row, error) {
	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]datatypes.Row, 0)
	for rs.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(datatypes.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
