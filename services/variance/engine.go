// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package variance compares aggregated snapshot rows across two dates.
//
// Rows are paired by (line, group). Pairs present on both dates produce
// Records for measures that moved by at least the materiality threshold;
// pairs present on one date produce MissingPairs. Investigate chains the
// comparison across the reporting, base data and SLS details tables.
package variance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/AleutianAI/lrot/services/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lrot.variance"

// Scope restricts the rows a table query returns.
type Scope struct {
	// Products limits the reporting table to these product identifiers.
	Products []string

	// Lines limits drill-down tables to these line identifiers.
	Lines []string
}

// queryData is the template input for table queries.
type queryData struct {
	Date1    string
	Date2    string
	Products []string
	Lines    []string
}

// table is a TableDef with its parsed query.
type table struct {
	def   TableDef
	query *datasource.QueryTemplate
}

// Engine runs variance comparisons against a data source.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	source    datasource.Source
	threshold float64
	tables    map[string]table
	logger    *slog.Logger
}

// NewEngine builds an engine over source with the given table definitions.
func NewEngine(source datasource.Source, cfg *Config, logger *slog.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("variance: source must not be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("variance: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source:    source,
		threshold: cfg.ThresholdPct,
		tables:    make(map[string]table, len(cfg.Tables)),
		logger:    logger,
	}
	for _, def := range cfg.Tables {
		q, err := datasource.ParseQueryTemplate(def.Name, def.Query)
		if err != nil {
			return nil, fmt.Errorf("variance: %w", err)
		}
		e.tables[def.Name] = table{def: def, query: q}
	}
	return e, nil
}

// Threshold returns the materiality threshold in percent.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Analyze compares one table between date1 and date2.
//
// Description:
//
//	Renders the table's query for both dates and scope, fetches the rows
//	and hands them to Compare. Any fetch failure fails the call.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	tableName - A configured table.
//	date1, date2 - YYYY-MM-DD.
//	scope - Optional product or line restriction.
//
// Outputs:
//
//	*Report - The comparison.
//	error - ErrMalformedInput for bad dates or table, ErrUpstream on fetch
//	        failure, ErrDataIntegrity on duplicate rows.
func (e *Engine) Analyze(ctx context.Context, tableName, date1, date2 string, scope Scope) (*Report, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "variance.Engine.Analyze",
		trace.WithAttributes(
			attribute.String("variance.table", tableName),
			attribute.String("variance.date1", date1),
			attribute.String("variance.date2", date2),
		),
	)
	defer span.End()

	report, err := e.analyze(ctx, tableName, date1, date2, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, datatypes.ErrorCode(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("variance.records", len(report.VarianceData)),
		attribute.Int("variance.missing_pairs", len(report.MissingPairs)),
	)
	return report, nil
}

func (e *Engine) analyze(ctx context.Context, tableName, date1, date2 string, scope Scope) (*Report, error) {
	t, ok := e.tables[tableName]
	if !ok {
		return nil, datatypes.Malformed("unknown variance table %q", tableName)
	}
	d1, err := datatypes.ParseISODate("date1", date1)
	if err != nil {
		return nil, err
	}
	d2, err := datatypes.ParseISODate("date2", date2)
	if err != nil {
		return nil, err
	}
	iso1, iso2 := d1.Format(time.DateOnly), d2.Format(time.DateOnly)

	query, err := t.query.Render(queryData{Date1: iso1, Date2: iso2, Products: scope.Products, Lines: scope.Lines})
	if err != nil {
		return nil, fmt.Errorf("variance: %w", err)
	}

	start := time.Now()
	rows, err := e.source.Query(ctx, query)
	if err != nil {
		if !errors.Is(err, datatypes.ErrUpstream) {
			err = datatypes.Upstream(tableName+" query failed", err)
		}
		return nil, err
	}
	e.logger.Debug("variance rows fetched",
		slog.String("table", tableName),
		slog.Int("rows", len(rows)),
		slog.Duration("duration", time.Since(start)),
	)

	report, err := Compare(t.def, rows, iso1, iso2, e.threshold)
	if err != nil {
		return nil, err
	}
	if report.SkippedRows > 0 {
		e.logger.Warn("variance rows without pair key skipped",
			slog.String("table", tableName),
			slog.Int("skipped", report.SkippedRows),
		)
	}
	return report, nil
}

// Investigate runs the reporting comparison and, when it finds significant
// lines, drills into the base data and SLS details tables for those lines.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	date1, date2 - YYYY-MM-DD.
//	products - Comma-separated product identifiers. Empty means all.
//
// Outputs:
//
//	*Investigation - Reporting analysis always; drill-downs only when the
//	                 reporting table had significant lines.
//	error - Any failure from Analyze.
func (e *Engine) Investigate(ctx context.Context, date1, date2, products string) (*Investigation, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "variance.Engine.Investigate")
	defer span.End()

	productIDs := SplitList(products)
	out := &Investigation{
		Success:            true,
		Date1:              date1,
		Date2:              date2,
		ProductIdentifiers: productIDs,
	}

	reporting, err := e.Analyze(ctx, TableReporting, date1, date2, Scope{Products: productIDs})
	if err != nil {
		span.SetStatus(codes.Error, "reporting analysis failed")
		return nil, err
	}
	out.Reporting = reporting

	if len(reporting.LinesWithVariance) == 0 {
		out.Message = "No significant variance found in the reporting table."
		return out, nil
	}

	lines := reporting.LinesWithVariance
	span.SetAttributes(attribute.Int("variance.drilldown_lines", len(lines)))

	if out.BaseData, err = e.Analyze(ctx, TableBaseData, date1, date2, Scope{Lines: lines}); err != nil {
		span.SetStatus(codes.Error, "base data analysis failed")
		return nil, err
	}
	if out.SLSDetails, err = e.Analyze(ctx, TableSLSDetails, date1, date2, Scope{Lines: lines}); err != nil {
		span.SetStatus(codes.Error, "sls details analysis failed")
		return nil, err
	}
	return out, nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
