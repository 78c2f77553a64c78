// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prediction reports batch progress and forecasts running tasks.
//
// GetProcessStatus joins the catalog with the current run-status rows,
// historical run durations and cluster load. Completed tasks report their
// actual duration, running tasks get a duration forecast from matching
// history, and absent tasks are pending.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/lrot/services/catalog"
	"github.com/AleutianAI/lrot/services/clustermetrics"
	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lrot.prediction"

// Result-set columns read by the engine.
const (
	colIdentifier  = "BPF_ID"
	colStatus      = "STATUS"
	colProcessName = "PROCESS_NAME"
	colStart       = "START_TIME"
	colEnd         = "END_TIME"
	colCOBDate     = "COB_DATE"
)

// timestampLayout renders times in reports.
const timestampLayout = time.DateTime

// Options tunes the forecasting rules. Zero fields take defaults.
type Options struct {
	// HistoryDays is the trailing window of history. Default 30.
	HistoryDays int

	// MetricsTimeout bounds the cluster metrics fetch. Default 10s.
	MetricsTimeout time.Duration

	// Location interprets naive warehouse timestamps. Default America/New_York,
	// falling back to UTC when tzdata is unavailable.
	Location *time.Location

	// Now is the clock. Default time.Now.
	Now func() time.Time

	// DefaultMinutes is the forecast when a task has no history. Default 30.
	DefaultMinutes float64

	// DefaultBandMinutes is the ± band around DefaultMinutes. Default 10.
	DefaultBandMinutes float64

	// LongRunningPenaltyMinutes is added when overloaded, for long-running
	// tasks. Default 15.
	LongRunningPenaltyMinutes float64

	// PenaltyMinutes is added when overloaded, for other tasks. Default 5.
	PenaltyMinutes float64

	// MinMatchedSamples is the matched-sample count below which all history
	// is used. Default 5.
	MinMatchedSamples int

	// HourWindow is the ± start-hour tolerance for matching. Default 1.
	HourWindow int

	// BoundFraction clips the interquartile bound to ±fraction of the
	// prediction. Default 0.2.
	BoundFraction float64
}

func (o Options) withDefaults() Options {
	if o.HistoryDays <= 0 {
		o.HistoryDays = 30
	}
	if o.MetricsTimeout <= 0 {
		o.MetricsTimeout = clustermetrics.DefaultTimeout
	}
	if o.Location == nil {
		if loc, err := time.LoadLocation("America/New_York"); err == nil {
			o.Location = loc
		} else {
			o.Location = time.UTC
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DefaultMinutes <= 0 {
		o.DefaultMinutes = 30
	}
	if o.DefaultBandMinutes <= 0 {
		o.DefaultBandMinutes = 10
	}
	if o.LongRunningPenaltyMinutes <= 0 {
		o.LongRunningPenaltyMinutes = 15
	}
	if o.PenaltyMinutes <= 0 {
		o.PenaltyMinutes = 5
	}
	if o.MinMatchedSamples <= 0 {
		o.MinMatchedSamples = 5
	}
	if o.HourWindow <= 0 {
		o.HourWindow = 1
	}
	if o.BoundFraction <= 0 {
		o.BoundFraction = 0.2
	}
	return o
}

// Config wires an Engine.
type Config struct {
	// Catalog supplies the expected tasks. Required.
	Catalog catalog.Provider

	// Status answers the run-status query. Required; its failure fails
	// the report.
	Status datasource.Source

	// History answers the run-history query. Optional; its failure
	// degrades the report.
	History datasource.Source

	// Metrics reads cluster load. Optional; its failure degrades to
	// "not overloaded".
	Metrics clustermetrics.Fetcher

	Options Options
	Logger  *slog.Logger
}

// Engine builds status reports.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	catalogs catalog.Provider
	status   datasource.Source
	history  datasource.Source
	metrics  clustermetrics.Fetcher
	opts     Options
	logger   *slog.Logger
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("prediction: catalog provider must not be nil")
	}
	if cfg.Status == nil {
		return nil, errors.New("prediction: status source must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalogs: cfg.Catalog,
		status:   cfg.Status,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		opts:     cfg.Options.withDefaults(),
		logger:   logger,
	}, nil
}

// GetProcessStatus reports progress of the batch for a COB date.
//
// Description:
//
//	Loads the catalog, resolves the optional task filter, runs the status
//	query (fatal on failure), the history query (degrades on failure) and
//	the cluster probe (degrades on failure), then classifies each catalog
//	task as COMPLETED, RUNNING, PENDING or its raw warehouse status.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	cobDate - Process date, MM-DD-YYYY or another accepted layout.
//	taskFilter - Optional table name fragment or BPF id.
//
// Outputs:
//
//	*StatusReport - Tasks in catalog order, unknown ids last.
//	error - ErrMalformedInput for a bad date or unknown table, ErrUpstream
//	        when the status query fails.
func (e *Engine) GetProcessStatus(ctx context.Context, cobDate, taskFilter string) (*StatusReport, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "prediction.Engine.GetProcessStatus",
		trace.WithAttributes(
			attribute.String("cob_date", cobDate),
			attribute.String("task_filter", taskFilter),
		),
	)
	defer span.End()

	report, err := e.getProcessStatus(ctx, cobDate, taskFilter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, datatypes.ErrorCode(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("tables.total", report.TotalTables),
		attribute.Int("tables.completed", report.TablesCompleted),
		attribute.Int("tables.running", report.TablesRunning),
		attribute.Bool("cluster.overloaded", report.ClusterHealth.Overloaded),
	)
	return report, nil
}

func (e *Engine) getProcessStatus(ctx context.Context, cobDate, taskFilter string) (*StatusReport, error) {
	cat, err := e.catalogs.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	date, err := datatypes.ParseCOBDate(cobDate)
	if err != nil {
		return nil, err
	}

	tables := cat.Tables
	if taskFilter != "" {
		spec, ok := cat.Lookup(taskFilter)
		if !ok {
			return nil, datatypes.Malformed("Table not found: %s", taskFilter)
		}
		tables = []catalog.TableSpec{spec}
	}
	ids := make([]string, len(tables))
	selected := make(map[string]catalog.TableSpec, len(tables))
	for i, t := range tables {
		ids[i] = t.Identifier
		selected[t.Identifier] = t
	}

	params := catalog.QueryParams{
		COBDate:      date.Format("02-Jan-2006"),
		Identifiers:  ids,
		HistoryStart: date.AddDate(0, 0, -e.opts.HistoryDays).Format("02-Jan-2006"),
	}

	statusQuery, err := cat.StatusQuery(params)
	if err != nil {
		return nil, fmt.Errorf("render status query: %w", err)
	}
	statusRows, err := e.status.Query(ctx, statusQuery)
	if err != nil {
		if !errors.Is(err, datatypes.ErrUpstream) {
			err = datatypes.Upstream("status query failed", err)
		}
		return nil, err
	}

	now := e.opts.Now().In(e.opts.Location)
	report := &StatusReport{
		Success:      true,
		COBDate:      cobDate,
		ProcessName:  cat.ProcessName,
		ProcessAlias: cat.ProcessAlias,
		TotalTables:  len(tables),
		GeneratedAt:  now.Format(timestampLayout),
	}

	samples := e.loadHistory(ctx, cat, params, report)
	report.ClusterHealth = clustermetrics.Probe(ctx, e.metrics, e.opts.MetricsTimeout, e.logger)

	byID := e.classify(statusRows, selected, samples, report.ClusterHealth.Overloaded, now)

	if len(statusRows) == 0 {
		report.Message = "No results found for the specified parameters"
	}

	for _, t := range tables {
		if _, ok := byID[t.Identifier]; ok {
			continue
		}
		pending := TableStatus{
			Identifier: t.Identifier,
			Name:       t.Name,
			Status:     StatusPending,
			order:      cat.Order(t.Identifier),
		}
		if durations := minutesOf(samples[t.Identifier]); len(durations) > 0 {
			lo, hi := minMax(durations)
			pending.History = &HistoryStats{
				Samples: len(durations),
				Average: round1(mean(durations)),
				Median:  round1(median(durations)),
				Min:     round1(lo),
				Max:     round1(hi),
			}
		}
		byID[t.Identifier] = &pending
	}

	report.Tables = make([]TableStatus, 0, len(byID))
	for _, ts := range byID {
		switch ts.Status {
		case StatusCompleted:
			report.TablesCompleted++
		case StatusRunning:
			report.TablesRunning++
		}
		report.Tables = append(report.Tables, *ts)
	}
	sort.Slice(report.Tables, func(i, j int) bool {
		a, b := report.Tables[i], report.Tables[j]
		if a.order != b.order {
			return a.order < b.order
		}
		return a.Identifier < b.Identifier
	})

	report.TablesPending = report.TotalTables - report.TablesCompleted - report.TablesRunning
	if report.TotalTables > 0 {
		report.CompletionPercentage = int(math.Round(float64(report.TablesCompleted) / float64(report.TotalTables) * 100))
	}
	report.HistoricalRuntime = runtimeStats(samples)

	e.logger.Info("process status built",
		slog.String("cob_date", cobDate),
		slog.Int("completed", report.TablesCompleted),
		slog.Int("running", report.TablesRunning),
		slog.Int("pending", report.TablesPending),
	)
	return report, nil
}

// classify turns status rows into table statuses keyed by identifier.
// Rows for identifiers outside the selection are skipped; the last row for
// an identifier wins.
func (e *Engine) classify(rows []datatypes.Row, selected map[string]catalog.TableSpec,
	samples map[string][]Sample, overloaded bool, now time.Time) map[string]*TableStatus {

	loc := e.opts.Location
	out := make(map[string]*TableStatus, len(selected))
	for _, row := range rows {
		id := row.String(colIdentifier)
		spec, ok := selected[id]
		if !ok {
			continue
		}
		start, hasStart := row.Time(colStart, loc)
		end, hasEnd := row.Time(colEnd, loc)

		ts := &TableStatus{
			Identifier:  id,
			Name:        spec.Name,
			Status:      NormalizeStatus(row.String(colStatus), hasEnd),
			ProcessName: row.String(colProcessName),
			order:       spec.Order,
		}
		if hasStart {
			s := start.In(loc).Format(timestampLayout)
			ts.StartTime = &s
		}
		if hasEnd {
			s := end.In(loc).Format(timestampLayout)
			ts.EndTime = &s
		}

		switch ts.Status {
		case StatusCompleted:
			if hasStart && hasEnd {
				mins := int(math.Round(end.Sub(start).Minutes()))
				ts.DurationMinutes = &mins
			}
		case StatusRunning:
			if !hasStart {
				start = now
			}
			p := e.Predict(samples[id], start, now, overloaded, spec.LongRunning)
			ts.Prediction = &p
		}
		out[id] = ts
	}
	return out
}

// loadHistory runs the history query. Failures are recorded on the report.
func (e *Engine) loadHistory(ctx context.Context, cat *catalog.Catalog, params catalog.QueryParams, report *StatusReport) map[string][]Sample {
	samples := map[string][]Sample{}
	if e.history == nil || !cat.HasHistoryQuery() {
		report.HistoryError = "history source not configured"
		return samples
	}

	query, err := cat.HistoryQuery(params)
	if err != nil {
		report.HistoryError = err.Error()
		return samples
	}
	rows, err := e.history.Query(ctx, query)
	if err != nil {
		msg := llm.SafeLogString(err.Error())
		e.logger.Warn("history unavailable, predictions fall back to defaults", slog.String("error", msg))
		report.HistoryError = msg
		return samples
	}

	loc := e.opts.Location
	for _, row := range rows {
		start, ok1 := row.Time(colStart, loc)
		end, ok2 := row.Time(colEnd, loc)
		if !ok1 || !ok2 || !end.After(start) {
			continue
		}
		id := row.String(colIdentifier)
		day := ""
		if v, ok := row.Get(colCOBDate); ok {
			day = datatypes.NormalizeDate(v)
		}
		if day == "" {
			day = start.In(loc).Format(time.DateOnly)
		}
		samples[id] = append(samples[id], Sample{
			Identifier: id,
			Day:        day,
			Start:      start.In(loc),
			Minutes:    end.Sub(start).Minutes(),
		})
	}
	report.HistoryAvailable = true
	return samples
}

// Predict forecasts a running task.
//
// Description:
//
//	Samples whose start hour is within HourWindow (circular) of start and
//	whose weekend flag matches are preferred; with fewer than
//	MinMatchedSamples matches every sample is used. The point forecast is
//	the sample median plus the overload penalty. The bound is the sample
//	interquartile range, penalty-shifted and clipped to ±BoundFraction of
//	the forecast. With no samples the forecast is DefaultMinutes ±
//	DefaultBandMinutes.
//
// Inputs:
//
//	samples - Historical runs of this task.
//	start - When the current run started.
//	now - The current time.
//	overloaded - Whether the cluster is overloaded.
//	longRunning - Whether the task takes the larger penalty.
//
// Outputs:
//
//	Prediction - Never fails.
func (e *Engine) Predict(samples []Sample, start, now time.Time, overloaded, longRunning bool) Prediction {
	o := e.opts
	start = start.In(o.Location)

	penalty := 0.0
	if overloaded {
		penalty = o.PenaltyMinutes
		if longRunning {
			penalty = o.LongRunningPenaltyMinutes
		}
	}

	elapsed := math.Max(0, now.Sub(start).Minutes())
	p := Prediction{
		ElapsedMinutes:     round1(elapsed),
		LoadPenaltyMinutes: penalty,
	}

	var predicted, lower, upper float64
	if len(samples) == 0 {
		// The no-history default is fixed; load does not shift it.
		p.LoadPenaltyMinutes = 0
		predicted = o.DefaultMinutes
		lower = predicted - o.DefaultBandMinutes
		upper = predicted + o.DefaultBandMinutes
		p.Basis = BasisDefault
	} else {
		weekend := isWeekend(start)
		var matched []float64
		for _, s := range samples {
			if hourDistance(s.Start.In(o.Location).Hour(), start.Hour()) <= o.HourWindow &&
				isWeekend(s.Start.In(o.Location)) == weekend {
				matched = append(matched, s.Minutes)
			}
		}
		p.Basis = BasisMatched
		if len(matched) < o.MinMatchedSamples {
			matched = minutesOf(samples)
			p.Basis = BasisAll
		}
		predicted = median(matched) + penalty
		lower = clamp(quantile(matched, 0.25)+penalty, predicted*(1-o.BoundFraction), predicted)
		upper = clamp(quantile(matched, 0.75)+penalty, predicted, predicted*(1+o.BoundFraction))
		p.Confidence = len(matched)
	}

	remaining := math.Max(0, predicted-elapsed)
	p.PredictedDurationMinutes = round1(predicted)
	p.LowerBoundMinutes = round1(lower)
	p.UpperBoundMinutes = round1(upper)
	p.RemainingMinutes = round1(remaining)
	p.Range = fmt.Sprintf("%d-%d mins", int(math.Round(lower)), int(math.Round(upper)))
	p.EstimatedCompletion = now.In(o.Location).
		Add(time.Duration(remaining * float64(time.Minute))).
		Format(timestampLayout)
	return p
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func minutesOf(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Minutes
	}
	return out
}

// runtimeStats sums each historical day's task durations and summarizes
// the per-day totals. Nil when there is no history.
func runtimeStats(samples map[string][]Sample) *RuntimeStats {
	perDay := map[string]float64{}
	for _, list := range samples {
		for _, s := range list {
			perDay[s.Day] += s.Minutes
		}
	}
	if len(perDay) == 0 {
		return nil
	}
	totals := make([]float64, 0, len(perDay))
	for _, v := range perDay {
		totals = append(totals, v)
	}
	lo, hi := minMax(totals)
	return &RuntimeStats{
		Days:   len(totals),
		Mean:   round1(mean(totals)),
		Median: round1(median(totals)),
		Min:    round1(lo),
		Max:    round1(hi),
	}
}
