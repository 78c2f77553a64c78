// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package variance

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	d1 = "2025-04-01"
	d2 = "2025-04-02"
)

var testDef = TableDef{
	Name:             "reporting",
	LineColumn:       "sls_line_number",
	GroupColumn:      "context_name",
	DateColumn:       "cob_date",
	ContextKeyColumn: "context_key",
	Measures:         []string{"ccf_flow_amt"},
	PrimaryMeasure:   "ccf_flow_amt",
}

func row(line, group, date string, amount any) datatypes.Row {
	return datatypes.Row{
		"sls_line_number": line,
		"context_name":    group,
		"cob_date":        date,
		"context_key":     "ck-" + date,
		"ccf_flow_amt":    amount,
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name   string
		a1, a2 float64
		want   float64
	}{
		{"increase", 100, 115, 15},
		{"decrease", 100, 95, -5},
		{"negative base", -200, -100, 50},
		{"both zero", 0, 0, 0},
		{"from zero", 0, 10, math.Inf(1)},
		{"from zero negative", 0, -10, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := float64(PercentChange(tt.a1, tt.a2))
			if math.IsInf(tt.want, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("PercentChange(%v, %v) = %v, want +Inf", tt.a1, tt.a2, got)
				}
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PercentChange(%v, %v) = %v, want %v", tt.a1, tt.a2, got, tt.want)
			}
		})
	}
}

func TestCompare_Threshold(t *testing.T) {
	tests := []struct {
		name        string
		amount2     float64
		significant bool
	}{
		{"15 percent flagged", 115, true},
		{"5 percent not flagged", 105, false},
		{"exactly 10 percent flagged", 110, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := []datatypes.Row{row("A", "CTX", d1, 100.0), row("A", "CTX", d2, tt.amount2)}

			report, err := Compare(testDef, rows, d1, d2, 10)
			require.NoError(t, err)

			if !tt.significant {
				assert.Empty(t, report.VarianceData)
				assert.Empty(t, report.LinesWithVariance)
				return
			}
			require.Len(t, report.VarianceData, 1)
			rec := report.VarianceData[0]
			assert.Equal(t, "A|CTX", rec.PairID)
			assert.InDelta(t, tt.amount2-100, rec.AbsoluteVariance, 1e-9)
			assert.InDelta(t, tt.amount2-100, float64(rec.PercentageVariance), 1e-9)
			assert.True(t, rec.ExceedsThreshold)
			assert.Equal(t, []string{"A"}, report.LinesWithVariance)
		})
	}
}

func TestCompare_MissingPair(t *testing.T) {
	rows := []datatypes.Row{
		row("A", "CTX", d1, 100.0),
		row("A", "CTX", d2, 100.0),
		row("B", "CTX", d2, 50.0),
	}

	report, err := Compare(testDef, rows, d1, d2, 10)
	require.NoError(t, err)

	require.Len(t, report.MissingPairs, 1)
	mp := report.MissingPairs[0]
	assert.Equal(t, "B", mp.Line)
	assert.Equal(t, d1, mp.MissingFrom)
	assert.Equal(t, d2, mp.PresentIn)
	require.NotNil(t, mp.Amount)
	assert.Equal(t, 50.0, *mp.Amount)
	assert.Equal(t, "ck-"+d2, mp.ContextKey)
	assert.Empty(t, report.VarianceData, "missing pair must not produce a record")
	assert.Equal(t, []string{"A", "B"}, report.LinesAnalyzed)
}

func TestCompare_ZeroBase(t *testing.T) {
	rows := []datatypes.Row{
		row("Z", "CTX", d1, 0.0), row("Z", "CTX", d2, 0.0),
		row("I", "CTX", d1, 0.0), row("I", "CTX", d2, 10.0),
	}

	report, err := Compare(testDef, rows, d1, d2, 10)
	require.NoError(t, err)

	require.Len(t, report.VarianceData, 1)
	assert.Equal(t, "I", report.VarianceData[0].Line)
	assert.True(t, report.VarianceData[0].PercentageVariance.IsInf())
	assert.Equal(t, []string{"I"}, report.LinesWithVariance)

	data, err := json.Marshal(report)
	require.NoError(t, err, "infinite percentages must still serialize")
	assert.Contains(t, string(data), `"percentage_variance":"Infinity"`)
}

func TestCompare_SortedByMagnitude(t *testing.T) {
	rows := []datatypes.Row{
		row("S", "CTX", d1, 100.0), row("S", "CTX", d2, 120.0),
		row("L", "CTX", d1, 100.0), row("L", "CTX", d2, 10.0),
		row("I", "CTX", d1, 0.0), row("I", "CTX", d2, 1.0),
		row("M", "CTX", d1, 100.0), row("M", "CTX", d2, 150.0),
	}

	report, err := Compare(testDef, rows, d1, d2, 10)
	require.NoError(t, err)

	var got []string
	for _, r := range report.VarianceData {
		got = append(got, r.Line)
	}
	if diff := cmp.Diff([]string{"I", "L", "M", "S"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_NullMeasureSkipped(t *testing.T) {
	def := testDef
	def.Measures = []string{"ccf_flow_amt", "xml_market_value_usd"}
	r1 := row("A", "CTX", d1, 100.0)
	r1["xml_market_value_usd"] = nil
	r2 := row("A", "CTX", d2, 200.0)
	r2["xml_market_value_usd"] = 5.0

	report, err := Compare(def, []datatypes.Row{r1, r2}, d1, d2, 10)
	require.NoError(t, err)

	require.Len(t, report.VarianceData, 1)
	assert.Equal(t, "ccf_flow_amt", report.VarianceData[0].Measure)
}

func TestCompare_MissingDates(t *testing.T) {
	rows := []datatypes.Row{row("A", "CTX", d1, 100.0)}

	report, err := Compare(testDef, rows, d1, d2, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{d2}, report.MissingDates)
	assert.Equal(t, "Missing data for dates: "+d2, report.Message)
	assert.Empty(t, report.VarianceData)
	assert.Empty(t, report.MissingPairs)

	report, err = Compare(testDef, nil, d1, d2, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{d1, d2}, report.MissingDates)
}

func TestCompare_DuplicateRowIsDataError(t *testing.T) {
	rows := []datatypes.Row{
		row("A", "CTX", d1, 100.0),
		row("A", "CTX", d1, 5.0),
		row("A", "CTX", d2, 100.0),
	}

	_, err := Compare(testDef, rows, d1, d2, 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrDataIntegrity))
}

func TestCompare_TimestampDatesAndNullGroups(t *testing.T) {
	r1 := row("A", "CTX", "2025-04-01 00:00:00", 100.0)
	r2 := row("A", "CTX", "2025-04-02T00:00:00Z", 130.0)
	orphan := row("B", "CTX", d1, 1.0)
	orphan["context_name"] = nil

	report, err := Compare(testDef, []datatypes.Row{r1, r2, orphan}, d1, d2, 10)
	require.NoError(t, err)

	assert.Len(t, report.VarianceData, 1)
	assert.Equal(t, 1, report.SkippedRows)
}

// =============================================================================
// Engine
// =============================================================================

// tableSource routes queries to canned rows by the table each query reads.
type tableSource struct {
	rows    map[string][]datatypes.Row
	queries []string
	fail    error
}

func (s *tableSource) Query(_ context.Context, query string, _ ...any) ([]datatypes.Row, error) {
	s.queries = append(s.queries, query)
	if s.fail != nil {
		return nil, s.fail
	}
	for marker, rows := range s.rows {
		if strings.Contains(query, marker) {
			return rows, nil
		}
	}
	return nil, nil
}

func newTestEngine(t *testing.T, src datasource.Source) *Engine {
	t.Helper()
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	e, err := NewEngine(src, cfg, nil)
	require.NoError(t, err)
	return e
}

func detailRow(line, date string, amount float64) datatypes.Row {
	return datatypes.Row{
		"lri_position_str_sls_line_no": line,
		"context_name":                 "CTX",
		"cob_date":                     date,
		"lri_position_str_cob_date":    date,
		"context_key":                  "ck",
		"ccf_flow_amt":                 amount,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholdPct, cfg.ThresholdPct)
	for _, name := range []string{TableReporting, TableBaseData, TableSLSDetails} {
		_, ok := cfg.Table(name)
		assert.True(t, ok, "missing table %s", name)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no tables", "threshold_pct: 5"},
		{"missing columns", "tables: [{name: x, query: 'SELECT 1', measures: [a]}]"},
		{"primary not a measure", "tables: [{name: x, query: 'SELECT 1', line_column: l, group_column: g, date_column: d, measures: [a], primary_measure: b}]"},
		{"bad template", "tables: [{name: x, query: 'SELECT {{', line_column: l, group_column: g, date_column: d, measures: [a]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestInvestigate_NoVarianceReturnsEarly(t *testing.T) {
	src := &tableSource{rows: map[string][]datatypes.Row{
		"us_reg_2052a_reporting": {row("A", "CTX", d1, 100.0), row("A", "CTX", d2, 101.0)},
	}}
	e := newTestEngine(t, src)

	inv, err := e.Investigate(context.Background(), d1, d2, "OS-09, OS-10")
	require.NoError(t, err)

	assert.Equal(t, "No significant variance found in the reporting table.", inv.Message)
	assert.Nil(t, inv.BaseData)
	assert.Nil(t, inv.SLSDetails)
	assert.Equal(t, []string{"OS-09", "OS-10"}, inv.ProductIdentifiers)
	require.Len(t, src.queries, 1)
	assert.Contains(t, src.queries[0], "'OS-09', 'OS-10'")
}

func TestInvestigate_DrillDown(t *testing.T) {
	src := &tableSource{rows: map[string][]datatypes.Row{
		"us_reg_2052a_reporting": {row("A", "CTX", d1, 100.0), row("A", "CTX", d2, 150.0)},
		"us_reg_base_data":       {detailRow("A", d1, 10), detailRow("A", d2, 20)},
		"sls_details_prdl":       {detailRow("A", d1, 10), detailRow("A", d2, 10)},
	}}
	e := newTestEngine(t, src)

	inv, err := e.Investigate(context.Background(), d1, d2, "")
	require.NoError(t, err)

	require.NotNil(t, inv.BaseData)
	require.NotNil(t, inv.SLSDetails)
	assert.Len(t, inv.BaseData.VarianceData, 1)
	assert.Empty(t, inv.SLSDetails.VarianceData)
	require.Len(t, src.queries, 3)
	assert.NotContains(t, src.queries[0], "product_identifier IN")
	assert.Contains(t, src.queries[1], "IN ('A')")
	assert.Contains(t, src.queries[2], "IN ('A')")
}

func TestAnalyze_Errors(t *testing.T) {
	upstream := datatypes.Upstream("reporting query failed", errors.New("impala down"))
	e := newTestEngine(t, &tableSource{fail: upstream})
	ctx := context.Background()

	_, err := e.Analyze(ctx, TableReporting, "04/01/2025", d2, Scope{})
	assert.ErrorIs(t, err, datatypes.ErrMalformedInput)

	_, err = e.Analyze(ctx, "nope", d1, d2, Scope{})
	assert.ErrorIs(t, err, datatypes.ErrMalformedInput)

	_, err = e.Analyze(ctx, TableReporting, d1, d2, Scope{})
	assert.ErrorIs(t, err, datatypes.ErrUpstream)
}

func TestAnalyze_PlainSourceErrorIsUpstream(t *testing.T) {
	src := datasource.SourceFunc(func(context.Context, string, ...any) ([]datatypes.Row, error) {
		return nil, errors.New("connection reset by peer")
	})
	e := newTestEngine(t, src)

	_, err := e.Analyze(context.Background(), TableReporting, d1, d2, Scope{})
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrUpstream)
	assert.Equal(t, "UPSTREAM_FAILURE", datatypes.ErrorCode(err))
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestPercent_JSONRoundTrip(t *testing.T) {
	for _, p := range []Percent{12.5, Percent(math.Inf(1)), Percent(math.Inf(-1))} {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		var back Percent
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, float64(p), float64(back))
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"OS-09", "OS-10"}, SplitList(" OS-09 ,, OS-10 "))
	assert.Equal(t, []string{}, SplitList(""))
}
