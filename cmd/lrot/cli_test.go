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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/lrot/services/adjustments"
	"github.com/AleutianAI/lrot/services/assistant"
	"github.com/AleutianAI/lrot/services/clustermetrics"
	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/dispatch"
	"github.com/AleutianAI/lrot/services/eod"
	"github.com/AleutianAI/lrot/services/functions"
	"github.com/AleutianAI/lrot/services/prediction"
	"github.com/AleutianAI/lrot/services/variance"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct{}

func (fakeStatus) GetProcessStatus(_ context.Context, cobDate, _ string) (*prediction.StatusReport, error) {
	if _, err := datatypes.ParseISODate("cob_date", cobDate); err != nil {
		return nil, err
	}
	dur := 20
	start := "2025-04-03 09:00:00"
	return &prediction.StatusReport{
		Success: true, COBDate: cobDate, ProcessName: "FR2052a", ProcessAlias: "6G",
		TotalTables: 2, TablesCompleted: 1, TablesRunning: 1, CompletionPercentage: 50,
		Tables: []prediction.TableStatus{
			{Identifier: "7001", Name: "Inflow Assets", Status: prediction.StatusCompleted, StartTime: &start, DurationMinutes: &dur},
			{Identifier: "7002", Name: "Outflow Retail", Status: prediction.StatusRunning, StartTime: &start,
				Prediction: &prediction.Prediction{RemainingMinutes: 12, Range: "20-40 mins", EstimatedCompletion: "2025-04-03 10:12:00"}},
		},
		ClusterHealth: clustermetrics.Health{Available: true, MemoryUtilization: 95, CPUUtilization: 40, Overloaded: true},
	}, nil
}

type fakeVariance struct{}

func (fakeVariance) Investigate(_ context.Context, date1, date2, _ string) (*variance.Investigation, error) {
	return &variance.Investigation{
		Success: true, Date1: date1, Date2: date2,
		Reporting: &variance.Report{
			Table:   "reporting",
			Message: "Variance found in 1 SLS line(s).",
			VarianceData: []variance.Record{{
				Line: "I.A.1", Group: "FX", AmountDate1: 100, AmountDate2: 150,
				PercentageVariance: 50, ExceedsThreshold: true,
			}},
		},
	}, nil
}

type fakeClock struct{}

func (fakeClock) Remaining() eod.Remaining {
	return eod.Remaining{HoursRemaining: 3, MinutesRemaining: 15, EODTime: "2025-04-03 17:00:00 EDT", Message: "Have a nice day!"}
}

type fakeSyncer struct{}

func (fakeSyncer) Sync(_ context.Context, typ, ids string) (*adjustments.Result, error) {
	parsed, err := adjustments.ParseDMATIDs(ids)
	if err != nil {
		return nil, err
	}
	return &adjustments.Result{Success: true, DMATIDs: parsed, AdjustmentType: typ,
		Message: "Sync successfully performed for " + typ + " adjustments on DMAT IDs: " + ids}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := dispatch.NewRegistry()
	functions.RegisterAll(reg, functions.Deps{
		Status: fakeStatus{}, Variance: fakeVariance{}, Clock: fakeClock{}, Adjustments: fakeSyncer{},
	})
	engine := assistant.NewEngine(assistant.NewHandlers(dispatch.NewRouter(reg), nil, nil), assistant.EngineOptions{})
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Commands(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name         string
		args         []string
		wantErr      bool
		wantContains []string
	}{
		{"functions", []string{"functions"}, false,
			[]string{"get_6g_status", "sls_details_variance", "sync_adjustments", "time_remaining", "required: cob_date"}},
		{"status", []string{"status", "--date", "2025-04-03"}, false,
			[]string{"FR2052a (6G)", "Progress: 50%", "took 20 mins", "20-40 mins", "Cluster overloaded"}},
		{"status bad date", []string{"status", "--date", "03/04/2025"}, true,
			[]string{"MALFORMED_INPUT"}},
		{"status json", []string{"--json", "status", "--date", "2025-04-03"}, false,
			[]string{`"completion_percentage": 50`}},
		{"variance", []string{"variance", "--date1", "2025-04-02", "--date2", "2025-04-03"}, false,
			[]string{"I.A.1", "+50.00%"}},
		{"variance missing flag", []string{"variance", "--date1", "2025-04-02"}, true,
			[]string{"date2"}},
		{"remaining", []string{"remaining"}, false,
			[]string{"3h 15m", "Have a nice day!"}},
		{"sync", []string{"sync", "--type", "MSDU", "--ids", "101,102"}, false,
			[]string{"Sync successfully performed for MSDU adjustments on DMAT IDs: 101,102"}},
		{"sync bad ids", []string{"sync", "--ids", "10a"}, true,
			[]string{"Invalid DMAT ID: 10a"}},
		{"call prints envelope", []string{"call", "time_remaining"}, false,
			[]string{`"name": "time_remaining"`, `"hours_remaining": 3`}},
		{"call unknown", []string{"call", "s3_list", "--args", `{"bucket":"x"}`}, true,
			[]string{"FUNCTION_NOT_FOUND"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, srv, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
				out += err.Error()
			} else {
				require.NoError(t, err, out)
			}
			for _, want := range tt.wantContains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCLI_ServerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--server", url, "remaining"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "lrot-server unavailable"), err.Error())
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "+12.50%", formatPercent(12.5))
	assert.Equal(t, "-3.00%", formatPercent(-3))
}
