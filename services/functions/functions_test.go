// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package functions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/AleutianAI/lrot/services/adjustments"
	"github.com/AleutianAI/lrot/services/catalog"
	"github.com/AleutianAI/lrot/services/datasource"
	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/dispatch"
	"github.com/AleutianAI/lrot/services/eod"
	"github.com/AleutianAI/lrot/services/prediction"
	"github.com/AleutianAI/lrot/services/variance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTasks = `
process_name: Test Process
process_alias: TP
tables:
  - {id: 1, bpf_id: "A", name: "Task A"}
  - {id: 2, bpf_id: "B", name: "Task B"}
query_templates:
  status: "SELECT * FROM runs WHERE d = {{quote .COBDate}}"
`

type fakeVariance struct {
	gotProducts string
}

func (f *fakeVariance) Investigate(_ context.Context, date1, date2, products string) (*variance.Investigation, error) {
	f.gotProducts = products
	if _, err := datatypes.ParseISODate("date1", date1); err != nil {
		return nil, err
	}
	return &variance.Investigation{Success: true, Date1: date1, Date2: date2,
		Message: "No significant variance found in the reporting table."}, nil
}

type fakeSyncer struct{}

func (fakeSyncer) Sync(_ context.Context, typ, ids string) (*adjustments.Result, error) {
	parsed, err := adjustments.ParseDMATIDs(ids)
	if err != nil {
		return nil, err
	}
	return &adjustments.Result{Success: true, DMATIDs: parsed, AdjustmentType: typ}, nil
}

func newRouter(t *testing.T) (*dispatch.Router, *fakeVariance) {
	t.Helper()
	cat, err := catalog.Load(context.Background(), []byte(twoTasks))
	require.NoError(t, err)

	status := datasource.SourceFunc(func(context.Context, string, ...any) ([]datatypes.Row, error) {
		return []datatypes.Row{{
			"BPF_ID": "A", "STATUS": "COMPLETED",
			"START_TIME": "2025-04-03 09:00:00", "END_TIME": "2025-04-03 09:20:00",
		}}, nil
	})
	now := func() time.Time { return time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC) }
	engine, err := prediction.NewEngine(prediction.Config{
		Catalog: catalog.NewStatic(cat),
		Status:  status,
		Options: prediction.Options{Location: time.UTC, Now: now},
	})
	require.NoError(t, err)

	clock, err := eod.NewClock("UTC", eod.DefaultHour, now)
	require.NoError(t, err)

	fv := &fakeVariance{}
	reg := dispatch.NewRegistry()
	names := RegisterAll(reg, Deps{Status: engine, Variance: fv, Clock: clock, Adjustments: fakeSyncer{}})
	require.Len(t, names, 4)
	return dispatch.NewRouter(reg), fv
}

func resultJSON(t *testing.T, env dispatch.CallEnvelope) map[string]any {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	var out struct {
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	return out.Result
}

func TestProcessStatus_EndToEnd(t *testing.T) {
	router, _ := newRouter(t)

	env := router.Dispatch(context.Background(), NameProcessStatus, `{"cob_date":"04-03-2025"}`)
	require.False(t, env.Failed(), "envelope: %+v", env.Result)

	res := resultJSON(t, env)
	assert.EqualValues(t, 1, res["tables_completed"])
	assert.EqualValues(t, 1, res["tables_pending"])
	assert.EqualValues(t, 0, res["tables_running"])
	assert.EqualValues(t, 50, res["completion_percentage"])

	tables := res["tables"].([]any)
	require.Len(t, tables, 2)
	assert.EqualValues(t, 20, tables[0].(map[string]any)["duration_minutes"])
	assert.Equal(t, "PENDING", tables[1].(map[string]any)["status"])
}

func TestDispatch_ArgumentErrors(t *testing.T) {
	router, _ := newRouter(t)
	tests := []struct {
		name, fn, args, code string
	}{
		{"missing cob_date", NameProcessStatus, `{}`, "MALFORMED_INPUT"},
		{"bad cob_date", NameProcessStatus, `{"cob_date":"2025/13/45"}`, "MALFORMED_INPUT"},
		{"unknown table", NameProcessStatus, `{"cob_date":"04-03-2025","table_name":"nope"}`, "MALFORMED_INPUT"},
		{"variance missing date2", NameVariance, `{"date1":"2025-04-01"}`, "MALFORMED_INPUT"},
		{"variance bad date", NameVariance, `{"date1":"04-01-2025","date2":"2025-04-02"}`, "MALFORMED_INPUT"},
		{"non numeric dmat id", NameSyncAdjustments, `{"adjustment_type":"MDU","dmat_ids":"x1"}`, "MALFORMED_INPUT"},
		{"unexpected argument", NameTimeRemaining, `{"tz":"UTC"}`, "MALFORMED_INPUT"},
		{"not json", NameTimeRemaining, `{oops`, "MALFORMED_INPUT"},
		{"unknown function", "s3_list", `{}`, "FUNCTION_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := router.Dispatch(context.Background(), tt.fn, tt.args)
			require.True(t, env.Failed())
			assert.Equal(t, tt.code, env.Result.(dispatch.ErrorResult).Code)
		})
	}
}

func TestVariance_PassesProducts(t *testing.T) {
	router, fv := newRouter(t)
	env := router.Dispatch(context.Background(), NameVariance,
		map[string]any{"date1": "2025-04-01", "date2": "2025-04-02", "product_identifiers": "OS-09,OS-10"})
	require.False(t, env.Failed())
	assert.Equal(t, "OS-09,OS-10", fv.gotProducts)
}

func TestTimeRemaining(t *testing.T) {
	router, _ := newRouter(t)
	env := router.Dispatch(context.Background(), NameTimeRemaining, nil)
	require.False(t, env.Failed())
	res := resultJSON(t, env)
	assert.EqualValues(t, 5, res["hours_remaining"])
	assert.EqualValues(t, 0, res["minutes_remaining"])
}

func TestRegisterAll_SkipsMissingDeps(t *testing.T) {
	reg := dispatch.NewRegistry()
	names := RegisterAll(reg, Deps{Clock: mustClock(t)})
	assert.Equal(t, []string{NameTimeRemaining}, names)

	env := dispatch.NewRouter(reg).Dispatch(context.Background(), NameProcessStatus, `{"cob_date":"04-03-2025"}`)
	require.True(t, env.Failed())
	assert.Equal(t, "FUNCTION_NOT_FOUND", env.Result.(dispatch.ErrorResult).Code)
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 4)
	byName := map[string][]string{}
	for _, d := range defs {
		assert.Equal(t, "function", d.Type)
		assert.Equal(t, "object", d.Function.Parameters.Type)
		byName[d.Function.Name] = d.Function.Parameters.Required
	}
	assert.Equal(t, []string{"cob_date"}, byName[NameProcessStatus])
	assert.Equal(t, []string{"date1", "date2"}, byName[NameVariance])
	assert.Equal(t, []string{"adjustment_type", "dmat_ids"}, byName[NameSyncAdjustments])
	assert.Empty(t, byName[NameTimeRemaining])

	reg := dispatch.NewRegistry()
	RegisterAll(reg, Deps{Clock: mustClock(t), Adjustments: fakeSyncer{}})
	listed := reg.Definitions()
	require.Len(t, listed, 2)
	assert.Equal(t, NameSyncAdjustments, listed[0].Function.Name)
	assert.Equal(t, NameTimeRemaining, listed[1].Function.Name)
}

func mustClock(t *testing.T) *eod.Clock {
	t.Helper()
	c, err := eod.NewClock("UTC", eod.DefaultHour, nil)
	require.NoError(t, err)
	return c
}
