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
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/lrot/services/config"
	"github.com/AleutianAI/lrot/services/secrets"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func post(t *testing.T, h http.Handler, path, body string) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var env struct {
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Result
}

func TestBuildApp_NoDatabase(t *testing.T) {
	cfg := config.Default()
	a, err := buildApp(context.Background(), cfg, secrets.NewManager(secrets.EnvBackend{}, 0), false, slog.Default())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"time_remaining"}, a.registered)

	res := post(t, a.engine, "/v1/functions/get_6g_status", `{"cob_date":"2025-04-03"}`)
	assert.Equal(t, "FUNCTION_NOT_FOUND", res["code"])

	res = post(t, a.engine, "/v1/functions/time_remaining", ``)
	assert.Contains(t, res, "hours_remaining")
}

func TestBuildApp_SQLiteWithCache(t *testing.T) {
	t.Setenv(secrets.DatabasePassword, "unused")
	t.Setenv(secrets.AdjustmentsSID, "S-1-5-21")

	doc := `
database:
  driver: sqlite
  dsn: "` + filepath.Join(t.TempDir(), "warehouse.db") + `"
cache:
  enabled: true
adjustments:
  enabled: true
  token_url: http://127.0.0.1:1/ida/getTokens
  callback_url: http://127.0.0.1:1/api/v2/adjustments/dmatcallback
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg, secrets.NewManager(secrets.EnvBackend{}, 0), false, slog.Default())
	require.NoError(t, err)
	defer a.Close()

	assert.ElementsMatch(t,
		[]string{"get_6g_status", "sls_details_variance", "sync_adjustments", "time_remaining"},
		a.registered)

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The warehouse has no tables, so the status query fails upstream.
	res := post(t, a.engine, "/v1/functions/get_6g_status", `{"cob_date":"2025-04-03"}`)
	assert.Equal(t, "UPSTREAM_FAILURE", res["code"])

	res = post(t, a.engine, "/v1/functions/get_6g_status", `{"cob_date":"April third"}`)
	assert.Equal(t, "MALFORMED_INPUT", res["code"])
}

func TestBuildApp_BadCatalogPath(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "w.db")
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := buildApp(context.Background(), cfg, secrets.NewManager(secrets.EnvBackend{}, 0), false, slog.Default())
	assert.Error(t, err)
}
