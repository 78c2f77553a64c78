// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if c.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", c.Server.Addr)
	}
	if c.Prediction.HistoryDays != 30 {
		t.Errorf("HistoryDays = %d, want 30", c.Prediction.HistoryDays)
	}
	if c.ClusterMetrics.Backend != MetricsNone {
		t.Errorf("Backend = %q, want none", c.ClusterMetrics.Backend)
	}
	if c.ClusterMetrics.Timeout != 10*time.Second {
		t.Errorf("metrics Timeout = %v, want 10s", c.ClusterMetrics.Timeout)
	}
	if c.EOD.Hour != 17 || c.EOD.Timezone != "America/New_York" {
		t.Errorf("EOD = %+v", c.EOD)
	}
	if c.Database.Configured() {
		t.Error("database should not be configured by default")
	}
}

func TestParse(t *testing.T) {
	doc := `
server:
  addr: ":9090"
  rate_per_second: 2
  rate_burst: 4
database:
  driver: sqlite
  dsn: "file:lrot.db?_pwd={password}"
cache:
  enabled: true
  ttl: 1h
cluster_metrics:
  backend: yarn
  yarn_url: http://rm:8088
  timeout: 3s
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Server.Addr != ":9090" || c.Server.RatePerSecond != 2 || c.Server.RateBurst != 4 {
		t.Errorf("Server = %+v", c.Server)
	}
	if c.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want 1h", c.Cache.TTL)
	}
	if c.ClusterMetrics.Timeout != 3*time.Second {
		t.Errorf("metrics Timeout = %v, want 3s", c.ClusterMetrics.Timeout)
	}
	if got := c.Database.ResolveDSN("pw"); got != "file:lrot.db?_pwd=pw" {
		t.Errorf("ResolveDSN = %q", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{"bad backend", "cluster_metrics: {backend: prometheus}", "Backend"},
		{"yarn without url", "cluster_metrics: {backend: yarn}", "YARNURL"},
		{"dsn without driver", "database: {dsn: x}", "Driver"},
		{"adjustments without urls", "adjustments: {enabled: true}", "TokenURL"},
		{"eod hour", "eod: {hour: 25}", "Hour"},
		{"bad timezone", "prediction: {timezone: Mars/Base}", "timezone"},
		{"not yaml", "server: [", "parsing YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lrot.yaml")
	if err := os.WriteFile(path, []byte("server: {addr: ':7000'}\neod: {hour: 16}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LROT_SERVER_ADDR", ":7100")
	t.Setenv("LROT_CLUSTER_METRICS", "influx")
	t.Setenv("LROT_EOD_HOUR", "not-a-number")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":7100" {
		t.Errorf("Addr = %q, want env override :7100", c.Server.Addr)
	}
	if c.ClusterMetrics.Backend != MetricsInflux {
		t.Errorf("Backend = %q, want influx", c.ClusterMetrics.Backend)
	}
	if c.EOD.Hour != 16 {
		t.Errorf("EOD.Hour = %d, want file value 16 when env is unparseable", c.EOD.Hour)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
