// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clustermetrics

import (
	"context"
	"fmt"

	"github.com/AleutianAI/lrot/services/datatypes"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig locates YARN metrics scraped into InfluxDB.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxFetcher reads the latest cluster metrics from InfluxDB.
//
// Description:
//
//	Expects the scraper to write the ResourceManager fields (totalMB,
//	allocatedMB, totalVirtualCores, allocatedVirtualCores) under one
//	measurement. The last value of each field within five minutes wins.
//
// Thread Safety: Safe for concurrent use.
type InfluxFetcher struct {
	client influxdb2.Client
	query  api.QueryAPI
	flux   string
}

// NewInfluxFetcher creates a fetcher. Call Close when done.
func NewInfluxFetcher(cfg InfluxConfig) *InfluxFetcher {
	if cfg.Measurement == "" {
		cfg.Measurement = "yarn_cluster_metrics"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxFetcher{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		flux:   buildFlux(cfg.Bucket, cfg.Measurement),
	}
}

func buildFlux(bucket, measurement string) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -5m)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r._field == "totalMB" or r._field == "allocatedMB" or r._field == "totalVirtualCores" or r._field == "allocatedVirtualCores")
  |> last()`, bucket, measurement)
}

// Name implements Fetcher.
func (f *InfluxFetcher) Name() string {
	return "influxdb"
}

// Close releases the client.
func (f *InfluxFetcher) Close() {
	f.client.Close()
}

// Fetch implements Fetcher.
func (f *InfluxFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	result, err := f.query.Query(ctx, f.flux)
	if err != nil {
		return Snapshot{}, datatypes.Upstream("influx metrics query failed", err)
	}
	defer result.Close()

	var snap Snapshot
	seen := 0
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		switch rec.Field() {
		case "totalMB":
			snap.TotalMemoryMB = v
		case "allocatedMB":
			snap.AllocatedMemoryMB = v
		case "totalVirtualCores":
			snap.TotalVCores = v
		case "allocatedVirtualCores":
			snap.AllocatedVCores = v
		default:
			continue
		}
		seen++
	}
	if err := result.Err(); err != nil {
		return Snapshot{}, datatypes.Upstream("influx metrics read failed", err)
	}
	if seen == 0 {
		return Snapshot{}, datatypes.Upstream("influx metrics query failed",
			fmt.Errorf("no points in the last 5 minutes"))
	}
	return snap, nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
