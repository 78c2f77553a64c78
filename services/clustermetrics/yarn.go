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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AleutianAI/lrot/services/datatypes"
)

// yarnMetricsPath is the ResourceManager cluster metrics endpoint.
const yarnMetricsPath = "/ws/v1/cluster/metrics"

// maxYARNBody caps the response read.
const maxYARNBody = 1 << 20

// YARNFetcher reads the YARN ResourceManager REST API.
//
// Thread Safety: Safe for concurrent use.
type YARNFetcher struct {
	baseURL string
	client  *http.Client
}

// NewYARNFetcher creates a fetcher for the ResourceManager at baseURL.
// A nil client uses http.DefaultClient; Probe supplies the deadline.
func NewYARNFetcher(baseURL string, client *http.Client) *YARNFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &YARNFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements Fetcher.
func (f *YARNFetcher) Name() string {
	return "yarn"
}

type yarnResponse struct {
	ClusterMetrics *struct {
		TotalMB               float64 `json:"totalMB"`
		AllocatedMB           float64 `json:"allocatedMB"`
		TotalVirtualCores     float64 `json:"totalVirtualCores"`
		AllocatedVirtualCores float64 `json:"allocatedVirtualCores"`
	} `json:"clusterMetrics"`
}

// Fetch implements Fetcher.
func (f *YARNFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+yarnMetricsPath, nil)
	if err != nil {
		return Snapshot{}, datatypes.Upstream("yarn metrics request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, datatypes.Upstream("yarn metrics request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxYARNBody))
	if err != nil {
		return Snapshot{}, datatypes.Upstream("yarn metrics read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, datatypes.Upstream("yarn metrics request failed",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed yarnResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Snapshot{}, datatypes.Upstream("yarn metrics decode failed", err)
	}
	if parsed.ClusterMetrics == nil {
		return Snapshot{}, datatypes.Upstream("yarn metrics decode failed", fmt.Errorf("missing clusterMetrics"))
	}
	m := parsed.ClusterMetrics
	return Snapshot{
		TotalMemoryMB:     m.TotalMB,
		AllocatedMemoryMB: m.AllocatedMB,
		TotalVCores:       m.TotalVirtualCores,
		AllocatedVCores:   m.AllocatedVirtualCores,
	}, nil
}
