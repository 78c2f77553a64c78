// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clustermetrics reads cluster resource usage and derives load.
//
// A Fetcher returns raw capacity and allocation. Probe turns that into a
// Health snapshot, substituting "not overloaded, 0%" when the fetch fails
// or times out.
package clustermetrics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/lrot/services/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OverloadThresholdPct is the utilization above which the cluster counts
// as overloaded.
const OverloadThresholdPct = 90.0

// DefaultTimeout bounds a Probe.
const DefaultTimeout = 10 * time.Second

var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lrot",
	Subsystem: "cluster_metrics",
	Name:      "fetch_total",
	Help:      "Cluster metrics fetches by fetcher and status",
}, []string{"fetcher", "status"})

// Snapshot is raw cluster capacity and allocation.
type Snapshot struct {
	TotalMemoryMB     float64
	AllocatedMemoryMB float64
	TotalVCores       float64
	AllocatedVCores   float64
}

// Fetcher reads a Snapshot.
type Fetcher interface {
	// Name labels metrics and logs.
	Name() string

	// Fetch returns the current snapshot or an ErrUpstream error.
	Fetch(ctx context.Context) (Snapshot, error)
}

// Health is the derived load state reported to operators.
type Health struct {
	Available         bool    `json:"available"`
	MemoryUtilization float64 `json:"memory_utilization_pct"`
	CPUUtilization    float64 `json:"cpu_utilization_pct"`
	Overloaded        bool    `json:"overloaded"`
	Error             string  `json:"error,omitempty"`
}

// Utilization derives percentages and the overload flag from s.
// Zero capacity yields 0% for that resource.
func Utilization(s Snapshot) Health {
	h := Health{
		Available:         true,
		MemoryUtilization: percent(s.AllocatedMemoryMB, s.TotalMemoryMB),
		CPUUtilization:    percent(s.AllocatedVCores, s.TotalVCores),
	}
	h.Overloaded = h.MemoryUtilization > OverloadThresholdPct || h.CPUUtilization > OverloadThresholdPct
	return h
}

func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(part/total*10000) / 100
}

// Probe fetches and derives health, never failing.
//
// Description:
//
//	The fetch runs under timeout (DefaultTimeout when non-positive). A nil
//	fetcher, an error or a timeout produce Available=false, 0% utilization,
//	not overloaded, with the error text attached.
func Probe(ctx context.Context, f Fetcher, timeout time.Duration, logger *slog.Logger) Health {
	if f == nil {
		return Health{Error: "cluster metrics not configured"}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := f.Fetch(ctx)
	if err != nil {
		fetchTotal.WithLabelValues(f.Name(), "error").Inc()
		msg := llm.SafeLogString(err.Error())
		logger.Warn("cluster metrics unavailable, assuming no overload",
			slog.String("fetcher", f.Name()),
			slog.String("error", msg),
		)
		return Health{Error: msg}
	}
	fetchTotal.WithLabelValues(f.Name(), "ok").Inc()
	return Utilization(snap)
}
