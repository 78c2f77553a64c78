// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queriesTotal counts queries by source and status.
	// Labels: source, status (ok, error)
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrot",
		Subsystem: "datasource",
		Name:      "queries_total",
		Help:      "Total data-source queries by source and status",
	}, []string{"source", "status"})

	// queryDurationSeconds measures query latency.
	// Labels: source
	queryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lrot",
		Subsystem: "datasource",
		Name:      "query_duration_seconds",
		Help:      "Data-source query latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120},
	}, []string{"source"})

	// cacheTotal counts cache lookups by source and result.
	// Labels: source, result (hit, miss, error)
	cacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrot",
		Subsystem: "datasource",
		Name:      "cache_total",
		Help:      "Result-cache lookups by source and result",
	}, []string{"source", "result"})
)
