// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Function Dispatch
// =============================================================================

// unknownFunctionLabel replaces unregistered names in metric labels so a
// misbehaving model cannot grow label cardinality without bound.
const unknownFunctionLabel = "_unknown"

var (
	// dispatchCallsTotal counts dispatches by function and status.
	// Labels: function, status (ok, error)
	dispatchCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrot",
		Subsystem: "dispatch",
		Name:      "calls_total",
		Help:      "Total function dispatches by function and status",
	}, []string{"function", "status"})

	// dispatchDurationSeconds measures handler latency including decoding.
	// Labels: function
	dispatchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lrot",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Function dispatch latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"function"})

	// dispatchErrorsTotal counts failed dispatches by envelope code.
	// Labels: function, code
	dispatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrot",
		Subsystem: "dispatch",
		Name:      "errors_total",
		Help:      "Failed function dispatches by function and error code",
	}, []string{"function", "code"})
)

// recordDispatch records one completed dispatch. code is empty on success.
func recordDispatch(function string, duration time.Duration, code string) {
	dispatchDurationSeconds.WithLabelValues(function).Observe(duration.Seconds())
	if code == "" {
		dispatchCallsTotal.WithLabelValues(function, "ok").Inc()
		return
	}
	dispatchCallsTotal.WithLabelValues(function, "error").Inc()
	dispatchErrorsTotal.WithLabelValues(function, code).Inc()
}
