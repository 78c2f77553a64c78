// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	// httpRequestsTotal counts requests by route template and status.
	// Labels: route, status
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "status"})

	// httpDurationSeconds measures request latency by route template.
	httpDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lrot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// rateLimitedTotal counts requests rejected by the limiter.
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lrot",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429",
	})
)

// EngineOptions configures NewEngine.
type EngineOptions struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RatePerSecond and RateBurst configure the per-client limiter on
	// /v1. Zero rate disables it.
	RatePerSecond float64
	RateBurst     int

	// Debug enables gin's request logger.
	Debug bool
}

// RegisterRoutes registers the function endpoints.
//
// Description:
//
//	Registers all /v1/functions* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/functions - Tool definitions for the model
//	POST /v1/functions/call - Dispatch a model tool call
//	POST /v1/functions/:name - Dispatch by name, body is the argument object
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	fn := rg.Group("/functions")
	fn.GET("", handlers.HandleListFunctions)
	fn.POST("/call", handlers.HandleToolCall)
	fn.POST("/:name", handlers.HandleCall)
}

// NewEngine builds the gin engine with middleware and every route.
//
// Description:
//
//	Middleware order: recovery, otelgin span extraction, request id,
//	request metrics. The limiter applies to /v1 only so health probes
//	and scrapes are never throttled.
//
// Health Endpoints:
//
//	GET /health - Liveness
//	GET /ready - Readiness
//	GET /metrics - Prometheus scrape
func NewEngine(handlers *Handlers, opts EngineOptions) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "lrot"
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(requestIDMiddleware())
	router.Use(metricsMiddleware())
	if opts.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/health", handlers.HandleHealth)
	router.GET("/ready", handlers.HandleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if opts.RatePerSecond > 0 {
		limiter := NewRateLimiter(opts.RatePerSecond, opts.RateBurst)
		v1.Use(limiter.Middleware())
		slog.Info("rate limiting enabled",
			slog.Float64("per_second", opts.RatePerSecond),
			slog.Int("burst", opts.RateBurst),
		)
	}
	RegisterRoutes(v1, handlers)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "no route for " + c.Request.Method + " " + c.Request.URL.Path,
			Code:      "NOT_FOUND",
			RequestID: getOrCreateRequestID(c),
		})
	})
	return router
}

// requestIDMiddleware assigns a request id and echoes it, along with the
// trace id when one is active, in the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := getOrCreateRequestID(c)
		c.Header(requestIDHeader, id)
		span := trace.SpanFromContext(c.Request.Context())
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header("X-Trace-ID", sc.TraceID().String())
		}
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
