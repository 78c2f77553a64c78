// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant exposes the dispatch contract over HTTP.
//
// Function calls always answer 200 with a CallEnvelope; failures live
// inside the envelope. Only transport problems (unreadable body, rate
// limit) use HTTP error statuses.
package assistant

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/lrot/services/dispatch"
	"github.com/AleutianAI/lrot/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// requestIDHeader carries the request id in and out.
const requestIDHeader = "X-Request-ID"

// ErrorResponse is the body of a transport-level error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status    string   `json:"status"`
	Functions []string `json:"functions,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// ReadinessCheck reports whether dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Handlers serves the function endpoints.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	router *dispatch.Router
	ready  ReadinessCheck
	logger *slog.Logger
}

// NewHandlers creates Handlers. ready may be nil.
func NewHandlers(router *dispatch.Router, ready ReadinessCheck, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{router: router, ready: ready, logger: logger}
}

// getOrCreateRequestID returns the request id set by the middleware, or a
// new one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDHeader); id != "" {
		return id
	}
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDHeader, id)
	return id
}

// HandleCall handles POST /v1/functions/:name.
//
// Description:
//
//	The request body is the argument object. An empty body means no
//	arguments. The body is passed to the router verbatim, so a body that
//	is not JSON comes back as a MALFORMED_INPUT envelope.
//
// Response:
//
//	200 OK: dispatch.CallEnvelope
//	413 Request Entity Too Large: Body over 1 MiB
func (h *Handlers) HandleCall(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	name := c.Param("name")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body", Code: "INVALID_REQUEST", RequestID: requestID})
		return
	}
	if len(body) > maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large", Code: "BODY_TOO_LARGE", RequestID: requestID})
		return
	}

	env := h.router.Dispatch(c.Request.Context(), name, json.RawMessage(body))
	h.logCall(requestID, env)
	c.JSON(http.StatusOK, env)
}

// HandleToolCall handles POST /v1/functions/call.
//
// Description:
//
//	Accepts a model tool call, {"name": ..., "arguments": ...}, where
//	arguments is either an object or a JSON string holding one.
//
// Response:
//
//	200 OK: dispatch.CallEnvelope
//	400 Bad Request: Body is not a tool call or has no name
func (h *Handlers) HandleToolCall(c *gin.Context) {
	requestID := getOrCreateRequestID(c)

	var call llm.FunctionCall
	dec := json.NewDecoder(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err := dec.Decode(&call); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid tool call: " + err.Error(), Code: "INVALID_REQUEST", RequestID: requestID})
		return
	}
	if call.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required", Code: "MISSING_PARAMETER", RequestID: requestID})
		return
	}

	env := h.router.DispatchCall(c.Request.Context(), call)
	h.logCall(requestID, env)
	c.JSON(http.StatusOK, env)
}

// HandleListFunctions handles GET /v1/functions.
func (h *Handlers) HandleListFunctions(c *gin.Context) {
	defs := h.router.Registry().Definitions()
	if defs == nil {
		defs = []llm.ToolDef{}
	}
	c.JSON(http.StatusOK, defs)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Functions: h.router.Registry().Names(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady handles GET /ready.
//
// Response:
//
//	200 OK: Dependencies reachable
//	503 Service Unavailable: The readiness check failed
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := HealthResponse{Status: "ready", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			resp.Status = "not_ready"
			resp.Error = llm.SafeLogString(err.Error())
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) logCall(requestID string, env dispatch.CallEnvelope) {
	if errResult, ok := env.Result.(dispatch.ErrorResult); ok {
		h.logger.Info("function call failed",
			slog.String("request_id", requestID),
			slog.String("function", env.Name),
			slog.String("code", errResult.Code),
		)
		return
	}
	h.logger.Debug("function call",
		slog.String("request_id", requestID),
		slog.String("function", env.Name),
	)
}
