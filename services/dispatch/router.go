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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/llm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lrot.dispatch"

// CallEnvelope is the uniform result of one dispatch.
//
// Result holds the operation's value on success and an ErrorResult on any
// failure. It always marshals to JSON.
type CallEnvelope struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// ErrorResult is the failure payload inside a CallEnvelope.
type ErrorResult struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Failed reports whether the envelope carries an ErrorResult.
func (e CallEnvelope) Failed() bool {
	_, ok := e.Result.(ErrorResult)
	return ok
}

// Router executes function calls against a Registry.
//
// Thread Safety: Safe for concurrent use once the registry is fully populated.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the router's registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Dispatch executes one function call and never fails.
//
// Description:
//
//	Steps, stopping at the first failure:
//	  1. Normalize args to a JSON value. A string or byte slice is parsed as
//	     JSON; a map or struct is marshaled. Parse failures produce an
//	     envelope whose error is the parser's message.
//	  2. Resolve name. Unknown names produce "Function <name> not found".
//	  3. Invoke the handler. Returned errors and recovered panics produce
//	     an envelope carrying the error text and its code.
//	  4. Check the value marshals to JSON.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - name: Function name as issued by the model.
//   - args: Argument blob. string, []byte, json.RawMessage, map or nil.
//
// Outputs:
//   - CallEnvelope: {name, result}. Never an error.
//
// Thread Safety: Safe for concurrent use.
func (r *Router) Dispatch(ctx context.Context, name string, args any) (env CallEnvelope) {
	invocationID := uuid.NewString()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.Router.Dispatch",
		trace.WithAttributes(
			attribute.String("function.name", name),
			attribute.String("invocation.id", invocationID),
		),
	)
	defer span.End()

	logger := r.logger.With(
		slog.String("function", name),
		slog.String("invocation_id", invocationID),
	)
	start := time.Now()
	metricName := name

	fail := func(err error) CallEnvelope {
		code := datatypes.ErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		span.SetAttributes(attribute.String("error.code", code))
		recordDispatch(metricName, time.Since(start), code)
		logger.Warn("function call failed",
			slog.String("code", code),
			slog.String("error", llm.SafeLogString(err.Error())),
			slog.Duration("duration", time.Since(start)),
		)
		return CallEnvelope{Name: name, Result: ErrorResult{Error: err.Error(), Code: code}}
	}

	raw, err := normalizeArgs(args)
	if err != nil {
		metricName = unknownFunctionLabel
		if _, ok := r.registry.Lookup(name); ok {
			metricName = name
		}
		return fail(err)
	}

	handler, ok := r.registry.Lookup(name)
	if !ok {
		metricName = unknownFunctionLabel
		return fail(&datatypes.KindError{
			Kind:    datatypes.ErrFunctionNotFound,
			Message: fmt.Sprintf("Function %s not found", name),
		})
	}

	value, err := invokeRecovered(ctx, handler, raw, logger)
	if err != nil {
		return fail(err)
	}

	if _, err := json.Marshal(value); err != nil {
		return fail(fmt.Errorf("result of %s is not serializable: %w", name, err))
	}

	recordDispatch(metricName, time.Since(start), "")
	logger.Info("function call completed", slog.Duration("duration", time.Since(start)))
	return CallEnvelope{Name: name, Result: value}
}

// DispatchCall is Dispatch for a decoded model function call.
func (r *Router) DispatchCall(ctx context.Context, call llm.FunctionCall) CallEnvelope {
	return r.Dispatch(ctx, call.Name, call.ArgumentsBlob())
}

// invokeRecovered runs the handler, converting a panic into an error.
func invokeRecovered(ctx context.Context, h Handler, raw json.RawMessage, logger *slog.Logger) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("function panicked",
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
			value = nil
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()
	return h.Invoke(ctx, raw)
}

// normalizeArgs turns any accepted args shape into a JSON value.
func normalizeArgs(args any) (json.RawMessage, error) {
	var data []byte
	switch v := args.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, datatypes.Malformed("%s", err.Error())
		}
		data = encoded
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, datatypes.Malformed("%s", err.Error())
	}
	return json.RawMessage(data), nil
}
