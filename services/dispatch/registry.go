// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch turns model-issued function calls into executed operations.
//
// A Registry maps function names to Handlers and is filled once at start-up.
// A Router looks a call up, decodes its arguments, runs it and folds every
// outcome, including panics, into a CallEnvelope.
package dispatch

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/AleutianAI/lrot/services/llm"
)

// Handler is one registrable function implementation.
//
// Description:
//
//	Implementations receive the raw JSON argument object and own its
//	decoding. Most handlers are built with Typed, which decodes into an
//	argument struct and validates it before calling the operation.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Handler interface {
	// Definition returns the JSON-schema definition advertised to the model.
	Definition() llm.ToolDef

	// Invoke runs the function. args is a JSON value, "{}" when the caller
	// supplied none.
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry maps function names to handlers.
//
// Description:
//
//	Constructed once at start-up and passed to the Router. Register is not
//	synchronized: all registration must finish before the first Dispatch.
//	After that the registry is only read, which is safe from any number of
//	goroutines.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register inserts or replaces the handler for name.
//
// No signature check happens here; argument mismatches surface when the
// function is dispatched.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Lookup returns the handler for name. The bool is false when name was
// never registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok && h != nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every handler's definition in name order.
//
// The definition's function name is forced to the registered name so the
// model always calls back with a key the router can resolve.
func (r *Registry) Definitions() []llm.ToolDef {
	names := r.Names()
	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		h, ok := r.Lookup(name)
		if !ok {
			continue
		}
		def := h.Definition()
		def.Function.Name = name
		if def.Type == "" {
			def.Type = "function"
		}
		defs = append(defs, def)
	}
	return defs
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(r.handlers)
}
