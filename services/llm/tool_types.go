// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the wire types exchanged with the conversational model
// that sits in front of the function-dispatch layer.
//
// The model client itself lives outside this module. These types describe
// what the module advertises (function definitions) and what it accepts
// back (function calls).
package llm

import (
	"bytes"
	"encoding/json"
)

// ToolDef is one advertised capability in the OpenAI function-calling
// schema.
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Type is always "function".
	Type string `json:"type"`

	// Function is the callable definition.
	Function FunctionDef `json:"function"`
}

// FunctionDef names a function and describes its parameters.
type FunctionDef struct {
	// Name is the registry key the model must echo back in its call.
	Name string `json:"name"`

	// Description tells the model when to pick this function.
	Description string `json:"description"`

	// Parameters is the JSON Schema for the argument object.
	Parameters ParameterSchema `json:"parameters"`
}

// ParameterSchema is the JSON Schema of a function's argument object.
type ParameterSchema struct {
	// Type is always "object".
	Type string `json:"type"`

	// Properties maps argument names to their definitions.
	Properties map[string]ParamDef `json:"properties"`

	// Required lists arguments the model must supply.
	Required []string `json:"required,omitempty"`
}

// ParamDef is a single argument definition.
type ParamDef struct {
	// Type is the JSON Schema type (string, integer, number, boolean).
	Type string `json:"type"`

	// Description explains the expected value and its format.
	Description string `json:"description,omitempty"`

	// Enum restricts values to a fixed set.
	Enum []any `json:"enum,omitempty"`
}

// NewFunctionTool builds a ToolDef with an object parameter schema.
//
// Inputs:
//
//	name - Function name.
//	description - When the model should call it.
//	props - Argument definitions. Nil produces an empty property map,
//	        which is what the model expects for no-argument functions.
//	required - Required argument names.
func NewFunctionTool(name, description string, props map[string]ParamDef, required ...string) ToolDef {
	if props == nil {
		props = map[string]ParamDef{}
	}
	return ToolDef{
		Type: "function",
		Function: FunctionDef{
			Name:        name,
			Description: description,
			Parameters: ParameterSchema{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		},
	}
}

// FunctionCall is a model-issued call as it arrives from the orchestrator.
//
// Description:
//
//	Providers disagree on the shape of Arguments: OpenAI sends a JSON string
//	containing an object, Anthropic and Gemini send the object itself. Both
//	shapes are accepted here and normalized by ArgumentsBlob.
//
// Thread Safety: FunctionCall is safe for concurrent read access.
type FunctionCall struct {
	// ID is the provider's call identifier, echoed back with the result.
	ID string `json:"id,omitempty"`

	// Name is the function to dispatch.
	Name string `json:"name"`

	// Arguments is the raw JSON arguments value.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsBlob returns the arguments as the text the router should parse.
//
// Outputs:
//
//	string - The unquoted payload when Arguments is a JSON string, the raw
//	         JSON otherwise, and "{}" when absent or null.
//
// Thread Safety: This method is safe for concurrent use.
func (c *FunctionCall) ArgumentsBlob() string {
	trimmed := bytes.TrimSpace(c.Arguments)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
