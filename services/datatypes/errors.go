// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
)

// Error kinds shared by the dispatch layer and the analytic engines.
//
// Engines wrap one of these sentinels so the router can classify a failure
// with errors.Is without knowing the engine's concrete error types.
var (
	// ErrMalformedInput marks arguments that fail to parse or validate.
	ErrMalformedInput = errors.New("malformed input")

	// ErrFunctionNotFound marks a dispatch to an unregistered function name.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrUpstream marks a failed data-source, monitoring or token fetch.
	ErrUpstream = errors.New("upstream failure")

	// ErrDataIntegrity marks result sets that violate an aggregation
	// invariant, such as duplicate rows for one grouping key.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// KindError attaches an error kind to a human-readable message.
//
// Description:
//
//	Error() returns only the message so envelopes stay readable
//	("Invalid date format: 13-45-2025"), while Unwrap exposes both the kind
//	sentinel and the optional cause for errors.Is / errors.As.
//
// Thread Safety: Immutable after construction.
type KindError struct {
	Kind    error
	Message string
	Cause   error
}

// Error implements error.
func (e *KindError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes the kind and the cause.
func (e *KindError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Malformed builds an ErrMalformedInput error with a formatted message.
func Malformed(format string, args ...any) error {
	return &KindError{Kind: ErrMalformedInput, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps cause as an ErrUpstream error. op names the failed step.
func Upstream(op string, cause error) error {
	return &KindError{Kind: ErrUpstream, Message: op, Cause: cause}
}

// DataIntegrity builds an ErrDataIntegrity error with a formatted message.
func DataIntegrity(format string, args ...any) error {
	return &KindError{Kind: ErrDataIntegrity, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the envelope code for an error.
//
// Outputs:
//
//	string - One of MALFORMED_INPUT, FUNCTION_NOT_FOUND, UPSTREAM_FAILURE,
//	         DATA_ERROR or INTERNAL_ERROR. Empty for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedInput):
		return "MALFORMED_INPUT"
	case errors.Is(err, ErrFunctionNotFound):
		return "FUNCTION_NOT_FOUND"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_FAILURE"
	case errors.Is(err, ErrDataIntegrity):
		return "DATA_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
