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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/AleutianAI/lrot/services/datatypes"
	"github.com/AleutianAI/lrot/services/llm"
	"github.com/go-playground/validator/v10"
)

// argValidator validates decoded argument structs. Field names in messages
// use the json tag so errors read the way the model spelled the argument.
var argValidator = newArgValidator()

func newArgValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// OperationFunc is a typed operation: decoded arguments in, typed result out.
type OperationFunc[A any, R any] func(ctx context.Context, args A) (R, error)

// typedHandler adapts an OperationFunc to Handler.
type typedHandler[A any, R any] struct {
	def llm.ToolDef
	fn  OperationFunc[A, R]
}

// Typed builds a Handler from a definition and a typed operation.
//
// Description:
//
//	Arguments are decoded strictly: unknown keys and wrong JSON types are
//	rejected, then `validate` struct tags are checked. Both failures are
//	ErrMalformedInput and the operation is not called.
//
// Example:
//
//	type statusArgs struct {
//	    COBDate string `json:"cob_date" validate:"required"`
//	}
//	h := dispatch.Typed(def, func(ctx context.Context, a statusArgs) (*Report, error) {
//	    return engine.GetProcessStatus(ctx, a.COBDate, "")
//	})
func Typed[A any, R any](def llm.ToolDef, fn OperationFunc[A, R]) Handler {
	return &typedHandler[A, R]{def: def, fn: fn}
}

// Definition implements Handler.
func (h *typedHandler[A, R]) Definition() llm.ToolDef {
	return h.def
}

// Invoke implements Handler.
func (h *typedHandler[A, R]) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[A](raw)
	if err != nil {
		return nil, err
	}
	return h.fn(ctx, args)
}

// decodeArgs strictly decodes and validates an argument object.
func decodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, datatypes.Malformed("invalid arguments: %s", describeDecodeError(err))
	}

	if err := argValidator.Struct(args); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// A is not a struct; nothing to validate.
			return args, nil
		}
		return args, datatypes.Malformed("invalid arguments: %s", describeValidationError(err))
	}
	return args, nil
}

// describeDecodeError rewrites encoding/json errors into argument terms.
func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return "arguments must be a JSON object"
		}
		return fmt.Sprintf("argument %q must be of type %s", typeErr.Field, typeErr.Type.String())
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return "unexpected argument " + strings.TrimPrefix(msg, "json: unknown field ")
	}
	return msg
}

// describeValidationError flattens validator errors into one sentence.
func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("missing required argument %q", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("argument %q must be one of [%s]", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("argument %q failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
