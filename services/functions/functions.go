// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package functions registers the assistant's operations into a dispatch
// Registry at start-up.
//
// Each operation has a typed argument struct, a function definition the
// model sees, and a thin adapter onto the engine that does the work.
package functions

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/lrot/services/adjustments"
	"github.com/AleutianAI/lrot/services/dispatch"
	"github.com/AleutianAI/lrot/services/eod"
	"github.com/AleutianAI/lrot/services/llm"
	"github.com/AleutianAI/lrot/services/prediction"
	"github.com/AleutianAI/lrot/services/variance"
)

// Registered function names.
const (
	NameProcessStatus   = "get_6g_status"
	NameVariance        = "sls_details_variance"
	NameTimeRemaining   = "time_remaining"
	NameSyncAdjustments = "sync_adjustments"
)

// StatusReporter is implemented by *prediction.Engine.
type StatusReporter interface {
	GetProcessStatus(ctx context.Context, cobDate, taskFilter string) (*prediction.StatusReport, error)
}

// VarianceInvestigator is implemented by *variance.Engine.
type VarianceInvestigator interface {
	Investigate(ctx context.Context, date1, date2, products string) (*variance.Investigation, error)
}

// AdjustmentSyncer is implemented by *adjustments.Client.
type AdjustmentSyncer interface {
	Sync(ctx context.Context, adjustmentType, dmatIDs string) (*adjustments.Result, error)
}

// EODClock is implemented by *eod.Clock.
type EODClock interface {
	Remaining() eod.Remaining
}

// Deps are the engines behind the operations. A nil dependency leaves its
// operation unregistered, so the router answers "not found" for it.
type Deps struct {
	Status      StatusReporter
	Variance    VarianceInvestigator
	Clock       EODClock
	Adjustments AdjustmentSyncer
	Logger      *slog.Logger
}

type statusArgs struct {
	COBDate   string `json:"cob_date" validate:"required"`
	TableName string `json:"table_name"`
}

type varianceArgs struct {
	Date1              string `json:"date1" validate:"required"`
	Date2              string `json:"date2" validate:"required"`
	ProductIdentifiers string `json:"product_identifiers"`
}

type syncArgs struct {
	AdjustmentType string `json:"adjustment_type" validate:"required"`
	DMATIDs        string `json:"dmat_ids" validate:"required"`
}

type noArgs struct{}

// Definitions returns every operation's function definition, whether or not
// its engine is configured.
func Definitions() []llm.ToolDef {
	return []llm.ToolDef{
		statusDef(), varianceDef(), syncDef(), timeRemainingDef(),
	}
}

func statusDef() llm.ToolDef {
	return llm.NewFunctionTool(NameProcessStatus,
		"Get the status of the FR2052a (6G) batch tables for a COB date, with runtime predictions for running tables and cluster load.",
		map[string]llm.ParamDef{
			"cob_date": {
				Type:        "string",
				Description: "COB date in MM-DD-YYYY format",
			},
			"table_name": {
				Type:        "string",
				Description: "Optional table name fragment or BPF id to report on a single table",
			},
		},
		"cob_date",
	)
}

func varianceDef() llm.ToolDef {
	return llm.NewFunctionTool(NameVariance,
		"Calculate variance for SLS details between two dates, drilling from the reporting table into base data and SLS details for lines with significant variance.",
		map[string]llm.ParamDef{
			"date1": {Type: "string", Description: "First date in format YYYY-MM-DD"},
			"date2": {Type: "string", Description: "Second date in format YYYY-MM-DD"},
			"product_identifiers": {
				Type:        "string",
				Description: "Optional comma-separated product identifiers, e.g. OS-09,OS-10",
			},
		},
		"date1", "date2",
	)
}

func syncDef() llm.ToolDef {
	return llm.NewFunctionTool(NameSyncAdjustments,
		"Clear or sync stuck adjustments for the given DMAT IDs.",
		map[string]llm.ParamDef{
			"adjustment_type": {
				Type:        "string",
				Description: "Type of adjustment",
				Enum:        []any{adjustments.TypeMDU, adjustments.TypeMSDU},
			},
			"dmat_ids": {
				Type:        "string",
				Description: "Comma-separated list of numeric DMAT IDs",
			},
		},
		"adjustment_type", "dmat_ids",
	)
}

func timeRemainingDef() llm.ToolDef {
	return llm.NewFunctionTool(NameTimeRemaining,
		"Get current time and time remaining until EOD (5PM EST)",
		nil,
	)
}

// RegisterAll registers every operation whose dependency is set.
//
// Outputs:
//
//	[]string - Names of the registered operations.
func RegisterAll(reg *dispatch.Registry, deps Deps) []string {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var names []string
	add := func(name string, h dispatch.Handler) {
		reg.Register(name, h)
		names = append(names, name)
	}

	if deps.Status != nil {
		add(NameProcessStatus, dispatch.Typed(statusDef(),
			func(ctx context.Context, a statusArgs) (*prediction.StatusReport, error) {
				return deps.Status.GetProcessStatus(ctx, a.COBDate, a.TableName)
			}))
	}
	if deps.Variance != nil {
		add(NameVariance, dispatch.Typed(varianceDef(),
			func(ctx context.Context, a varianceArgs) (*variance.Investigation, error) {
				return deps.Variance.Investigate(ctx, a.Date1, a.Date2, a.ProductIdentifiers)
			}))
	}
	if deps.Adjustments != nil {
		add(NameSyncAdjustments, dispatch.Typed(syncDef(),
			func(ctx context.Context, a syncArgs) (*adjustments.Result, error) {
				return deps.Adjustments.Sync(ctx, a.AdjustmentType, a.DMATIDs)
			}))
	}
	if deps.Clock != nil {
		add(NameTimeRemaining, dispatch.Typed(timeRemainingDef(),
			func(_ context.Context, _ noArgs) (eod.Remaining, error) {
				return deps.Clock.Remaining(), nil
			}))
	}

	for _, def := range Definitions() {
		if _, ok := reg.Lookup(def.Function.Name); !ok {
			logger.Warn("function not registered, dependency not configured",
				slog.String("function", def.Function.Name))
		}
	}
	return names
}
