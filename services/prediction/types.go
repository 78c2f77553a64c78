// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prediction

import (
	"strings"
	"time"

	"github.com/AleutianAI/lrot/services/clustermetrics"
)

// Normalized task states.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
)

// Prediction bases.
const (
	BasisMatched = "matched_hour_and_day_type"
	BasisAll     = "all_history"
	BasisDefault = "default"
)

// NormalizeStatus maps warehouse status spellings onto the task states.
//
// Empty statuses are inferred from the end time. Unrecognized statuses
// (FAILED, CANCELLED, ...) are returned upper-cased and count as neither
// completed nor running.
func NormalizeStatus(raw string, hasEnd bool) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "COMPLETED", "COMPLETE", "SUCCESS", "SUCCEEDED", "DONE":
		return StatusCompleted
	case "RUNNING", "IN_PROGRESS", "IN PROGRESS", "STARTED", "ACTIVE":
		return StatusRunning
	case "":
		if hasEnd {
			return StatusCompleted
		}
		return StatusRunning
	default:
		return s
	}
}

// Sample is one historical completed run.
type Sample struct {
	Identifier string
	Day        string
	Start      time.Time
	Minutes    float64
}

// Prediction forecasts a running task.
type Prediction struct {
	PredictedDurationMinutes float64 `json:"predicted_duration_minutes"`
	ElapsedMinutes           float64 `json:"elapsed_minutes"`
	RemainingMinutes         float64 `json:"remaining_minutes"`
	LowerBoundMinutes        float64 `json:"lower_bound_minutes"`
	UpperBoundMinutes        float64 `json:"upper_bound_minutes"`
	Range                    string  `json:"range"`
	Confidence               int     `json:"confidence"`
	Basis                    string  `json:"basis"`
	LoadPenaltyMinutes       float64 `json:"load_penalty_minutes"`
	EstimatedCompletion      string  `json:"estimated_completion"`
}

// HistoryStats summarizes one task's historical durations in minutes.
type HistoryStats struct {
	Samples int     `json:"samples"`
	Average float64 `json:"average_minutes"`
	Median  float64 `json:"median_minutes"`
	Min     float64 `json:"min_minutes"`
	Max     float64 `json:"max_minutes"`
}

// RuntimeStats summarizes whole-process runtime across historical days.
type RuntimeStats struct {
	Days   int     `json:"days"`
	Mean   float64 `json:"mean_minutes"`
	Median float64 `json:"median_minutes"`
	Min    float64 `json:"min_minutes"`
	Max    float64 `json:"max_minutes"`
}

// TableStatus is one catalog task in a report.
type TableStatus struct {
	Identifier      string        `json:"bpf_id"`
	Name            string        `json:"name"`
	Status          string        `json:"status"`
	ProcessName     string        `json:"process_name,omitempty"`
	StartTime       *string       `json:"start_time"`
	EndTime         *string       `json:"end_time"`
	DurationMinutes *int          `json:"duration_minutes"`
	Prediction      *Prediction   `json:"prediction,omitempty"`
	History         *HistoryStats `json:"history,omitempty"`

	order int
}

// StatusReport is the result of GetProcessStatus.
type StatusReport struct {
	Success              bool                  `json:"success"`
	COBDate              string                `json:"cob_date"`
	ProcessName          string                `json:"process_name"`
	ProcessAlias         string                `json:"process_alias"`
	Message              string                `json:"message,omitempty"`
	TotalTables          int                   `json:"total_tables"`
	TablesCompleted      int                   `json:"tables_completed"`
	TablesRunning        int                   `json:"tables_running"`
	TablesPending        int                   `json:"tables_pending"`
	CompletionPercentage int                   `json:"completion_percentage"`
	Tables               []TableStatus         `json:"tables"`
	ClusterHealth        clustermetrics.Health `json:"cluster_health"`
	HistoryAvailable     bool                  `json:"history_available"`
	HistoryError         string                `json:"history_error,omitempty"`
	HistoricalRuntime    *RuntimeStats         `json:"historical_runtime"`
	GeneratedAt          string                `json:"generated_at"`
}
