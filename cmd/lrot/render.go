// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/lrot/services/eod"
	"github.com/AleutianAI/lrot/services/llm"
	"github.com/AleutianAI/lrot/services/prediction"
	"github.com/AleutianAI/lrot/services/variance"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
)

// painter applies styles only when writing to a terminal.
type painter struct {
	color bool
}

// newPainter enables color when w is a terminal and NO_COLOR is unset.
func newPainter(w io.Writer) painter {
	if os.Getenv("NO_COLOR") != "" {
		return painter{}
	}
	f, ok := w.(*os.File)
	if !ok {
		return painter{}
	}
	fd := f.Fd()
	return painter{color: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p painter) status(status string) string {
	switch status {
	case prediction.StatusCompleted:
		return p.paint(completedStyle, status)
	case prediction.StatusRunning:
		return p.paint(runningStyle, status)
	case prediction.StatusPending:
		return p.paint(pendingStyle, status)
	default:
		return p.paint(warnStyle, status)
	}
}

func renderDefinitions(w io.Writer, p painter, defs []llm.ToolDef) {
	fmt.Fprintln(w, p.paint(titleStyle, "Available functions"))
	width := 0
	for _, d := range defs {
		width = max(width, len(d.Function.Name))
	}
	for _, d := range defs {
		fmt.Fprintf(w, "  %-*s  %s\n", width, d.Function.Name, firstLine(d.Function.Description))
		if len(d.Function.Parameters.Required) > 0 {
			fmt.Fprintf(w, "  %-*s  %s\n", width, "", p.paint(dimStyle, "required: "+strings.Join(d.Function.Parameters.Required, ", ")))
		}
	}
}

func renderStatus(w io.Writer, p painter, r *prediction.StatusReport) {
	fmt.Fprintf(w, "%s  %s\n", p.paint(titleStyle, r.ProcessName+" ("+r.ProcessAlias+")"), r.COBDate)
	if r.Message != "" {
		fmt.Fprintln(w, p.paint(warnStyle, r.Message))
		return
	}
	fmt.Fprintf(w, "Progress: %d%%  completed %d  running %d  pending %d  of %d\n",
		r.CompletionPercentage, r.TablesCompleted, r.TablesRunning, r.TablesPending, r.TotalTables)

	health := r.ClusterHealth
	switch {
	case !health.Available:
		fmt.Fprintln(w, p.paint(dimStyle, "Cluster metrics unavailable"))
	case health.Overloaded:
		fmt.Fprintln(w, p.paint(warnStyle, fmt.Sprintf("Cluster overloaded: memory %.1f%%  cpu %.1f%%", health.MemoryUtilization, health.CPUUtilization)))
	default:
		fmt.Fprintf(w, "Cluster: memory %.1f%%  cpu %.1f%%\n", health.MemoryUtilization, health.CPUUtilization)
	}
	if !r.HistoryAvailable && r.HistoryError != "" {
		fmt.Fprintln(w, p.paint(dimStyle, "History unavailable: "+r.HistoryError))
	}

	fmt.Fprintln(w)
	for _, t := range r.Tables {
		detail := ""
		switch {
		case t.DurationMinutes != nil:
			detail = fmt.Sprintf("took %d mins", *t.DurationMinutes)
		case t.Prediction != nil:
			detail = fmt.Sprintf("~%.0f mins left (%s, ETA %s)", t.Prediction.RemainingMinutes, t.Prediction.Range, t.Prediction.EstimatedCompletion)
		case t.History != nil && t.History.Samples > 0:
			detail = p.paint(dimStyle, fmt.Sprintf("usually %.0f mins", t.History.Median))
		}
		fmt.Fprintf(w, "  %-6s %-32s %-20s %s\n", t.Identifier, truncate(t.Name, 32), p.status(t.Status), detail)
	}
	if rt := r.HistoricalRuntime; rt != nil {
		fmt.Fprintf(w, "\nTypical total runtime: %.0f mins (median over %d days)\n", rt.Median, rt.Days)
	}
}

func renderInvestigation(w io.Writer, p painter, inv *variance.Investigation) {
	fmt.Fprintf(w, "%s  %s vs %s\n", p.paint(titleStyle, "Variance investigation"), inv.Date1, inv.Date2)
	if inv.Message != "" {
		fmt.Fprintln(w, inv.Message)
	}
	for _, rep := range []*variance.Report{inv.Reporting, inv.BaseData, inv.SLSDetails} {
		if rep == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s: %s\n", p.paint(titleStyle, rep.Table), rep.Message)
		for _, rec := range rep.VarianceData {
			if !rec.ExceedsThreshold {
				continue
			}
			fmt.Fprintf(w, "  %-12s %-24s %16.2f -> %16.2f  %s\n",
				rec.Line, truncate(rec.Group, 24), rec.AmountDate1, rec.AmountDate2,
				p.paint(warnStyle, formatPercent(rec.PercentageVariance)))
		}
		if n := len(rep.MissingPairs); n > 0 {
			fmt.Fprintln(w, p.paint(dimStyle, fmt.Sprintf("  %d context pair(s) present on only one date", n)))
		}
	}
}

func renderRemaining(w io.Writer, p painter, r *eod.Remaining) {
	fmt.Fprintf(w, "%s %dh %dm until %s\n", p.paint(titleStyle, "EOD:"), r.HoursRemaining, r.MinutesRemaining, r.EODTime)
	fmt.Fprintln(w, p.paint(dimStyle, r.Message))
}

func formatPercent(pct variance.Percent) string {
	if pct.IsInf() {
		if float64(pct) > 0 {
			return "+inf%"
		}
		return "-inf%"
	}
	return fmt.Sprintf("%+.2f%%", float64(pct))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
