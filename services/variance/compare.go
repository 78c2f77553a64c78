// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package variance

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/lrot/services/datatypes"
)

// dateSet is one date's rows keyed by pair.
type dateSet map[PairKey]datatypes.Row

// Compare pairs the rows of two dates and reports significant changes.
//
// Description:
//
//	Rows are partitioned by def.DateColumn; rows on neither date are
//	ignored. If either date has no rows the report names the missing
//	date(s) and carries no comparison. Otherwise every pair present on
//	both dates yields one Record per measure whose |percentage change|
//	is at least thresholdPct, and every pair present on one date yields
//	a MissingPair.
//
// Inputs:
//
//	def - Column mapping for the table.
//	rows - Aggregated rows, at most one per (line, group, date).
//	date1, date2 - YYYY-MM-DD.
//	thresholdPct - Materiality threshold in percent.
//
// Outputs:
//
//	*Report - Records sorted by |percentage change| descending.
//	error - ErrDataIntegrity when a (line, group, date) repeats.
//
// Thread Safety: Pure function; safe for concurrent use.
func Compare(def TableDef, rows []datatypes.Row, date1, date2 string, thresholdPct float64) (*Report, error) {
	report := &Report{
		Table:             def.Name,
		Date1:             date1,
		Date2:             date2,
		ThresholdPct:      thresholdPct,
		LinesAnalyzed:     []string{},
		LinesWithVariance: []string{},
		VarianceData:      []Record{},
		MissingPairs:      []MissingPair{},
	}

	set1, set2 := dateSet{}, dateSet{}
	lines := map[string]struct{}{}
	for _, row := range rows {
		key, ok := pairKey(def, row)
		if !ok {
			report.SkippedRows++
			continue
		}
		date := datatypes.NormalizeDate(mustGet(row, def.DateColumn))

		matched := false
		for _, target := range []struct {
			date string
			set  dateSet
		}{{date1, set1}, {date2, set2}} {
			if date != target.date {
				continue
			}
			if _, dup := target.set[key]; dup {
				return nil, datatypes.DataIntegrity(
					"table %s: duplicate rows for pair %s on %s", def.Name, key, date)
			}
			target.set[key] = row
			matched = true
		}
		if matched {
			lines[key.Line] = struct{}{}
		}
	}

	if len(set1) == 0 || len(set2) == 0 {
		if len(set1) == 0 {
			report.MissingDates = append(report.MissingDates, date1)
		}
		if len(set2) == 0 && date2 != date1 {
			report.MissingDates = append(report.MissingDates, date2)
		}
		report.Message = "Missing data for dates: " + strings.Join(report.MissingDates, ", ")
		return report, nil
	}

	report.LinesAnalyzed = sortedKeys(lines)
	report.MissingPairs = append(report.MissingPairs, missingPairs(def, set2, set1, date1, date2)...)
	report.MissingPairs = append(report.MissingPairs, missingPairs(def, set1, set2, date2, date1)...)
	sort.SliceStable(report.MissingPairs, func(i, j int) bool {
		a, b := report.MissingPairs[i], report.MissingPairs[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.MissingFrom < b.MissingFrom
	})

	significantLines := map[string]struct{}{}
	for key, row1 := range set1 {
		row2, ok := set2[key]
		if !ok {
			continue
		}
		for _, measure := range def.Measures {
			a1, ok1 := row1.Float(measure)
			a2, ok2 := row2.Float(measure)
			if !ok1 || !ok2 {
				continue
			}
			pct := PercentChange(a1, a2)
			if pct.Abs() < thresholdPct {
				continue
			}
			significantLines[key.Line] = struct{}{}
			report.VarianceData = append(report.VarianceData, Record{
				Line:               key.Line,
				Group:              key.Group,
				PairID:             key.String(),
				Measure:            measure,
				ContextKeyDate1:    contextKey(def, row1),
				ContextKeyDate2:    contextKey(def, row2),
				AmountDate1:        a1,
				AmountDate2:        a2,
				AbsoluteVariance:   a2 - a1,
				PercentageVariance: pct,
				ExceedsThreshold:   true,
			})
		}
	}

	sort.Slice(report.VarianceData, func(i, j int) bool {
		a, b := report.VarianceData[i], report.VarianceData[j]
		if a.PercentageVariance.Abs() != b.PercentageVariance.Abs() {
			return a.PercentageVariance.Abs() > b.PercentageVariance.Abs()
		}
		if a.PairID != b.PairID {
			return a.PairID < b.PairID
		}
		return a.Measure < b.Measure
	})
	report.LinesWithVariance = sortedKeys(significantLines)
	report.Message = fmt.Sprintf("Analysis completed. Found %d pairs with significant variance (>=%s%%).",
		len(report.VarianceData), strconv.FormatFloat(thresholdPct, 'f', -1, 64))
	return report, nil
}

// missingPairs lists keys of present that are absent from other.
func missingPairs(def TableDef, present, other dateSet, missingFrom, presentIn string) []MissingPair {
	var out []MissingPair
	for key, row := range present {
		if _, ok := other[key]; ok {
			continue
		}
		mp := MissingPair{
			Line:        key.Line,
			Group:       key.Group,
			ContextKey:  contextKey(def, row),
			MissingFrom: missingFrom,
			PresentIn:   presentIn,
		}
		if v, ok := row.Float(def.PrimaryMeasure); ok {
			mp.Amount = &v
		}
		out = append(out, mp)
	}
	return out
}

// pairKey derives the key. Rows with a null line or group cannot be paired.
func pairKey(def TableDef, row datatypes.Row) (PairKey, bool) {
	line, ok := row.Get(def.LineColumn)
	if !ok || line == nil {
		return PairKey{}, false
	}
	group, ok := row.Get(def.GroupColumn)
	if !ok || group == nil {
		return PairKey{}, false
	}
	if f, isFloat := group.(float64); isFloat && math.IsNaN(f) {
		return PairKey{}, false
	}
	key := PairKey{Line: row.String(def.LineColumn), Group: row.String(def.GroupColumn)}
	if key.Line == "" {
		return PairKey{}, false
	}
	return key, true
}

func contextKey(def TableDef, row datatypes.Row) string {
	if def.ContextKeyColumn == "" {
		return ""
	}
	return row.String(def.ContextKeyColumn)
}

func mustGet(row datatypes.Row, col string) any {
	v, _ := row.Get(col)
	return v
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
