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
	"encoding/json"
	"math"
	"strconv"
)

// Percent is a percentage change. It may be +Inf when the base is zero.
//
// JSON has no infinity, so ±Inf marshal as the strings "Infinity" and
// "-Infinity" and NaN as null.
type Percent float64

// MarshalJSON implements json.Marshaler.
func (p Percent) MarshalJSON() ([]byte, error) {
	f := float64(p)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(f):
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Percent) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"Infinity"`:
		*p = Percent(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*p = Percent(math.Inf(-1))
		return nil
	case "null":
		*p = Percent(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*p = Percent(f)
	return nil
}

// IsInf reports whether p is infinite.
func (p Percent) IsInf() bool {
	return math.IsInf(float64(p), 0)
}

// Abs returns |p|.
func (p Percent) Abs() float64 {
	return math.Abs(float64(p))
}

// PercentChange returns (a2-a1)/|a1|*100.
//
// 0 → 0 is 0. 0 → anything else is +Inf regardless of sign.
func PercentChange(a1, a2 float64) Percent {
	if a1 == 0 {
		if a2 == 0 {
			return 0
		}
		return Percent(math.Inf(1))
	}
	return Percent((a2 - a1) / math.Abs(a1) * 100)
}

// PairKey aligns rows across the two dates.
type PairKey struct {
	Line  string
	Group string
}

// String renders the key as "line|group".
func (k PairKey) String() string {
	return k.Line + "|" + k.Group
}

// Record is one significant measure change for a pair present on both dates.
type Record struct {
	Line               string  `json:"sls_line"`
	Group              string  `json:"context_name"`
	PairID             string  `json:"pair_id"`
	Measure            string  `json:"measure"`
	ContextKeyDate1    string  `json:"context_key_date1"`
	ContextKeyDate2    string  `json:"context_key_date2"`
	AmountDate1        float64 `json:"amount_date1"`
	AmountDate2        float64 `json:"amount_date2"`
	AbsoluteVariance   float64 `json:"absolute_variance"`
	PercentageVariance Percent `json:"percentage_variance"`
	ExceedsThreshold   bool    `json:"exceeds_threshold"`
}

// MissingPair is a pair found on only one of the two dates.
type MissingPair struct {
	Line        string `json:"sls_line"`
	Group       string `json:"context_name"`
	ContextKey  string `json:"context_key"`
	MissingFrom string `json:"missing_from"`
	PresentIn   string `json:"present_in"`

	// Amount is the primary measure on the date the pair is present.
	// Nil when that value is null.
	Amount *float64 `json:"amount"`
}

// Report is the variance result for one table.
type Report struct {
	Table             string        `json:"table"`
	Message           string        `json:"message"`
	Date1             string        `json:"date1"`
	Date2             string        `json:"date2"`
	ThresholdPct      float64       `json:"threshold_pct"`
	MissingDates      []string      `json:"missing_dates,omitempty"`
	LinesAnalyzed     []string      `json:"sls_lines_analyzed"`
	LinesWithVariance []string      `json:"sls_lines_with_variance"`
	VarianceData      []Record      `json:"variance_data"`
	MissingPairs      []MissingPair `json:"missing_pairs"`
	SkippedRows       int           `json:"skipped_rows,omitempty"`
}

// Investigation is the three-table drill-down result.
type Investigation struct {
	Success            bool     `json:"success"`
	Date1              string   `json:"date1"`
	Date2              string   `json:"date2"`
	Message            string   `json:"message,omitempty"`
	ProductIdentifiers []string `json:"product_identifiers"`
	Reporting          *Report  `json:"reporting_table_analysis"`
	BaseData           *Report  `json:"base_data_analysis"`
	SLSDetails         *Report  `json:"sls_details_analysis"`
}
