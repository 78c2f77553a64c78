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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one result-set row keyed by column name.
//
// Values are whatever the driver produced: string, int64, float64, bool,
// time.Time or nil. Column lookups are case-insensitive because warehouses
// disagree on identifier casing (Oracle upper-cases, Impala lower-cases).
type Row map[string]any

// Get returns the value of a column, matching the name case-insensitively.
func (r Row) Get(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// String returns a column rendered as a trimmed string. Nil and absent
// columns return "".
func (r Row) String(column string) string {
	v, ok := r.Get(column)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case time.Time:
		return t.Format(time.DateTime)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Float returns a numeric column. The bool is false when the column is
// absent, null or not numeric.
func (r Row) Float(column string) (float64, bool) {
	v, ok := r.Get(column)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Time returns a timestamp column interpreted in loc when the driver hands
// back a naive value. The bool is false when the column is absent, null or
// unparseable.
//
// Drivers such as modernc sqlite return a naive DATETIME as a
// time.Time stamped UTC. Those values keep their wall clock and are moved
// into loc. A time.Time carrying any other zone is returned unchanged.
func (r Row) Time(column string, loc *time.Location) (time.Time, bool) {
	v, ok := r.Get(column)
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		if loc != nil && t.Location() == time.UTC {
			return asWallClock(t, loc), true
		}
		return t, true
	case string:
		return ParseTimestamp(t, loc)
	case []byte:
		return ParseTimestamp(string(t), loc)
	default:
		return time.Time{}, false
	}
}

// asWallClock reads t's wall clock as a time in loc.
func asWallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses the timestamp shapes produced by SQL drivers.
// Layouts without a zone are interpreted in loc (UTC when nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
