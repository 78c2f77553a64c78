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
	"strings"
	"time"
)

// cobDateLayouts are the accepted operator spellings of a COB date.
// MM-DD-YYYY comes first because it is what operators type.
var cobDateLayouts = []string{
	"01-02-2006",
	time.DateOnly,
	"01/02/2006",
	"02-Jan-2006",
}

// ParseCOBDate parses a close-of-business date in any accepted layout.
//
// Outputs:
//
//	time.Time - Midnight UTC of the date.
//	error - ErrMalformedInput when no layout matches.
func ParseCOBDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range cobDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Malformed("Invalid date format: %s. Please use MM-DD-YYYY format.", s)
}

// ParseISODate parses a strict YYYY-MM-DD date.
func ParseISODate(field, s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, Malformed("invalid %s %q: expected YYYY-MM-DD", field, s)
	}
	return t, nil
}

// NormalizeDate renders a driver date value (string or time.Time) as
// YYYY-MM-DD so values from different drivers compare equal.
func NormalizeDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.DateOnly)
	case string:
		s := strings.TrimSpace(t)
		if len(s) >= 10 {
			if d, err := time.Parse(time.DateOnly, s[:10]); err == nil {
				return d.Format(time.DateOnly)
			}
		}
		return s
	case []byte:
		return NormalizeDate(string(t))
	case nil:
		return ""
	default:
		return ""
	}
}
