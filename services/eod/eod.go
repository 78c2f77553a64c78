// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eod reports time left until the business end of day.
package eod

import (
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultTimezone = "America/New_York"
	DefaultHour     = 17
)

// reportLayout includes the zone abbreviation, e.g. "2025-04-03 14:30:00 EDT".
const reportLayout = "2006-01-02 15:04:05 MST"

// Remaining is the time_remaining result.
type Remaining struct {
	CurrentTime      string `json:"current_time"`
	EODTime          string `json:"eod_time"`
	HoursRemaining   int    `json:"hours_remaining"`
	MinutesRemaining int    `json:"minutes_remaining"`
	Message          string `json:"message"`
}

// Clock computes Remaining against a fixed end-of-day hour.
type Clock struct {
	loc  *time.Location
	hour int
	now  func() time.Time
}

// NewClock builds a Clock. An empty timezone uses DefaultTimezone; a nil
// now uses time.Now.
func NewClock(timezone string, hour int, now func() time.Time) (*Clock, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("eod timezone %q: %w", timezone, err)
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("eod hour %d out of range 0-23", hour)
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{loc: loc, hour: hour, now: now}, nil
}

// Remaining returns the time left today. Past EOD both counts are 0.
func (c *Clock) Remaining() Remaining {
	now := c.now().In(c.loc)
	eod := time.Date(now.Year(), now.Month(), now.Day(), c.hour, 0, 0, 0, c.loc)

	r := Remaining{
		CurrentTime: now.Format(reportLayout),
		EODTime:     eod.Format(reportLayout),
		Message:     "Have a nice day!",
	}
	if now.Before(eod) {
		left := eod.Sub(now)
		r.HoursRemaining = int(left / time.Hour)
		r.MinutesRemaining = int((left % time.Hour) / time.Minute)
	}
	return r
}
