// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eod

import (
	"testing"
	"time"
)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name         string
		now          time.Time
		hours, mins  int
		wantCurrent  string
		wantEODStamp string
	}{
		{
			name:         "morning",
			now:          time.Date(2025, 4, 3, 13, 15, 30, 0, time.UTC), // 09:15:30 EDT
			hours:        7,
			mins:         44,
			wantCurrent:  "2025-04-03 09:15:30 EDT",
			wantEODStamp: "2025-04-03 17:00:00 EDT",
		},
		{
			name:  "one minute before",
			now:   time.Date(2025, 4, 3, 20, 59, 0, 0, time.UTC),
			hours: 0,
			mins:  1,
		},
		{
			name:  "exactly eod",
			now:   time.Date(2025, 4, 3, 21, 0, 0, 0, time.UTC),
			hours: 0,
			mins:  0,
		},
		{
			name:  "after eod",
			now:   time.Date(2025, 4, 3, 23, 30, 0, 0, time.UTC),
			hours: 0,
			mins:  0,
		},
		{
			name:         "winter is EST",
			now:          time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC),
			hours:        7,
			mins:         0,
			wantCurrent:  "2025-01-15 10:00:00 EST",
			wantEODStamp: "2025-01-15 17:00:00 EST",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			c, err := NewClock("", DefaultHour, func() time.Time { return now })
			if err != nil {
				t.Skipf("tzdata unavailable: %v", err)
			}
			r := c.Remaining()
			if r.HoursRemaining != tt.hours || r.MinutesRemaining != tt.mins {
				t.Errorf("remaining = %dh%dm, want %dh%dm", r.HoursRemaining, r.MinutesRemaining, tt.hours, tt.mins)
			}
			if tt.wantCurrent != "" && r.CurrentTime != tt.wantCurrent {
				t.Errorf("CurrentTime = %q, want %q", r.CurrentTime, tt.wantCurrent)
			}
			if tt.wantEODStamp != "" && r.EODTime != tt.wantEODStamp {
				t.Errorf("EODTime = %q, want %q", r.EODTime, tt.wantEODStamp)
			}
			if r.Message != "Have a nice day!" {
				t.Errorf("Message = %q", r.Message)
			}
		})
	}
}

func TestNewClock_Invalid(t *testing.T) {
	if _, err := NewClock("Mars/Olympus", 17, nil); err == nil {
		t.Error("unknown timezone should fail")
	}
	if _, err := NewClock("UTC", 24, nil); err == nil {
		t.Error("hour 24 should fail")
	}
}
