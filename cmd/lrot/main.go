// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lrot is the operator CLI for lrot-server.
//
// Usage:
//
//	lrot functions
//	lrot status --date 2025-04-03 [--table outflow]
//	lrot variance --date1 2025-04-02 --date2 2025-04-03 [--products FX,IRS]
//	lrot remaining
//	lrot sync --type MDU --ids 101,102
//	lrot call get_6g_status --args '{"cob_date":"2025-04-03"}'
//
// The server address comes from --server or LROT_SERVER_URL.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
