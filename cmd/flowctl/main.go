// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowctl inspects and maintains flow caches and runs a demo flow.
//
// Usage:
//
//	flowctl cache ls [--entity NAME] [--json]
//	flowctl cache show KEY-PREFIX
//	flowctl cache rm KEY...
//	flowctl cache prune [--entity NAME] [--corrupt]
//	flowctl cache watch
//	flowctl demo [--values 1,2,3] [--offsets 1,2] [--dot] [--vertical]
//
// Settings come from --config (YAML) and FLOW_CACHE_DIR, FLOW_CACHE_BACKEND
// and FLOW_WORKERS.
package main

import (
	"os"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
