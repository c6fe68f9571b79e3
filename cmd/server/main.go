// Package main is the entry point for the authcore server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main"
// package. Its job here is only to build the cobra command tree and run
// it; all actual logic lives in internal/.
//
// COMMANDS:
//
//	authcore serve            → run the HTTP API
//	authcore migrate up|down|version
//	authcore prune-sessions   → delete expired sessions once
//
// All commands accept --config <file>; every setting can also come from
// AUTHCORE_* environment variables (see internal/config).
package main

import (
	"fmt"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
