package main

import (
	"os"

	"github.com/Iron-Ham/herd/internal/cmd"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)

	// Errors are printed by cobra; exit nonzero so scripts can tell
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
