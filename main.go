package main

import (
	"fmt"
	"os"

	"github.com/agentx-labs/stackforge/internal/cli"
	"github.com/agentx-labs/stackforge/internal/faults"
)

// version, commit, and date are set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		if !faults.IsSilent(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(faults.ExitCode(err))
	}
}
