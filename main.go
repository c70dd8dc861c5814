// SPDX-License-Identifier: MIT
package main

import (
	"cardio/cmd"
	"cardio/pkg/build"
	"fmt"
	"os"

	applog "cardio/internal/log"
)

// main runs the command line. Missing build metadata is not fatal; the
// fields fall back to what the toolchain recorded.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Debugf("Build metadata incomplete: %v", err)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.GetBuildFlags().Name, err)
		os.Exit(1)
	}
}
