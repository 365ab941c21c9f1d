// Package main is the entry point for studioctl.
// studioctl is the operator tool for the studio's internal API.
package main

import (
	"os"

	"moltstudio/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
