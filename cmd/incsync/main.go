// Package main provides the entry point for the incsync CLI.
package main

import (
	"os"

	"github.com/randalmurphal/incsync/internal/cli"
)

func main() {
	ctx, cancel := cli.SetupSignalHandler()
	code := cli.Execute(ctx)
	cancel()
	os.Exit(code)
}
