// Package main provides the matchday command: a local host for the offline
// sync core. It serves the control API for desktop clients and exposes the
// sync operations as one-shot subcommands.
package main

import (
	"os"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
