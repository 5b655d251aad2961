// Command raina is the entry point for the RAINA retrieval-augmented
// assistant over a Persian document corpus. It provides the full pipeline
// as Cobra subcommands: transform, ingest, check, ask.
package main

import (
	"fmt"
	"os"

	"github.com/SamanBarahoie/RAINA/cmd/raina/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
