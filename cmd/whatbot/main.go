// Package main is the entry point of the Whatbot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/whatbot/cmd/whatbot/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		if !commands.IsReported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
