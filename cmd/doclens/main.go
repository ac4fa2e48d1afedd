// Package main provides the entry point for the doclens CLI.
package main

import (
	"os"

	"github.com/doclens/doclens/cmd/doclens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
