// Package main provides the entry point for the kbd CLI.
package main

import (
	"os"

	"github.com/pieceproject/kbd/cmd/kbd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
