package main

import (
	"os"

	"github.com/wonny/tally/cmd/tally/commands"
)

// main is the entry point for the tally CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/tally [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
