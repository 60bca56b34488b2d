// Package main provides the entry point for the guideline-rag CLI.
package main

import (
	"os"

	"github.com/auditkit/guideline-rag/cmd/guideline-rag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
