// Package main is the entry point for the mixfold application.
package main

import (
	"os"

	"github.com/mixfold/mixfold/cmd/mixfold/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
