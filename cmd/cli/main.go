// Package main is the entry point for the duckflow CLI binary.
package main

import (
	"os"

	"duckflow/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
