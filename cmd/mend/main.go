// Package main provides the entry point for the mend CLI.
package main

import (
	"os"

	"github.com/randalmurphal/mend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
