// Package main is the queryx command.
package main

import (
	"os"

	"github.com/leapstack-labs/queryx/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
