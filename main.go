package main

import (
	"os"

	"github.com/matrixise/holder-snapshot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
