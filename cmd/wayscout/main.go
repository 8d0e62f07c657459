package main

import (
	"os"

	"github.com/wayscout-io/wayscout/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
