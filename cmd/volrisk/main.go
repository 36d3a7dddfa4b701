package main

import (
	"os"

	"github.com/rustyeddy/volrisk/cmd/volrisk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
