package main

import (
	"os"

	"github.com/altinn/process-engine/cmd/enginectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
