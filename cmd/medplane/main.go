package main

import (
	"os"
)

func main() {
	cmd := NewIngestorCommand()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
