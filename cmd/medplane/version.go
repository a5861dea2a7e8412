// nolint: errcheck
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medplane/medplane/internal/app/ingestor"
)

// NewVersionCommand print the ingestor version
func NewVersionCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "version",
		Short: "Get medplane's version",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(ingestor.Version) },
	}
	return cmd
}
