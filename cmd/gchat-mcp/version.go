// ABOUTME: version command
// ABOUTME: Skips configuration so it works with a broken environment

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  noArgs,

		// Overrides the root setup.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "gchat-mcp version %s\n", version)
		},
	}
}
