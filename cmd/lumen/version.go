package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information for the lumen CLI.
// These variables can be overridden at build time via -ldflags.
var (
	// Version is the semantic version of the CLI.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lumen %s\n", labelColor.Sprint(Version))
			if GitCommit != "" {
				fmt.Fprintf(out, "commit %s\n", GitCommit)
			}
			if BuildDate != "" {
				fmt.Fprintf(out, "built %s\n", BuildDate)
			}
			fmt.Fprintf(out, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
