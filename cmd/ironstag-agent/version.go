package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Populated at release build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s %s\n", bold("ironstag-agent"), version)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
