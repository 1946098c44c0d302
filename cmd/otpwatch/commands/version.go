package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/roasbeef/otpwatch/internal/build"
)

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("otpwatch version %s", build.Version())

		if commit := build.CommitHash(); commit != "" {
			fmt.Printf(" commit=%s", commit)
		}

		fmt.Printf(" go=%s\n", runtime.Version())
	},
}
