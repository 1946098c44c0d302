package commands

import (
	"github.com/spf13/cobra"
)

var (
	// dbPath is the path to the SQLite database.
	dbPath string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "otpwatch",
	Short: "Inspect the otpwatch record store",
	Long: `otpwatch is the offline companion to otpwatchd.

It reads the daemon's database directly, so records can be listed, inspected
and pruned without going through the Telegram control channel.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&dbPath, "db", "",
		"Path to SQLite database (default: ~/.otpwatch/otpwatch.db)",
	)

	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(versionCmd)
}
