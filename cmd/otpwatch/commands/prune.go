package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneDays int

// pruneCmd deletes records older than the retention window.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than the given number of days",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if pruneDays < 1 {
			return fmt.Errorf("--days must be positive, got %d",
				pruneDays)
		}

		recordStore, err := openStore()
		if err != nil {
			return err
		}
		defer recordStore.Close()

		horizon := time.Now().UTC().Add(
			-time.Duration(pruneDays) * 24 * time.Hour,
		)

		deleted, err := recordStore.PruneOlderThan(
			cmd.Context(), horizon,
		)
		if err != nil {
			return err
		}

		fmt.Printf("deleted %d record(s) observed before %s\n",
			deleted, horizon.Format("2006-01-02 15:04:05 MST"))

		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVar(
		&pruneDays, "days", 30,
		"Delete records older than this many days",
	)
}
