package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recentLimit int

// recentCmd lists the most recently observed records.
var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently observed records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		recordStore, err := openStore()
		if err != nil {
			return err
		}
		defer recordStore.Close()

		records, err := recordStore.ListRecent(
			cmd.Context(), recentLimit,
		)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("no records")
			return nil
		}

		for i, rec := range records {
			if i > 0 {
				fmt.Println()
			}
			printRecord(rec)
		}

		return nil
	},
}

func init() {
	recentCmd.Flags().IntVarP(
		&recentLimit, "limit", "n", 10,
		"Maximum number of records to list",
	)
}
