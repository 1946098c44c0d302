package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roasbeef/otpwatch/internal/store"
)

// latestCmd shows the most recently observed record.
var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recently observed record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		recordStore, err := openStore()
		if err != nil {
			return err
		}
		defer recordStore.Close()

		rec, err := recordStore.GetLatest(cmd.Context())
		if errors.Is(err, store.ErrRecordNotFound) {
			fmt.Println("no records")
			return nil
		}
		if err != nil {
			return err
		}

		printRecord(rec)

		return nil
	},
}
