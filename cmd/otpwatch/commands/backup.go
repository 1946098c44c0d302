package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roasbeef/otpwatch/internal/db"
)

// backupCmd creates an online backup of the database file.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create an online backup of the database",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := dbPath
		if path == "" {
			var err error
			path, err = db.DefaultDBPath()
			if err != nil {
				return err
			}
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		database, err := db.Open(path, logger)
		if err != nil {
			return fmt.Errorf("unable to open database at %s: %w",
				path, err)
		}
		defer database.Close()

		return db.Backup(database, path, logger)
	},
}
