package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/roasbeef/otpwatch/internal/db"
	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/roasbeef/otpwatch/internal/store"
)

// openStore opens the daemon's database read-write. Migrations run on open,
// so the CLI works against a fresh path too.
func openStore() (*store.SQLStore, error) {
	path := dbPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	database, err := db.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to open database at %s: %w",
			path, err)
	}

	return store.NewSQLStore(database, logger), nil
}

// printRecord renders one record for terminal output.
func printRecord(rec record.Record) {
	delivered := "no"
	if rec.Delivered {
		delivered = "yes"
	}

	fmt.Printf("fingerprint: %s\n", rec.Fingerprint)
	fmt.Printf("sender:      %s\n", rec.Sender)
	fmt.Printf("observed:    %s\n",
		rec.ObservedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("delivered:   %s (attempts: %d)\n",
		delivered, rec.DeliveryAttempts)
	fmt.Printf("message:     %s\n", rec.Payload)
}
