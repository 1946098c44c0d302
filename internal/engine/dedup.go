package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/roasbeef/otpwatch/internal/store"
)

// Deduplicator decides which raw records in a fetched batch are genuinely
// new. The record store's insert-if-absent is the only gate, so the decision
// survives restarts and concurrent ticks.
type Deduplicator struct {
	store store.RecordStore
	log   *slog.Logger
}

// NewDeduplicator creates a deduplicator over the given store.
func NewDeduplicator(recordStore store.RecordStore,
	log *slog.Logger) *Deduplicator {

	return &Deduplicator{
		store: recordStore,
		log:   log,
	}
}

// FilterNovel fingerprints the batch, drops within-batch duplicates, and
// persists each remaining record via insert-if-absent. Only records that
// actually inserted are returned, already persisted and therefore safe to
// hand to delivery. Any store failure aborts the whole batch; a partial
// result would let the caller notify for records it cannot account for.
func (d *Deduplicator) FilterNovel(ctx context.Context,
	raws []record.RawRecord,
	observedAt time.Time) ([]record.Record, error) {

	seen := make(map[string]struct{}, len(raws))
	var novel []record.Record

	for _, raw := range raws {
		rec := record.FromRaw(raw, observedAt)

		// The upstream page frequently renders the same message
		// twice; collapse those before touching the store.
		if _, ok := seen[rec.Fingerprint]; ok {
			continue
		}
		seen[rec.Fingerprint] = struct{}{}

		res, err := d.store.InsertIfNew(ctx, rec)
		if err != nil {
			return nil, err
		}

		if res == store.AlreadyPresent {
			continue
		}

		d.log.InfoContext(ctx, "Observed new record",
			"fingerprint", rec.Fingerprint[:12],
			"sender", rec.Sender,
		)

		novel = append(novel, rec)
	}

	return novel, nil
}
