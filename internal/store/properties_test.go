package store

import (
	"context"
	"testing"
	"time"

	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestInsertIfNewProperties checks, for arbitrary batches of raw records,
// that the row count always equals the number of distinct fingerprints and
// that replaying the whole batch never inserts anything new.
func TestInsertIfNewProperties(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		sender := rapid.StringMatching(`[A-Z]{3,8}`).Draw(rt, "sender")
		messages := rapid.SliceOfN(
			rapid.StringMatching(`code [0-9]{4,8}`), 1, 20,
		).Draw(rt, "messages")

		observedAt := time.Unix(1700000000, 0).UTC()

		distinct := make(map[string]struct{})
		for _, msg := range messages {
			rec := record.FromRaw(record.RawRecord{
				Sender:  sender,
				Message: msg,
			}, observedAt)

			res, err := store.InsertIfNew(ctx, rec)
			require.NoError(rt, err)

			_, seen := distinct[rec.Fingerprint]
			if seen {
				require.Equal(rt, AlreadyPresent, res)
			}
			distinct[rec.Fingerprint] = struct{}{}
		}

		// Replaying the batch must be a pure no-op.
		for _, msg := range messages {
			rec := record.FromRaw(record.RawRecord{
				Sender:  sender,
				Message: msg,
			}, observedAt)

			res, err := store.InsertIfNew(ctx, rec)
			require.NoError(rt, err)
			require.Equal(rt, AlreadyPresent, res)
		}

		// Each iteration reuses the same store, so the global count can
		// only grow. Reset to a known state by pruning everything.
		count, err := store.CountRecords(ctx)
		require.NoError(rt, err)
		require.GreaterOrEqual(rt, count, int64(len(distinct)))

		_, err = store.PruneOlderThan(ctx, observedAt.Add(time.Hour))
		require.NoError(rt, err)
	})
}
