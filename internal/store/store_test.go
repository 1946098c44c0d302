package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/roasbeef/otpwatch/internal/db"
	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/stretchr/testify/require"
)

// newTestStore creates an SQLStore backed by a fresh database in a temp
// directory that is cleaned up when the test completes.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	log := slog.New(slog.DiscardHandler)

	database, err := db.Open(dbPath, log)
	require.NoError(t, err)

	store := NewSQLStore(database, log)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// testRecord builds a record with a deterministic fingerprint derived from
// its content.
func testRecord(sender, message string, observedAt time.Time) record.Record {
	return record.FromRaw(record.RawRecord{
		Sender:  sender,
		Message: message,
	}, observedAt)
}

// TestInsertIfNewIdempotent asserts that re-inserting a record with the same
// fingerprint is reported as already present and leaves a single row behind.
func TestInsertIfNewIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(
		"ACME", "Your code is 123456", time.Unix(1700000000, 0).UTC(),
	)

	res, err := store.InsertIfNew(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, Inserted, res)

	// The same fingerprint observed again, even with a different
	// observation time, must not create a second row.
	later := rec
	later.ObservedAt = later.ObservedAt.Add(time.Hour)

	res, err = store.InsertIfNew(ctx, later)
	require.NoError(t, err)
	require.Equal(t, AlreadyPresent, res)

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	// The stored row keeps the first observation time.
	got, err := store.GetRecord(ctx, rec.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, rec.ObservedAt, got.ObservedAt)
}

// TestMarkDelivered asserts that delivery bookkeeping accumulates attempts
// and that the delivered flag is sticky across failed follow-up attempts.
func TestMarkDelivered(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(
		"ACME", "Your code is 123456", time.Unix(1700000000, 0).UTC(),
	)

	_, err := store.InsertIfNew(ctx, rec)
	require.NoError(t, err)

	err = store.MarkDelivered(
		ctx, rec.Fingerprint, DeliveryOutcome{Delivered: true},
	)
	require.NoError(t, err)

	got, err := store.GetRecord(ctx, rec.Fingerprint)
	require.NoError(t, err)
	require.True(t, got.Delivered)
	require.EqualValues(t, 1, got.DeliveryAttempts)

	// A later failed attempt must not clear the delivered flag.
	err = store.MarkDelivered(
		ctx, rec.Fingerprint, DeliveryOutcome{Delivered: false},
	)
	require.NoError(t, err)

	got, err = store.GetRecord(ctx, rec.Fingerprint)
	require.NoError(t, err)
	require.True(t, got.Delivered)
	require.EqualValues(t, 2, got.DeliveryAttempts)
}

// TestMarkDeliveredUnknownFingerprint asserts that marking an unknown
// fingerprint is a no-op rather than an error.
func TestMarkDeliveredUnknownFingerprint(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	err := store.MarkDelivered(
		ctx, "no-such-fingerprint", DeliveryOutcome{Delivered: true},
	)
	require.NoError(t, err)

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

// TestListRecentOrdering asserts that records come back newest first and
// that the limit is honored.
func TestListRecentOrdering(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 5; i++ {
		rec := testRecord(
			"ACME", string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Minute),
		)
		_, err := store.InsertIfNew(ctx, rec)
		require.NoError(t, err)
	}

	records, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i := 1; i < len(records); i++ {
		require.False(
			t, records[i].ObservedAt.After(records[i-1].ObservedAt),
		)
	}

	// The newest record is the last one inserted.
	require.Equal(t, base.Add(4*time.Minute), records[0].ObservedAt)
}

// TestGetLatest asserts the empty store case and the happy path.
func TestGetLatest(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetLatest(ctx)
	require.ErrorIs(t, err, ErrRecordNotFound)

	base := time.Unix(1700000000, 0).UTC()
	older := testRecord("ACME", "older", base)
	newer := testRecord("ACME", "newer", base.Add(time.Minute))

	_, err = store.InsertIfNew(ctx, older)
	require.NoError(t, err)
	_, err = store.InsertIfNew(ctx, newer)
	require.NoError(t, err)

	got, err := store.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, newer.Fingerprint, got.Fingerprint)
}

// TestPruneOlderThan asserts that only rows observed strictly before the
// horizon are removed, and the deleted count is reported.
func TestPruneOlderThan(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 4; i++ {
		rec := testRecord(
			"ACME", string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Hour),
		)
		_, err := store.InsertIfNew(ctx, rec)
		require.NoError(t, err)
	}

	// Horizon exactly at the second row: rows 0 is strictly older, row 1
	// is at the horizon and survives.
	deleted, err := store.PruneOlderThan(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	// Pruning again at the same horizon deletes nothing.
	deleted, err = store.PruneOlderThan(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, deleted)
}

// TestStateRoundTrip asserts the key/value state table semantics: missing
// keys read as empty, and writes overwrite in place.
func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.GetState(ctx, "delivered_total")
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, store.SetState(ctx, "delivered_total", "7"))

	value, err = store.GetState(ctx, "delivered_total")
	require.NoError(t, err)
	require.Equal(t, "7", value)

	require.NoError(t, store.SetState(ctx, "delivered_total", "8"))

	value, err = store.GetState(ctx, "delivered_total")
	require.NoError(t, err)
	require.Equal(t, "8", value)
}
