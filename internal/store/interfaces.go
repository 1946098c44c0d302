package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roasbeef/otpwatch/internal/record"
)

// ErrStoreUnavailable wraps any I/O failure against the durable medium. The
// scheduler treats it as a tick failure, never as "no new records".
var ErrStoreUnavailable = errors.New("record store unavailable")

// ErrRecordNotFound is returned by lookups that require a row to exist.
var ErrRecordNotFound = errors.New("record not found")

// InsertResult reports the outcome of an insert-if-absent call.
type InsertResult int

const (
	// Inserted means the record was not previously known and has been
	// persisted.
	Inserted InsertResult = iota

	// AlreadyPresent means a row with the same fingerprint already
	// existed; the call was a no-op.
	AlreadyPresent
)

// String returns a human-readable name for the insert result.
func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// DeliveryOutcome is the per-attempt result recorded against a fingerprint.
type DeliveryOutcome struct {
	// Delivered is true if at least one endpoint acknowledged the
	// delivery attempt.
	Delivered bool
}

// RecordStore is the durable table of previously seen records and their
// fingerprints. InsertIfNew is the correctness boundary against duplicate
// delivery and must hold under concurrent callers.
type RecordStore interface {
	// InsertIfNew atomically persists the record unless a row with the
	// same fingerprint already exists. Fingerprint uniqueness is the sole
	// gate.
	InsertIfNew(ctx context.Context, rec record.Record) (InsertResult, error)

	// MarkDelivered updates the delivery bookkeeping for a fingerprint.
	// An unknown fingerprint is a no-op, not an error.
	MarkDelivered(ctx context.Context, fingerprint string,
		outcome DeliveryOutcome) error

	// GetRecord returns the record with the given fingerprint, or
	// ErrRecordNotFound.
	GetRecord(ctx context.Context, fingerprint string) (record.Record, error)

	// ListRecent returns up to limit records ordered by observation time
	// descending.
	ListRecent(ctx context.Context, limit int) ([]record.Record, error)

	// GetLatest returns the most recently observed record, or
	// ErrRecordNotFound when the store is empty.
	GetLatest(ctx context.Context) (record.Record, error)

	// PruneOlderThan deletes rows observed before the horizon and
	// returns the number deleted.
	PruneOlderThan(ctx context.Context, horizon time.Time) (int64, error)

	// CountRecords returns the total number of stored records.
	CountRecords(ctx context.Context) (int64, error)

	// GetState reads a persisted key/value state entry. Missing keys
	// return ("", nil).
	GetState(ctx context.Context, key string) (string, error)

	// SetState upserts a persisted key/value state entry.
	SetState(ctx context.Context, key, value string) error
}

// storeErr wraps an underlying database error as a StoreUnavailable failure.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
