package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	prand "math/rand"
	"time"

	"github.com/roasbeef/otpwatch/internal/db"
	"github.com/roasbeef/otpwatch/internal/record"
)

const (
	// defaultNumRetries is the number of times a statement is retried
	// when it fails with an error that permits repetition (busy/locked).
	defaultNumRetries = 10

	// defaultInitialRetryDelay is the base delay between retries. The
	// actual delay is randomized between 50% and 150% of this value and
	// doubled for each attempt, so concurrently created callers don't
	// retry in lockstep.
	defaultInitialRetryDelay = time.Millisecond * 40

	// defaultMaxRetryDelay caps the per-attempt retry delay.
	defaultMaxRetryDelay = time.Second * 3
)

// ErrRetriesExceeded is returned when a statement is retried more than the
// max allowed value without a success.
var ErrRetriesExceeded = errors.New("db retries exceeded")

// SQLStore implements RecordStore on top of the SQLite database.
type SQLStore struct {
	db  *sql.DB
	log *slog.Logger

	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

// A compile-time assertion that SQLStore satisfies the RecordStore interface.
var _ RecordStore = (*SQLStore)(nil)

// NewSQLStore creates a RecordStore backed by the given database connection.
func NewSQLStore(database *sql.DB, log *slog.Logger) *SQLStore {
	return &SQLStore{
		db:                database,
		log:               log,
		numRetries:        defaultNumRetries,
		initialRetryDelay: defaultInitialRetryDelay,
		maxRetryDelay:     defaultMaxRetryDelay,
	}
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// randRetryDelay returns a random retry delay between 50% and 150% of the
// initial delay, doubled for each attempt and capped at the max value.
func (s *SQLStore) randRetryDelay(attempt int) time.Duration {
	halfDelay := s.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(s.initialRetryDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	if attempt == 0 {
		return initialDelay
	}

	// Doubling n times is the same as multiplying by 2^n. Limit the
	// exponent to avoid overflow.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	actualDelay := initialDelay * factor //nolint:durationcheck

	if actualDelay > s.maxRetryDelay {
		return s.maxRetryDelay
	}

	return actualDelay
}

// exec runs fn, retrying with a randomized doubling backoff whenever the
// database reports a busy/locked style serialization error.
func (s *SQLStore) exec(ctx context.Context, op string,
	fn func() error) error {

	for i := 0; i < s.numRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		dbErr := db.MapSQLError(err)
		if !db.IsSerializationError(dbErr) {
			return dbErr
		}

		retryDelay := s.randRetryDelay(i)
		s.log.DebugContext(ctx, "Retrying statement after "+
			"serialization error",
			"op", op,
			"attempt_number", i,
			"delay", retryDelay,
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

// InsertIfNew atomically persists the record unless a row with the same
// fingerprint already exists. The primary key constraint on fingerprint is
// the sole gate, so the contract holds under concurrent callers.
func (s *SQLStore) InsertIfNew(ctx context.Context,
	rec record.Record) (InsertResult, error) {

	result := Inserted

	err := s.exec(ctx, "insert_if_new", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO records (
				fingerprint, sender, payload, observed_at,
				delivered, delivery_attempts
			) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Fingerprint, rec.Sender, rec.Payload,
			rec.ObservedAt.Unix(), boolToInt(rec.Delivered),
			rec.DeliveryAttempts,
		)
		return err
	})
	if err != nil {
		if db.IsUniqueConstraintError(err) {
			return AlreadyPresent, nil
		}

		return 0, storeErr("insert_if_new", err)
	}

	return result, nil
}

// MarkDelivered updates the delivery bookkeeping for a fingerprint. Unknown
// fingerprints are a deliberate no-op.
func (s *SQLStore) MarkDelivered(ctx context.Context, fingerprint string,
	outcome DeliveryOutcome) error {

	err := s.exec(ctx, "mark_delivered", func() error {
		// delivered is sticky: once set it is never cleared by a
		// later failed attempt.
		_, err := s.db.ExecContext(ctx, `
			UPDATE records
			SET delivered = MAX(delivered, ?),
			    delivery_attempts = delivery_attempts + 1
			WHERE fingerprint = ?`,
			boolToInt(outcome.Delivered), fingerprint,
		)
		return err
	})
	if err != nil {
		return storeErr("mark_delivered", err)
	}

	return nil
}

// GetRecord returns the record with the given fingerprint.
func (s *SQLStore) GetRecord(ctx context.Context,
	fingerprint string) (record.Record, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, sender, payload, observed_at, delivered,
		       delivery_attempts
		FROM records WHERE fingerprint = ?`, fingerprint,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, ErrRecordNotFound
		}

		return record.Record{}, storeErr("get_record", err)
	}

	return rec, nil
}

// ListRecent returns up to limit records ordered by observation time
// descending.
func (s *SQLStore) ListRecent(ctx context.Context,
	limit int) ([]record.Record, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, sender, payload, observed_at, delivered,
		       delivery_attempts
		FROM records
		ORDER BY observed_at DESC, fingerprint
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storeErr("list_recent", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("list_recent", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list_recent", err)
	}

	return records, nil
}

// GetLatest returns the most recently observed record.
func (s *SQLStore) GetLatest(ctx context.Context) (record.Record, error) {
	records, err := s.ListRecent(ctx, 1)
	if err != nil {
		return record.Record{}, err
	}
	if len(records) == 0 {
		return record.Record{}, ErrRecordNotFound
	}

	return records[0], nil
}

// PruneOlderThan deletes rows observed strictly before the horizon and
// returns the number deleted.
func (s *SQLStore) PruneOlderThan(ctx context.Context,
	horizon time.Time) (int64, error) {

	var deleted int64

	err := s.exec(ctx, "prune_older_than", func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM records WHERE observed_at < ?",
			horizon.Unix(),
		)
		if err != nil {
			return err
		}

		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storeErr("prune_older_than", err)
	}

	return deleted, nil
}

// CountRecords returns the total number of stored records.
func (s *SQLStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM records",
	).Scan(&count)
	if err != nil {
		return 0, storeErr("count_records", err)
	}

	return count, nil
}

// GetState reads a persisted key/value state entry.
func (s *SQLStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(
		ctx, "SELECT value FROM engine_state WHERE key = ?", key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", storeErr("get_state", err)
	}

	return value, nil
}

// SetState upserts a persisted key/value state entry.
func (s *SQLStore) SetState(ctx context.Context, key, value string) error {
	err := s.exec(ctx, "set_state", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO engine_state (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			key, value, time.Now().Unix(),
		)
		return err
	})
	if err != nil {
		return storeErr("set_state", err)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one records row into a record.Record.
func scanRecord(row rowScanner) (record.Record, error) {
	var (
		rec        record.Record
		observedAt int64
		delivered  int64
	)

	err := row.Scan(
		&rec.Fingerprint, &rec.Sender, &rec.Payload, &observedAt,
		&delivered, &rec.DeliveryAttempts,
	)
	if err != nil {
		return record.Record{}, err
	}

	rec.ObservedAt = time.Unix(observedAt, 0).UTC()
	rec.Delivered = delivered != 0

	return rec, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
