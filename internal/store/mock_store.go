package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roasbeef/otpwatch/internal/record"
)

// MockStore is an in-memory RecordStore used in tests and as the backing
// store for throwaway runs. All methods are safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	records map[string]record.Record
	state   map[string]string

	// FailWith, when set, is returned by every method to simulate an
	// unavailable backing medium.
	FailWith error
}

var _ RecordStore = (*MockStore)(nil)

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]record.Record),
		state:   make(map[string]string),
	}
}

// InsertIfNew persists the record unless its fingerprint is already known.
func (m *MockStore) InsertIfNew(_ context.Context,
	rec record.Record) (InsertResult, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return 0, m.FailWith
	}

	if _, ok := m.records[rec.Fingerprint]; ok {
		return AlreadyPresent, nil
	}

	m.records[rec.Fingerprint] = rec

	return Inserted, nil
}

// MarkDelivered updates delivery bookkeeping. Unknown fingerprints are a
// no-op.
func (m *MockStore) MarkDelivered(_ context.Context, fingerprint string,
	outcome DeliveryOutcome) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	rec, ok := m.records[fingerprint]
	if !ok {
		return nil
	}

	rec.Delivered = rec.Delivered || outcome.Delivered
	rec.DeliveryAttempts++
	m.records[fingerprint] = rec

	return nil
}

// GetRecord returns the record with the given fingerprint.
func (m *MockStore) GetRecord(_ context.Context,
	fingerprint string) (record.Record, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return record.Record{}, m.FailWith
	}

	rec, ok := m.records[fingerprint]
	if !ok {
		return record.Record{}, ErrRecordNotFound
	}

	return rec, nil
}

// ListRecent returns up to limit records, most recently observed first.
func (m *MockStore) ListRecent(_ context.Context,
	limit int) ([]record.Record, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return nil, m.FailWith
	}

	records := make([]record.Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].ObservedAt.Equal(records[j].ObservedAt) {
			return records[i].ObservedAt.After(records[j].ObservedAt)
		}
		return records[i].Fingerprint < records[j].Fingerprint
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// GetLatest returns the most recently observed record.
func (m *MockStore) GetLatest(ctx context.Context) (record.Record, error) {
	records, err := m.ListRecent(ctx, 1)
	if err != nil {
		return record.Record{}, err
	}
	if len(records) == 0 {
		return record.Record{}, ErrRecordNotFound
	}

	return records[0], nil
}

// PruneOlderThan deletes records observed before the horizon.
func (m *MockStore) PruneOlderThan(_ context.Context,
	horizon time.Time) (int64, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return 0, m.FailWith
	}

	var deleted int64
	for fp, rec := range m.records {
		if rec.ObservedAt.Before(horizon) {
			delete(m.records, fp)
			deleted++
		}
	}

	return deleted, nil
}

// CountRecords returns the number of stored records.
func (m *MockStore) CountRecords(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return 0, m.FailWith
	}

	return int64(len(m.records)), nil
}

// GetState reads a key/value entry. Missing keys return ("", nil).
func (m *MockStore) GetState(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return "", m.FailWith
	}

	return m.state[key], nil
}

// SetState upserts a key/value entry.
func (m *MockStore) SetState(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	m.state[key] = value

	return nil
}
