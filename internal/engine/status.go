package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/otpwatch/internal/store"
)

// RunState is the coarse lifecycle state of the engine.
type RunState int

const (
	// RunStateStopped means the engine has not started or has shut down.
	RunStateStopped RunState = iota

	// RunStateRunning means the poll loop is live.
	RunStateRunning

	// RunStateHalted means the engine hit a fatal condition and parked
	// itself. Resume is required to continue.
	RunStateHalted
)

// String returns a human-readable name for the run state.
func (r RunState) String() string {
	switch r {
	case RunStateStopped:
		return "stopped"
	case RunStateRunning:
		return "running"
	case RunStateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// State keys for the counters that survive restarts.
const (
	stateKeyObservedTotal  = "observed_total"
	stateKeyDeliveredTotal = "delivered_total"
	stateKeyFailedTotal    = "failed_total"
)

// Status is a point-in-time snapshot of the engine.
type Status struct {
	// EngineID identifies this engine instance. It changes on every
	// start, which makes heartbeats from a bounced process easy to spot.
	EngineID uuid.UUID

	// RunState is the coarse lifecycle state.
	RunState RunState

	// SessionState names the current session lifecycle state.
	SessionState string

	// StartedAt is when Start was called.
	StartedAt fn.Option[time.Time]

	// LastTickAt is when the last tick of any outcome finished.
	LastTickAt fn.Option[time.Time]

	// LastSuccessAt is when the last fully successful tick finished.
	LastSuccessAt fn.Option[time.Time]

	// HaltReason describes why the engine halted, when it did.
	HaltReason fn.Option[string]

	// ConsecutiveFailures counts failed ticks since the last success.
	ConsecutiveFailures int

	// LastError describes the most recent tick failure. It clears on the
	// next successful tick and on resume.
	LastError fn.Option[string]

	// ObservedTotal counts novel records observed over the store's
	// lifetime, including previous runs.
	ObservedTotal int64

	// DeliveredTotal counts records delivered over the store's lifetime,
	// including previous runs.
	DeliveredTotal int64

	// FailedTotal counts records that reached no endpoint over the
	// store's lifetime, including previous runs.
	FailedTotal int64
}

// statusTracker accumulates the mutable status fields behind one mutex.
type statusTracker struct {
	mu sync.Mutex

	engineID      uuid.UUID
	runState      RunState
	startedAt     fn.Option[time.Time]
	lastTickAt    fn.Option[time.Time]
	lastSuccessAt fn.Option[time.Time]
	haltReason    fn.Option[string]
	lastError     fn.Option[string]

	consecutiveFailures int
	observedTotal       int64
	deliveredTotal      int64
	failedTotal         int64
}

func newStatusTracker() *statusTracker {
	return &statusTracker{
		engineID:      uuid.New(),
		startedAt:     fn.None[time.Time](),
		lastTickAt:    fn.None[time.Time](),
		lastSuccessAt: fn.None[time.Time](),
		haltReason:    fn.None[string](),
		lastError:     fn.None[string](),
	}
}

// restore loads the lifetime counters persisted by a previous run.
func (t *statusTracker) restore(ctx context.Context,
	recordStore store.RecordStore) error {

	observed, err := readCounter(ctx, recordStore, stateKeyObservedTotal)
	if err != nil {
		return err
	}
	delivered, err := readCounter(ctx, recordStore, stateKeyDeliveredTotal)
	if err != nil {
		return err
	}
	failed, err := readCounter(ctx, recordStore, stateKeyFailedTotal)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.observedTotal = observed
	t.deliveredTotal = delivered
	t.failedTotal = failed

	return nil
}

// persist writes the lifetime counters back to the store.
func (t *statusTracker) persist(ctx context.Context,
	recordStore store.RecordStore) error {

	t.mu.Lock()
	observed := t.observedTotal
	delivered := t.deliveredTotal
	failed := t.failedTotal
	t.mu.Unlock()

	err := recordStore.SetState(
		ctx, stateKeyObservedTotal, strconv.FormatInt(observed, 10),
	)
	if err != nil {
		return err
	}

	err = recordStore.SetState(
		ctx, stateKeyDeliveredTotal, strconv.FormatInt(delivered, 10),
	)
	if err != nil {
		return err
	}

	return recordStore.SetState(
		ctx, stateKeyFailedTotal, strconv.FormatInt(failed, 10),
	)
}

func readCounter(ctx context.Context, recordStore store.RecordStore,
	key string) (int64, error) {

	raw, err := recordStore.GetState(ctx, key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}

	return strconv.ParseInt(raw, 10, 64)
}

func (t *statusTracker) markStarted(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runState = RunStateRunning
	t.startedAt = fn.Some(now)
	t.haltReason = fn.None[string]()
}

func (t *statusTracker) markStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runState = RunStateStopped
}

func (t *statusTracker) markHalted(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runState = RunStateHalted
	t.haltReason = fn.Some(reason)
}

func (t *statusTracker) markResumed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runState = RunStateRunning
	t.haltReason = fn.None[string]()
	t.lastError = fn.None[string]()
	t.consecutiveFailures = 0
}

// noteTick records the outcome of one tick and returns the new consecutive
// failure count. A nil tickErr marks the tick successful and clears the
// sticky last error.
func (t *statusTracker) noteTick(now time.Time, tickErr error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastTickAt = fn.Some(now)
	if tickErr == nil {
		t.lastSuccessAt = fn.Some(now)
		t.lastError = fn.None[string]()
		t.consecutiveFailures = 0
	} else {
		t.lastError = fn.Some(tickErr.Error())
		t.consecutiveFailures++
	}

	return t.consecutiveFailures
}

func (t *statusTracker) noteObserved(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.observedTotal += int64(n)
}

func (t *statusTracker) noteDelivered(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deliveredTotal += int64(n)
}

func (t *statusTracker) noteFailed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failedTotal += int64(n)
}

func (t *statusTracker) runStateNow() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.runState
}

func (t *statusTracker) failuresNow() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.consecutiveFailures
}

// snapshot returns a copy of the current status. The session state is filled
// in by the caller, which owns the session controller.
func (t *statusTracker) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Status{
		EngineID:            t.engineID,
		RunState:            t.runState,
		StartedAt:           t.startedAt,
		LastTickAt:          t.lastTickAt,
		LastSuccessAt:       t.lastSuccessAt,
		HaltReason:          t.haltReason,
		ConsecutiveFailures: t.consecutiveFailures,
		LastError:           t.lastError,
		ObservedTotal:       t.observedTotal,
		DeliveredTotal:      t.deliveredTotal,
		FailedTotal:         t.failedTotal,
	}
}
