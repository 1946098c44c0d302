package engine

import (
	"context"
	"testing"
	"time"

	"github.com/roasbeef/otpwatch/internal/fetch"
	"github.com/roasbeef/otpwatch/internal/notify"
	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/roasbeef/otpwatch/internal/session"
	"github.com/roasbeef/otpwatch/internal/store"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine   *Engine
	adapter  *scriptedAdapter
	endpoint *countingEndpoint
	store    *store.MockStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	log := discardLog()
	adapter := &scriptedAdapter{}
	endpoint := &countingEndpoint{}
	mock := store.NewMockStore()

	sessions := session.NewController(adapter, session.Config{}, log)
	fanout := notify.NewFanout([]notify.Endpoint{endpoint}, log)

	// The loop's own first tick is pushed far out so the forced ticks
	// below are the only ones that run.
	cfg := Config{Scheduler: SchedulerConfig{InitialDelay: time.Hour}}
	eng := New(cfg, sessions, adapter, mock, fanout, log)

	return &engineFixture{
		engine:   eng,
		adapter:  adapter,
		endpoint: endpoint,
		store:    mock,
	}
}

// TestEngineLifecycle walks the whole facade: start, tick, status, replay,
// stop, with counters restored from and flushed back to the store.
func TestEngineLifecycle(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	// A previous run left lifetime counters behind.
	require.NoError(t, f.store.SetState(ctx, "observed_total", "10"))
	require.NoError(t, f.store.SetState(ctx, "delivered_total", "9"))

	// Nothing works before Start.
	require.ErrorIs(t, f.engine.ForceTick(ctx), ErrNotStarted)
	require.ErrorIs(t, f.engine.Stop(ctx), ErrNotStarted)

	require.NoError(t, f.engine.Start(ctx))
	require.ErrorIs(t, f.engine.Start(ctx), ErrAlreadyStarted)

	status := f.engine.Status()
	require.Equal(t, RunStateRunning, status.RunState)
	require.Equal(t, "unauthenticated", status.SessionState)
	require.EqualValues(t, 10, status.ObservedTotal)
	require.EqualValues(t, 9, status.DeliveredTotal)
	require.True(t, status.StartedAt.IsSome())

	// One forced tick observes and delivers a record.
	f.adapter.steps = []fetchStep{
		{recs: []record.RawRecord{
			{Sender: "ACME", Message: "code 111111"},
		}},
	}
	require.NoError(t, f.engine.ForceTick(ctx))

	status = f.engine.Status()
	require.Equal(t, "authenticated", status.SessionState)
	require.EqualValues(t, 11, status.ObservedTotal)
	require.EqualValues(t, 10, status.DeliveredTotal)

	latest, err := f.engine.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, "code 111111", latest.Payload)
	require.True(t, latest.Delivered)

	recent, err := f.engine.ListRecent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	// Replay sends the latest record again without touching dedup.
	replayed, err := f.engine.Replay(ctx, "")
	require.NoError(t, err)
	require.Equal(t, latest.Fingerprint, replayed.Fingerprint)
	require.Len(t, f.endpoint.sent(), 2)

	require.NoError(t, f.engine.Stop(ctx))
	require.Equal(t, RunStateStopped, f.engine.Status().RunState)

	// Stop flushed the lifetime counters.
	observed, err := f.store.GetState(ctx, "observed_total")
	require.NoError(t, err)
	require.Equal(t, "11", observed)
	delivered, err := f.store.GetState(ctx, "delivered_total")
	require.NoError(t, err)
	require.Equal(t, "10", delivered)
}

// TestEngineReplayByFingerprint asserts replay of a specific stored record
// and the not-found path.
func TestEngineReplayByFingerprint(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	defer func() {
		require.NoError(t, f.engine.Stop(ctx))
	}()

	f.adapter.steps = []fetchStep{
		{recs: []record.RawRecord{
			{Sender: "ACME", Message: "code 111111"},
			{Sender: "ACME", Message: "code 222222"},
		}},
	}
	require.NoError(t, f.engine.ForceTick(ctx))

	recent, err := f.engine.ListRecent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	target := recent[1]
	replayed, err := f.engine.Replay(ctx, target.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, target.Fingerprint, replayed.Fingerprint)

	_, err = f.engine.Replay(ctx, "missing")
	require.ErrorIs(t, err, store.ErrRecordNotFound)
}

// TestEngineResumeAfterHalt asserts the operator resume path through the
// facade.
func TestEngineResumeAfterHalt(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	defer func() {
		require.NoError(t, f.engine.Stop(ctx))
	}()

	require.ErrorIs(t, f.engine.Resume(ctx), ErrNotHalted)

	f.adapter.setLoginErr(fetch.ErrCredentialsRejected)
	require.Error(t, f.engine.ForceTick(ctx))
	require.Equal(t, RunStateHalted, f.engine.Status().RunState)

	f.adapter.setLoginErr(nil)
	require.NoError(t, f.engine.Resume(ctx))
	require.Equal(t, RunStateRunning, f.engine.Status().RunState)
	require.NoError(t, f.engine.ForceTick(ctx))
}
