// Package engine ties the session controller, upstream adapter, record
// store, and notification fan-out into the monitoring loop, and exposes the
// small operational surface (status, force tick, resume, replay) the control
// channels build on.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roasbeef/otpwatch/internal/fetch"
	"github.com/roasbeef/otpwatch/internal/notify"
	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/roasbeef/otpwatch/internal/session"
	"github.com/roasbeef/otpwatch/internal/store"
)

// Config aggregates the tunables of the poll loop and the maintenance jobs.
type Config struct {
	Scheduler   SchedulerConfig
	Housekeeper HousekeeperConfig
}

// Engine is the top-level facade over the monitoring pipeline.
type Engine struct {
	cfg      Config
	sessions *session.Controller
	store    store.RecordStore
	fanout   *notify.Fanout
	status   *statusTracker
	sched    *Scheduler
	keeper   *Housekeeper
	log      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New assembles an engine. Nothing runs until Start.
func New(cfg Config, sessions *session.Controller, adapter fetch.Adapter,
	recordStore store.RecordStore, fanout *notify.Fanout,
	log *slog.Logger) *Engine {

	status := newStatusTracker()
	dedup := NewDeduplicator(recordStore, log)

	e := &Engine{
		cfg:      cfg,
		sessions: sessions,
		store:    recordStore,
		fanout:   fanout,
		status:   status,
		log:      log,
	}

	e.sched = NewScheduler(
		cfg.Scheduler, sessions, adapter, dedup, fanout, recordStore,
		status, log,
	)
	e.keeper = NewHousekeeper(
		cfg.Housekeeper, recordStore, fanout, status, e.Status, log,
	)

	return e
}

// Start restores persisted counters and launches the poll loop and the
// maintenance jobs. The engine keeps running until Stop, independent of the
// passed context's own lifetime.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	if err := e.status.restore(ctx, e.store); err != nil {
		return fmt.Errorf("unable to restore counters: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})

	if err := e.keeper.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("unable to start housekeeper: %w", err)
	}

	e.status.markStarted(time.Now())
	e.started = true

	go func() {
		defer close(e.done)
		e.sched.run(runCtx)
	}()

	e.log.InfoContext(ctx, "Engine started",
		"engine_id", e.status.snapshot().EngineID,
		"poll_interval", e.sched.cfg.PollInterval,
	)

	return nil
}

// Stop shuts the engine down gracefully: the poll loop winds down, the
// maintenance jobs finish, and the counters flush one last time.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}

	e.cancel()

	select {
	case <-e.done:
	case <-time.After(30 * time.Second):
		e.log.Warn("Timed out waiting for poll loop to exit")
	}

	e.keeper.Stop(ctx)
	e.status.markStopped()
	e.started = false

	e.log.InfoContext(ctx, "Engine stopped")

	return nil
}

// ForceTick runs one tick right now. Returns ErrBusy when a tick is already
// in flight and ErrHalted while the engine is parked.
func (e *Engine) ForceTick(ctx context.Context) error {
	if !e.isStarted() {
		return ErrNotStarted
	}

	return e.sched.ForceTick(ctx)
}

// Resume clears a halt so polling continues. Returns ErrNotHalted when the
// engine is running normally.
func (e *Engine) Resume(ctx context.Context) error {
	if !e.isStarted() {
		return ErrNotStarted
	}

	return e.sched.Resume(ctx)
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	status := e.status.snapshot()
	status.SessionState = e.sessions.StateName()

	return status
}

// ListRecent returns the most recently observed records.
func (e *Engine) ListRecent(ctx context.Context,
	limit int) ([]record.Record, error) {

	return e.store.ListRecent(ctx, limit)
}

// GetLatest returns the most recently observed record.
func (e *Engine) GetLatest(ctx context.Context) (record.Record, error) {
	return e.store.GetLatest(ctx)
}

// Replay re-delivers a stored record. An empty fingerprint replays the most
// recent one. Replay bypasses deduplication on purpose: the record is
// already persisted, the operator just wants it sent again.
func (e *Engine) Replay(ctx context.Context,
	fingerprint string) (record.Record, error) {

	var (
		rec record.Record
		err error
	)
	if fingerprint == "" {
		rec, err = e.store.GetLatest(ctx)
	} else {
		rec, err = e.store.GetRecord(ctx, fingerprint)
	}
	if err != nil {
		return record.Record{}, err
	}

	outcome, err := e.fanout.Deliver(ctx, notify.FormatRecord(rec))
	if err != nil {
		return record.Record{}, err
	}

	markErr := e.store.MarkDelivered(ctx, rec.Fingerprint,
		store.DeliveryOutcome{Delivered: outcome.Delivered})
	if markErr != nil {
		e.log.ErrorContext(ctx, "Unable to record replay outcome",
			"err", markErr)
	}

	if !outcome.Delivered {
		return record.Record{}, fmt.Errorf(
			"replay of %s reached no endpoint", rec.Fingerprint[:12],
		)
	}

	return rec, nil
}

func (e *Engine) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.started
}
