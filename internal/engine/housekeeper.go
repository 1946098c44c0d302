package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roasbeef/otpwatch/internal/notify"
	"github.com/roasbeef/otpwatch/internal/store"
)

const (
	// DefaultRetention is how long records are kept before pruning.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultPruneSchedule runs the prune pass hourly.
	DefaultPruneSchedule = "@every 1h"

	// DefaultHeartbeatSchedule announces liveness a few times a day.
	DefaultHeartbeatSchedule = "@every 6h"

	// DefaultPersistSchedule flushes the lifetime counters often enough
	// that a crash loses at most a few minutes of counting.
	DefaultPersistSchedule = "@every 5m"
)

// HousekeeperConfig tunes the background maintenance jobs.
type HousekeeperConfig struct {
	// Retention is the record age past which rows are pruned. Zero
	// disables pruning entirely.
	Retention time.Duration

	// PruneSchedule, HeartbeatSchedule and PersistSchedule are cron
	// specs for the three maintenance jobs.
	PruneSchedule     string
	HeartbeatSchedule string
	PersistSchedule   string
}

func (c *HousekeeperConfig) applyDefaults() {
	if c.PruneSchedule == "" {
		c.PruneSchedule = DefaultPruneSchedule
	}
	if c.HeartbeatSchedule == "" {
		c.HeartbeatSchedule = DefaultHeartbeatSchedule
	}
	if c.PersistSchedule == "" {
		c.PersistSchedule = DefaultPersistSchedule
	}
}

// Housekeeper runs the periodic maintenance jobs on a cron scheduler: prune
// old records, flush lifetime counters, and send liveness heartbeats. None
// of its jobs can halt the engine; every failure is logged and retried on
// the next run.
type Housekeeper struct {
	cfg      HousekeeperConfig
	store    store.RecordStore
	fanout   *notify.Fanout
	status   *statusTracker
	statusFn func() Status
	log      *slog.Logger

	cron *cron.Cron
}

// NewHousekeeper wires the maintenance jobs. statusFn supplies the full
// engine snapshot for heartbeat messages.
func NewHousekeeper(cfg HousekeeperConfig, recordStore store.RecordStore,
	fanout *notify.Fanout, status *statusTracker, statusFn func() Status,
	log *slog.Logger) *Housekeeper {

	cfg.applyDefaults()

	return &Housekeeper{
		cfg:      cfg,
		store:    recordStore,
		fanout:   fanout,
		status:   status,
		statusFn: statusFn,
		log:      log,
		cron:     cron.New(),
	}
}

// Start registers and launches the cron jobs.
func (h *Housekeeper) Start(ctx context.Context) error {
	if h.cfg.Retention > 0 {
		_, err := h.cron.AddFunc(h.cfg.PruneSchedule, func() {
			h.prune(ctx)
		})
		if err != nil {
			return fmt.Errorf("prune schedule: %w", err)
		}
	}

	_, err := h.cron.AddFunc(h.cfg.HeartbeatSchedule, func() {
		h.heartbeat(ctx)
	})
	if err != nil {
		return fmt.Errorf("heartbeat schedule: %w", err)
	}

	_, err = h.cron.AddFunc(h.cfg.PersistSchedule, func() {
		h.persistCounters(ctx)
	})
	if err != nil {
		return fmt.Errorf("persist schedule: %w", err)
	}

	h.cron.Start()

	return nil
}

// Stop halts the cron scheduler, waits for running jobs, and flushes the
// counters one last time.
func (h *Housekeeper) Stop(ctx context.Context) {
	stopCtx := h.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		h.log.Warn("Timed out waiting for maintenance jobs to finish")
	}

	h.persistCounters(ctx)
}

// prune removes records older than the retention horizon.
func (h *Housekeeper) prune(ctx context.Context) {
	horizon := time.Now().UTC().Add(-h.cfg.Retention)

	deleted, err := h.store.PruneOlderThan(ctx, horizon)
	if err != nil {
		h.log.ErrorContext(ctx, "Prune pass failed", "err", err)
		return
	}

	if deleted > 0 {
		h.log.InfoContext(ctx, "Pruned old records",
			"deleted", deleted,
			"horizon", horizon,
		)
	}
}

// heartbeat announces liveness to the endpoints. A failed heartbeat is only
// logged; it says nothing about the health of the poll loop itself.
func (h *Housekeeper) heartbeat(ctx context.Context) {
	status := h.statusFn()

	uptime := "unknown"
	status.StartedAt.WhenSome(func(at time.Time) {
		uptime = time.Since(at).Round(time.Second).String()
	})

	text := fmt.Sprintf(
		"💓 otpwatch alive\nengine: %s\nstate: %s\nsession: %s\n"+
			"uptime: %s\nobserved: %d\ndelivered: %d\nfailed: %d",
		status.EngineID, status.RunState, status.SessionState,
		uptime, status.ObservedTotal, status.DeliveredTotal,
		status.FailedTotal,
	)

	_, err := h.fanout.Deliver(ctx, notify.Message{Text: text})
	if err != nil {
		h.log.WarnContext(ctx, "Heartbeat delivery failed", "err", err)
	}
}

// persistCounters flushes the lifetime counters to the store.
func (h *Housekeeper) persistCounters(ctx context.Context) {
	if err := h.status.persist(ctx, h.store); err != nil {
		h.log.ErrorContext(ctx, "Unable to persist counters",
			"err", err)
	}
}
