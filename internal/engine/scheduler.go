package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	prand "math/rand"
	"sync"
	"time"

	"github.com/roasbeef/otpwatch/internal/fetch"
	"github.com/roasbeef/otpwatch/internal/notify"
	"github.com/roasbeef/otpwatch/internal/session"
	"github.com/roasbeef/otpwatch/internal/store"
)

const (
	// DefaultPollInterval is the pause between successful ticks.
	DefaultPollInterval = 45 * time.Second

	// DefaultFetchTimeout bounds one upstream fetch.
	DefaultFetchTimeout = 60 * time.Second

	// DefaultRetryCeiling is the number of consecutive failed ticks after
	// which the engine halts instead of backing off further.
	DefaultRetryCeiling = 10

	// pollJitterFrac is the symmetric jitter applied to the idle poll
	// interval.
	pollJitterFrac = 0.10
)

// SchedulerConfig tunes the poll loop.
type SchedulerConfig struct {
	// PollInterval is the pause between successful ticks.
	PollInterval time.Duration

	// FetchTimeout bounds one upstream fetch.
	FetchTimeout time.Duration

	// RetryCeiling halts the engine after this many consecutive failed
	// ticks.
	RetryCeiling int

	// InitialDelay is the pause before the very first tick. The zero
	// default ticks immediately, so a restarted daemon picks up anything
	// that arrived while it was down.
	InitialDelay time.Duration

	// Backoff computes the delay after failed ticks.
	Backoff BackoffPolicy
}

func (c *SchedulerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = DefaultRetryCeiling
	}
	if c.Backoff.Base == 0 {
		c.Backoff = NewBackoffPolicy(0, 0)
	}
}

// Scheduler owns the poll loop: sleep, tick, repeat. A tick authenticates,
// fetches, deduplicates, and delivers. Exactly one tick runs at a time, and
// the inter-tick delay stretches with consecutive failures.
type Scheduler struct {
	cfg      SchedulerConfig
	sessions *session.Controller
	adapter  fetch.Adapter
	dedup    *Deduplicator
	fanout   *notify.Fanout
	store    store.RecordStore
	status   *statusTracker
	log      *slog.Logger

	// tickMu serializes ticks. The scheduled loop blocks on it; a forced
	// tick try-locks and reports busy instead.
	tickMu sync.Mutex

	// resume wakes the loop out of the halted state.
	resume chan struct{}

	now  func() time.Time
	rand func() float64
}

// NewScheduler wires a scheduler over the given collaborators.
func NewScheduler(cfg SchedulerConfig, sessions *session.Controller,
	adapter fetch.Adapter, dedup *Deduplicator, fanout *notify.Fanout,
	recordStore store.RecordStore, status *statusTracker,
	log *slog.Logger) *Scheduler {

	cfg.applyDefaults()

	return &Scheduler{
		cfg:      cfg,
		sessions: sessions,
		adapter:  adapter,
		dedup:    dedup,
		fanout:   fanout,
		store:    recordStore,
		status:   status,
		log:      log,
		resume:   make(chan struct{}, 1),
		now:      time.Now,
		rand:     prand.Float64,
	}
}

// run is the poll loop. It exits only when ctx is cancelled.
func (s *Scheduler) run(ctx context.Context) {
	first := true
	for {
		// While halted, the loop parks until an explicit resume.
		if s.status.runStateNow() == RunStateHalted {
			select {
			case <-ctx.Done():
				return
			case <-s.resume:
			}

			continue
		}

		delay := s.nextDelay()
		if first {
			delay = s.cfg.InitialDelay
			first = false
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-timer.C:
		}

		if s.status.runStateNow() != RunStateRunning {
			continue
		}

		s.tickMu.Lock()
		_ = s.runTick(ctx)
		s.tickMu.Unlock()
	}
}

// nextDelay is the idle poll interval with jitter, or the backoff delay when
// the engine is in a failure run.
func (s *Scheduler) nextDelay() time.Duration {
	if failures := s.status.failuresNow(); failures > 0 {
		return s.cfg.Backoff.Delay(failures)
	}

	jitter := 1 + pollJitterFrac*(2*s.rand()-1)

	return time.Duration(float64(s.cfg.PollInterval) * jitter)
}

// ForceTick runs one tick immediately. It never waits on an in-flight tick;
// callers get ErrBusy and can simply try again.
func (s *Scheduler) ForceTick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		return ErrBusy
	}
	defer s.tickMu.Unlock()

	if s.status.runStateNow() == RunStateHalted {
		return ErrHalted
	}

	return s.runTick(ctx)
}

// Resume clears the halted state. The session is invalidated first so the
// next tick starts from a clean login, which is what an operator expects
// after fixing credentials.
func (s *Scheduler) Resume(ctx context.Context) error {
	if s.status.runStateNow() != RunStateHalted {
		return ErrNotHalted
	}

	s.sessions.Invalidate(ctx)
	s.status.markResumed()

	select {
	case s.resume <- struct{}{}:
	default:
	}

	s.log.InfoContext(ctx, "Engine resumed by operator")

	return nil
}

// runTick executes one tick and applies its outcome to the status tracker.
// The caller must hold tickMu.
func (s *Scheduler) runTick(ctx context.Context) error {
	tickErr := s.tickOnce(ctx)

	// A tick aborted by shutdown is neither a success nor a failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := s.now()
	if tickErr == nil {
		s.status.noteTick(now, nil)
		return nil
	}

	failures := s.status.noteTick(now, tickErr)

	if errors.Is(tickErr, session.ErrLockedOut) {
		s.halt(ctx, "upstream rejected the configured credentials")
		return tickErr
	}

	s.log.WarnContext(ctx, "Tick failed",
		"consecutive_failures", failures,
		"err", tickErr,
	)

	if failures >= s.cfg.RetryCeiling {
		s.halt(ctx, fmt.Sprintf(
			"retry ceiling reached after %d consecutive failures, "+
				"last error: %v", failures, tickErr,
		))
	}

	return tickErr
}

// tickOnce is one authenticate-fetch-dedup-deliver pass.
func (s *Scheduler) tickOnce(ctx context.Context) error {
	if err := s.sessions.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	raws, err := s.adapter.FetchRecords(fetchCtx)
	cancel()
	if err != nil {
		// An expired session is still a failed tick, but the next one
		// will re-login first.
		if errors.Is(err, fetch.ErrSessionExpired) {
			s.sessions.NoteExpired(ctx)
		}

		return err
	}

	novel, err := s.dedup.FilterNovel(ctx, raws, s.now().UTC())
	if err != nil {
		return err
	}

	if len(novel) == 0 {
		return nil
	}

	s.status.noteObserved(len(novel))

	// Past the persistence step, a shutdown no longer aborts the tick:
	// the records are already on disk, so their deliveries run to
	// completion under the endpoint timeouts.
	deliverCtx := context.WithoutCancel(ctx)

	var undelivered int
	for _, rec := range novel {
		outcome, err := s.fanout.Deliver(
			deliverCtx, notify.FormatRecord(rec),
		)
		if err != nil {
			return err
		}

		// The record is already persisted, so a bookkeeping failure
		// here can only cost us attempt counts, never a duplicate.
		markErr := s.store.MarkDelivered(
			deliverCtx, rec.Fingerprint,
			store.DeliveryOutcome{Delivered: outcome.Delivered},
		)
		if markErr != nil {
			s.log.ErrorContext(ctx,
				"Unable to record delivery outcome",
				"fingerprint", rec.Fingerprint[:12],
				"err", markErr,
			)
		}

		if outcome.Delivered {
			s.status.noteDelivered(1)
		} else {
			undelivered++
		}
	}

	if undelivered > 0 {
		s.status.noteFailed(undelivered)

		return fmt.Errorf("%d record(s) reached no endpoint",
			undelivered)
	}

	return nil
}

// halt parks the engine and fires a best-effort operator alert.
func (s *Scheduler) halt(ctx context.Context, reason string) {
	s.status.markHalted(reason)

	s.log.ErrorContext(ctx, "Engine halted", "reason", reason)

	alertCtx, cancel := context.WithTimeout(ctx, notify.DefaultSendTimeout)
	defer cancel()

	_, err := s.fanout.Deliver(alertCtx, notify.Message{
		Text: "⛔ otpwatch halted: " + reason,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Unable to deliver halt alert",
			"err", err)
	}
}
