package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/otpwatch/internal/fetch"
)

const (
	// DefaultMaxSessionAge is how long a session is trusted before the
	// controller re-logs-in proactively instead of waiting for the
	// upstream to bounce a fetch.
	DefaultMaxSessionAge = 6 * time.Hour

	// DefaultLoginTimeout bounds a single login attempt.
	DefaultLoginTimeout = 45 * time.Second
)

// ErrLockedOut is returned by EnsureAuthenticated while the controller sits
// in the locked-out state. The caller must Invalidate explicitly (after
// fixing credentials) before logins resume.
var ErrLockedOut = fmt.Errorf("session locked out: %w",
	fetch.ErrCredentialsRejected)

// Config tunes the session controller.
type Config struct {
	// MaxSessionAge is the session age past which EnsureAuthenticated
	// re-logs-in even if nothing has failed. Zero means sessions never go
	// stale on their own.
	MaxSessionAge time.Duration

	// LoginTimeout bounds each login attempt.
	LoginTimeout time.Duration
}

// Controller owns the session state machine and serializes every transition.
// All methods are safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	state   State
	adapter fetch.Adapter
	cfg     Config
	log     *slog.Logger

	// now is the clock, swappable in tests.
	now func() time.Time
}

// NewController creates a controller in the unauthenticated state.
func NewController(adapter fetch.Adapter, cfg Config,
	log *slog.Logger) *Controller {

	if cfg.MaxSessionAge == 0 {
		cfg.MaxSessionAge = DefaultMaxSessionAge
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}

	return &Controller{
		state:   &StateUnauthenticated{},
		adapter: adapter,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// EnsureAuthenticated makes sure a usable session exists before a fetch. If
// the current session is live and fresh it returns immediately; otherwise it
// runs one bounded login attempt and applies the outcome to the state
// machine. A fatal credential rejection moves the controller to locked-out,
// where every call returns ErrLockedOut until Invalidate is called.
func (c *Controller) EnsureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, locked := c.state.(*StateLockedOut); locked {
		return ErrLockedOut
	}

	if auth, ok := c.state.(*StateAuthenticated); ok {
		age := c.now().Sub(auth.Since)
		if age < c.cfg.MaxSessionAge {
			return nil
		}

		c.log.InfoContext(ctx, "Session is stale, re-logging-in",
			"session_age", age,
		)
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	defer cancel()

	err := c.adapter.Login(loginCtx)
	if err != nil {
		c.log.WarnContext(ctx, "Login attempt failed", "err", err)

		if applyErr := c.apply(ctx, LoginFailed{Err: err}); applyErr != nil {
			return applyErr
		}

		if fetch.IsFatalAuth(err) {
			return ErrLockedOut
		}

		return err
	}

	if err := c.apply(ctx, LoginSucceeded{At: c.now()}); err != nil {
		return err
	}

	c.log.InfoContext(ctx, "Session established")

	return nil
}

// NoteExpired records that the upstream stopped honoring the session. The
// next EnsureAuthenticated call will log in again.
func (c *Controller) NoteExpired(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.apply(ctx, Expired{}); err != nil {
		c.log.ErrorContext(ctx, "Unable to expire session", "err", err)
	}
}

// Invalidate discards the session unconditionally, including from the
// locked-out state. This is the operator's escape hatch after fixing
// rejected credentials.
func (c *Controller) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.apply(ctx, Invalidate{}); err != nil {
		c.log.ErrorContext(ctx, "Unable to invalidate session",
			"err", err)
	}
}

// StateName returns the human-readable name of the current state.
func (c *Controller) StateName() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.String()
}

// AuthenticatedSince returns the login time of the live session, if any.
func (c *Controller) AuthenticatedSince() fn.Option[time.Time] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if auth, ok := c.state.(*StateAuthenticated); ok {
		return fn.Some(auth.Since)
	}

	return fn.None[time.Time]()
}

// apply runs one event through the state machine. The caller holds the lock.
func (c *Controller) apply(ctx context.Context, event Event) error {
	transition, err := c.state.ProcessEvent(ctx, event)
	if err != nil {
		return err
	}

	if transition.NextState.String() != c.state.String() {
		c.log.DebugContext(ctx, "Session state transition",
			"from", c.state.String(),
			"to", transition.NextState.String(),
		)
	}

	c.state = transition.NextState

	return nil
}
