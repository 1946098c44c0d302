// Package session tracks the lifecycle of the upstream login session as an
// explicit state machine, so the rest of the engine can ask one question
// ("is the session usable?") without knowing how logins work.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/otpwatch/internal/fetch"
)

// State is the sealed interface for all session states. Each state handles
// incoming events and returns the next state.
type State interface {
	// ProcessEvent handles an incoming event and returns the resulting
	// transition.
	ProcessEvent(ctx context.Context, event Event) (*Transition, error)

	// Usable returns true if a fetch may be attempted from this state
	// without logging in first.
	Usable() bool

	// String returns a human-readable name for the state.
	String() string

	// isSessionState seals the interface.
	isSessionState()
}

// Transition represents the result of processing an event.
type Transition struct {
	NextState State
}

// Event is the sealed interface for session lifecycle events.
type Event interface {
	// isSessionEvent seals the interface.
	isSessionEvent()
}

// LoginSucceeded is emitted after a successful adapter login.
type LoginSucceeded struct {
	At time.Time
}

// LoginFailed is emitted after a failed adapter login, carrying the
// classified error.
type LoginFailed struct {
	Err error
}

// Expired is emitted when a fetch reports the upstream no longer honors the
// session.
type Expired struct{}

// Invalidate is emitted to discard the session regardless of its state, for
// example before a forced re-login.
type Invalidate struct{}

func (LoginSucceeded) isSessionEvent() {}
func (LoginFailed) isSessionEvent()    {}
func (Expired) isSessionEvent()        {}
func (Invalidate) isSessionEvent()     {}

// Compile-time verification that all concrete states implement State.
var (
	_ State = (*StateUnauthenticated)(nil)
	_ State = (*StateAuthenticated)(nil)
	_ State = (*StateLockedOut)(nil)
)

// =============================================================================
// StateUnauthenticated: no usable session exists.
// =============================================================================

// StateUnauthenticated is the initial state and the state after any expiry or
// retriable login failure.
type StateUnauthenticated struct{}

// ProcessEvent handles events in the Unauthenticated state.
func (s *StateUnauthenticated) ProcessEvent(_ context.Context,
	event Event,
) (*Transition, error) {
	switch e := event.(type) {
	case LoginSucceeded:
		return &Transition{
			NextState: &StateAuthenticated{Since: e.At},
		}, nil

	case LoginFailed:
		if fetch.IsFatalAuth(e.Err) {
			return &Transition{
				NextState: &StateLockedOut{Reason: e.Err},
			}, nil
		}

		// Retriable failure: stay put, the next login attempt starts
		// from the same place.
		return &Transition{NextState: s}, nil

	case Invalidate, Expired:
		return &Transition{NextState: s}, nil

	default:
		return nil, fmt.Errorf(
			"unexpected event %T in state Unauthenticated", event,
		)
	}
}

func (s *StateUnauthenticated) Usable() bool    { return false }
func (s *StateUnauthenticated) String() string  { return "unauthenticated" }
func (s *StateUnauthenticated) isSessionState() {}

// =============================================================================
// StateAuthenticated: a login succeeded and has not been invalidated.
// =============================================================================

// StateAuthenticated holds a live session. Since records when the login
// happened, which drives age-based proactive re-login.
type StateAuthenticated struct {
	Since time.Time
}

// ProcessEvent handles events in the Authenticated state.
func (s *StateAuthenticated) ProcessEvent(_ context.Context,
	event Event,
) (*Transition, error) {
	switch e := event.(type) {
	case Expired, Invalidate:
		return &Transition{
			NextState: &StateUnauthenticated{},
		}, nil

	case LoginSucceeded:
		// A re-login over a live session just refreshes the clock.
		return &Transition{
			NextState: &StateAuthenticated{Since: e.At},
		}, nil

	case LoginFailed:
		if fetch.IsFatalAuth(e.Err) {
			return &Transition{
				NextState: &StateLockedOut{Reason: e.Err},
			}, nil
		}

		return &Transition{
			NextState: &StateUnauthenticated{},
		}, nil

	default:
		return nil, fmt.Errorf(
			"unexpected event %T in state Authenticated", event,
		)
	}
}

func (s *StateAuthenticated) Usable() bool    { return true }
func (s *StateAuthenticated) String() string  { return "authenticated" }
func (s *StateAuthenticated) isSessionState() {}

// =============================================================================
// StateLockedOut: the upstream rejected the credentials outright.
// =============================================================================

// StateLockedOut is entered when the upstream rejects the configured
// credentials. No automatic transition leaves it; an operator must
// explicitly invalidate the session after fixing the credentials.
type StateLockedOut struct {
	Reason error
}

// ProcessEvent handles events in the LockedOut state.
func (s *StateLockedOut) ProcessEvent(_ context.Context,
	event Event,
) (*Transition, error) {
	switch event.(type) {
	case Invalidate:
		return &Transition{
			NextState: &StateUnauthenticated{},
		}, nil

	case Expired:
		return &Transition{NextState: s}, nil

	default:
		return nil, fmt.Errorf(
			"unexpected event %T in state LockedOut", event,
		)
	}
}

func (s *StateLockedOut) Usable() bool    { return false }
func (s *StateLockedOut) String() string  { return "locked_out" }
func (s *StateLockedOut) isSessionState() {}
