package fetch

import "errors"

// Authentication failures. The session controller uses these to decide
// between retrying a login and halting the engine outright.
var (
	// ErrCredentialsRejected means the upstream actively refused the
	// configured credentials. Retrying cannot help, so the engine halts
	// until an operator intervenes.
	ErrCredentialsRejected = errors.New("credentials rejected by upstream")

	// ErrTransientAuthFailure means the login attempt failed for a reason
	// that may clear on its own (rate limiting, a 5xx, a missing token in
	// the page). The attempt may be retried.
	ErrTransientAuthFailure = errors.New("transient authentication failure")

	// ErrAuthUnreachable means the login endpoint could not be reached at
	// all.
	ErrAuthUnreachable = errors.New("authentication endpoint unreachable")
)

// Fetch failures. The scheduler maps these onto retriable tick outcomes.
var (
	// ErrSessionExpired means the upstream no longer recognizes our
	// session. The caller should invalidate the session and re-login
	// before the next fetch.
	ErrSessionExpired = errors.New("upstream session expired")

	// ErrUnreachable means the upstream could not be reached.
	ErrUnreachable = errors.New("upstream unreachable")
)

// IsFatalAuth reports whether err indicates an authentication failure that
// no amount of retrying can fix.
func IsFatalAuth(err error) bool {
	return errors.Is(err, ErrCredentialsRejected)
}
