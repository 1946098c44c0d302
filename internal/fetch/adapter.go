package fetch

import (
	"context"

	"github.com/roasbeef/otpwatch/internal/record"
)

// Adapter is the upstream-facing surface the engine polls through. A single
// implementation talks to one upstream source; the engine never sees HTTP,
// cookies, or page structure.
type Adapter interface {
	// Login establishes (or re-establishes) an authenticated session with
	// the upstream. Failures are classified via the package sentinels:
	// ErrCredentialsRejected is fatal, ErrTransientAuthFailure and
	// ErrAuthUnreachable may be retried.
	Login(ctx context.Context) error

	// FetchRecords retrieves the current batch of candidate records. The
	// same record may appear in any number of consecutive batches; the
	// caller is responsible for deduplication. ErrSessionExpired signals
	// that Login must be called again before the next attempt.
	FetchRecords(ctx context.Context) ([]record.RawRecord, error)
}
