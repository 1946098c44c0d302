package engine

import (
	"math"
	prand "math/rand"
	"time"
)

const (
	// defaultBackoffBase is the delay after the first failure.
	defaultBackoffBase = 30 * time.Second

	// defaultBackoffExpCap caps the doubling exponent so the delay
	// plateaus instead of growing without bound.
	defaultBackoffExpCap = 6

	// backoffJitterFrac is the symmetric jitter applied to every delay.
	// Plus or minus 20% keeps restarted instances from polling in phase.
	backoffJitterFrac = 0.20
)

// BackoffPolicy computes the delay before the next attempt after a run of
// consecutive failures.
type BackoffPolicy struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// ExpCap caps the doubling exponent.
	ExpCap int

	// rand returns a uniform value in [0, 1), swappable in tests.
	rand func() float64
}

// NewBackoffPolicy returns a policy with the default base and cap.
func NewBackoffPolicy(base time.Duration, expCap int) BackoffPolicy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if expCap <= 0 {
		expCap = defaultBackoffExpCap
	}

	return BackoffPolicy{
		Base:   base,
		ExpCap: expCap,
		rand:   prand.Float64,
	}
}

// Delay returns the backoff delay after the given number of consecutive
// failures. The first failure (failures == 1) waits the base delay; each
// further failure doubles it up to the exponent cap, and the result carries
// plus or minus 20% jitter.
func (p BackoffPolicy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}

	exp := failures - 1
	if exp > p.ExpCap {
		exp = p.ExpCap
	}

	delay := float64(p.Base) * math.Pow(2, float64(exp))

	// Uniform jitter in [-jitterFrac, +jitterFrac].
	jitter := 1 + backoffJitterFrac*(2*p.rand()-1)

	return time.Duration(delay * jitter)
}
