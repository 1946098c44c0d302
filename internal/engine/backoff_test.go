package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fixedPolicy returns a policy whose jitter term is exactly 1.0.
func fixedPolicy(base time.Duration, expCap int) BackoffPolicy {
	p := NewBackoffPolicy(base, expCap)
	p.rand = func() float64 { return 0.5 }

	return p
}

// TestBackoffDoublesUpToCap asserts the doubling series and the exponent
// plateau.
func TestBackoffDoublesUpToCap(t *testing.T) {
	t.Parallel()

	p := fixedPolicy(time.Second, 3)

	require.Equal(t, time.Duration(0), p.Delay(0))
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 8*time.Second, p.Delay(4))

	// Past the cap the delay plateaus.
	require.Equal(t, 8*time.Second, p.Delay(5))
	require.Equal(t, 8*time.Second, p.Delay(50))
}

// TestBackoffJitterBounds checks that for arbitrary failure counts the
// jittered delay stays within 20% of the ideal curve, and that the curve
// itself never shrinks as failures accumulate.
func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(
			rapid.Int64Range(
				int64(time.Second), int64(time.Minute),
			).Draw(rt, "base"),
		)
		expCap := rapid.IntRange(1, 8).Draw(rt, "exp_cap")
		failures := rapid.IntRange(1, 40).Draw(rt, "failures")
		roll := rapid.Float64Range(0, 1).Draw(rt, "roll")

		p := NewBackoffPolicy(base, expCap)
		p.rand = func() float64 { return roll }

		delay := p.Delay(failures)

		exp := failures - 1
		if exp > expCap {
			exp = expCap
		}
		ideal := base << exp

		require.GreaterOrEqual(
			rt, delay, time.Duration(0.79*float64(ideal)),
		)
		require.LessOrEqual(
			rt, delay, time.Duration(1.21*float64(ideal)),
		)

		// With the same roll, one more failure never waits less.
		require.GreaterOrEqual(rt, p.Delay(failures+1), delay)
	})
}
