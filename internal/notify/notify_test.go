package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubEndpoint records sends and fails on demand.
type stubEndpoint struct {
	name  string
	err   error
	sends []Message
}

func (s *stubEndpoint) Name() string { return s.name }

func (s *stubEndpoint) Send(_ context.Context, msg Message) error {
	s.sends = append(s.sends, msg)
	return s.err
}

func discardLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestFanoutAllSucceed asserts the happy path outcome.
func TestFanoutAllSucceed(t *testing.T) {
	t.Parallel()

	a := &stubEndpoint{name: "a"}
	b := &stubEndpoint{name: "b"}
	fanout := NewFanout([]Endpoint{a, b}, discardLog())

	outcome, err := fanout.Deliver(
		context.Background(), Message{Text: "hi"},
	)
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Empty(t, outcome.Failed)
	require.Len(t, a.sends, 1)
	require.Len(t, b.sends, 1)
}

// TestFanoutPartialFailureStillDelivers asserts that one acknowledging
// endpoint is enough for the delivery to count, with the failure reported.
func TestFanoutPartialFailureStillDelivers(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := &stubEndpoint{name: "a", err: boom}
	b := &stubEndpoint{name: "b"}
	fanout := NewFanout([]Endpoint{a, b}, discardLog())

	outcome, err := fanout.Deliver(
		context.Background(), Message{Text: "hi"},
	)
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Len(t, outcome.Failed, 1)
	require.ErrorIs(t, outcome.Failed["a"], boom)
}

// TestFanoutTotalFailure asserts that when nobody acknowledges the outcome
// is undelivered but every endpoint was still attempted.
func TestFanoutTotalFailure(t *testing.T) {
	t.Parallel()

	a := &stubEndpoint{name: "a", err: errors.New("down")}
	b := &stubEndpoint{name: "b", err: errors.New("also down")}
	fanout := NewFanout([]Endpoint{a, b}, discardLog())

	outcome, err := fanout.Deliver(
		context.Background(), Message{Text: "hi"},
	)
	require.NoError(t, err)
	require.False(t, outcome.Delivered)
	require.Len(t, outcome.Failed, 2)
	require.Len(t, a.sends, 1)
	require.Len(t, b.sends, 1)
}

// TestFanoutNoEndpoints asserts a misconfigured empty fan-out is an error
// rather than a silent drop.
func TestFanoutNoEndpoints(t *testing.T) {
	t.Parallel()

	fanout := NewFanout(nil, discardLog())

	_, err := fanout.Deliver(context.Background(), Message{Text: "hi"})
	require.ErrorIs(t, err, ErrNoEndpoints)
}
