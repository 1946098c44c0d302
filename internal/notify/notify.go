// Package notify delivers formatted messages to one or more endpoints. The
// engine only sees the fan-out: a delivery counts as successful when at
// least one endpoint acknowledged it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultSendTimeout bounds a single endpoint send.
const DefaultSendTimeout = 20 * time.Second

// ErrNoEndpoints is returned by the fan-out when it was built without any
// endpoints, which would otherwise silently drop every message.
var ErrNoEndpoints = errors.New("no notification endpoints configured")

// Message is one formatted unit ready for an endpoint.
type Message struct {
	// Text is the message body.
	Text string

	// Markdown marks the text as pre-escaped Telegram MarkdownV2. Plain
	// endpoints ignore this.
	Markdown bool
}

// Endpoint delivers one message to one destination.
type Endpoint interface {
	// Name identifies the endpoint in logs and outcomes.
	Name() string

	// Send delivers the message. Implementations must respect ctx.
	Send(ctx context.Context, msg Message) error
}

// Outcome summarizes one fan-out delivery attempt.
type Outcome struct {
	// Delivered is true when at least one endpoint acknowledged the
	// message.
	Delivered bool

	// Failed maps endpoint names to their errors for the endpoints that
	// did not acknowledge.
	Failed map[string]error
}

// Fanout sends every message to every endpoint.
type Fanout struct {
	endpoints   []Endpoint
	sendTimeout time.Duration
	log         *slog.Logger
}

// NewFanout builds a fan-out over the given endpoints.
func NewFanout(endpoints []Endpoint, log *slog.Logger) *Fanout {
	return &Fanout{
		endpoints:   endpoints,
		sendTimeout: DefaultSendTimeout,
		log:         log,
	}
}

// Deliver sends the message to all endpoints sequentially and reports the
// aggregate outcome. A single slow endpoint cannot stall the tick past its
// own send timeout.
func (f *Fanout) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	if len(f.endpoints) == 0 {
		return Outcome{}, ErrNoEndpoints
	}

	outcome := Outcome{Failed: make(map[string]error)}

	for _, ep := range f.endpoints {
		sendCtx, cancel := context.WithTimeout(ctx, f.sendTimeout)
		err := ep.Send(sendCtx, msg)
		cancel()

		if err != nil {
			f.log.WarnContext(ctx, "Endpoint delivery failed",
				"endpoint", ep.Name(),
				"err", err,
			)
			outcome.Failed[ep.Name()] = err

			continue
		}

		outcome.Delivered = true
	}

	return outcome, nil
}
