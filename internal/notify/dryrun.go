package notify

import (
	"context"
	"log/slog"
)

// DryRunEndpoint logs messages instead of delivering them. It always
// acknowledges, so a dry run exercises the full dedup and bookkeeping path.
type DryRunEndpoint struct {
	log *slog.Logger
}

var _ Endpoint = (*DryRunEndpoint)(nil)

// NewDryRunEndpoint creates a log-only endpoint.
func NewDryRunEndpoint(log *slog.Logger) *DryRunEndpoint {
	return &DryRunEndpoint{log: log}
}

// Name identifies the endpoint.
func (d *DryRunEndpoint) Name() string { return "dry-run" }

// Send logs the message body and reports success.
func (d *DryRunEndpoint) Send(_ context.Context, msg Message) error {
	d.log.Info("Dry-run delivery",
		"markdown", msg.Markdown,
		"text", msg.Text,
	)

	return nil
}
