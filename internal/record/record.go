package record

import (
	"time"
)

// RawRecord is a single candidate record as scraped from the upstream page.
// The fields are forwarded verbatim; no normalization happens at this layer.
type RawRecord struct {
	// Sender is the originating number or service name as rendered by the
	// upstream page.
	Sender string

	// Message is the full message text, usually containing the passcode.
	Message string

	// ReceivedAt is the upstream-rendered timestamp string. The upstream
	// clock is unreliable, so this is display-only and never feeds into
	// identity or ordering decisions.
	ReceivedAt string
}

// Record is a normalized notification unit as persisted in the record store.
type Record struct {
	// Fingerprint uniquely identifies the record. It is derived from the
	// normalized content, never from any upstream row id.
	Fingerprint string

	// Sender is the originating number or service name.
	Sender string

	// Payload is the opaque message text forwarded to endpoints verbatim.
	Payload string

	// ObservedAt is when this engine first saw the record (engine clock).
	ObservedAt time.Time

	// Delivered is true once at least one endpoint acknowledged delivery.
	Delivered bool

	// DeliveryAttempts counts delivery attempts, for diagnostics only.
	DeliveryAttempts int64
}

// FromRaw builds a Record from a RawRecord, computing its fingerprint and
// stamping it with the given observation time.
func FromRaw(raw RawRecord, observedAt time.Time) Record {
	return Record{
		Fingerprint: Fingerprint(raw),
		Sender:      raw.Sender,
		Payload:     raw.Message,
		ObservedAt:  observedAt,
	}
}
