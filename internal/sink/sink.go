// Package sink defines the interface for delivery backends that consume
// a decoded inbound message.
package sink

import (
	"context"

	"github.com/qemail/qemail-relay/internal/email"
)

// Sink is the interface that delivery backends must implement. Each sink
// hands a decoded message to its destination (webhook endpoint, SES
// forwarding, stdout, etc.).
type Sink interface {
	// Deliver hands a decoded message to this sink's destination.
	// It returns an error if delivery fails.
	Deliver(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this sink.
	Name() string
}
