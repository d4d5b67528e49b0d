package consumer

import (
	"context"

	"censustwin/internal/models"
)

// Consumer defines the interface for consumers of queued contract invocations.
type Consumer interface {
	// Consume blocks until a message is received or the context is cancelled.
	// It returns the message, an acknowledgement callback, and any error that occurred.
	// ack(true) marks the invocation done (committed, or rejected for good);
	// ack(false) leaves it to be redelivered (MVCC conflict, storage failure).
	Consume(ctx context.Context) (inv *models.Invocation, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}
