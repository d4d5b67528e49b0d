package producer

import (
	"context"

	"censustwin/internal/metrics"
	"censustwin/internal/models"
	"censustwin/ledger"
)

// Producer defines the interface for the message queue producer
type Producer interface {
	// PublishEvent sends a committed ledger event to the events topic
	PublishEvent(ctx context.Context, ev *models.LedgerEvent) error

	// Enqueue sends invocations to the invocations topic for asynchronous execution
	Enqueue(ctx context.Context, invs ...*models.Invocation) error

	// Close flushes and closes the producer connection
	Close() error
}

// EventSink adapts p so the ledger runtime can hand it committed events. Events p refuses are
// counted on m, which may be nil.
func EventSink(p Producer, m *metrics.Metrics) ledger.EventSink {
	return ledger.EventSinkFunc(func(ctx context.Context, ev ledger.Event) error {
		if err := p.PublishEvent(ctx, models.NewLedgerEvent(ev)); err != nil {
			m.IncrementEventPublishFailure()
			return err
		}
		return nil
	})
}
