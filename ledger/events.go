package ledger

import (
	"context"
	"time"
)

// Event is the single event a transaction may set; it is handed to the EventSink only after commit.
type Event struct {
	Name        string
	Payload     []byte
	TxID        string
	BlockHeight uint64
	Timestamp   time.Time
}

// EventSink receives committed events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
