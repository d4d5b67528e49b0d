package producer

import (
	"context"
	"sync"

	"censustwin/internal/models"
)

// Recorder is an in-memory Producer that keeps everything it is given.
type Recorder struct {
	mu          sync.Mutex
	events      []*models.LedgerEvent
	invocations []*models.Invocation
	Err         error // returned by every publish when set
}

func (r *Recorder) PublishEvent(_ context.Context, ev *models.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Enqueue(_ context.Context, invs ...*models.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.invocations = append(r.invocations, invs...)
	return nil
}

// Events returns a copy of the published events.
func (r *Recorder) Events() []*models.LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.LedgerEvent(nil), r.events...)
}

// Invocations returns a copy of the enqueued invocations.
func (r *Recorder) Invocations() []*models.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Invocation(nil), r.invocations...)
}

func (r *Recorder) Close() error { return nil }

var _ Producer = (*Recorder)(nil)
