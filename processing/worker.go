package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	blockchain "censustwin/blockchain/client"
	"censustwin/blockchain/types"
	"censustwin/config"
	"censustwin/contract"
	"censustwin/internal/messaging/consumer"
	"censustwin/internal/metrics"
	"censustwin/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// consumePollTimeout bounds each Consume call so workers notice cancellation promptly
const consumePollTimeout = 100 * time.Millisecond

// Worker executes queued contract invocations against the ledger
type Worker struct {
	workerConfig config.WorkerConfig
	logger       *log.Logger
	consumer     consumer.Consumer
	client       blockchain.LedgerClient
	metrics      *metrics.Metrics
}

// New creates a new Worker instance
func New(cfg config.WorkerConfig, logger *log.Logger, c consumer.Consumer, lc blockchain.LedgerClient, m *metrics.Metrics) *Worker {
	cfg.SetDefaults()
	return &Worker{
		workerConfig: cfg,
		logger:       logger,
		consumer:     c,
		client:       lc,
		metrics:      m,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Printf("Starting worker pool with concurrency: %d, LedgerTimeout: %s, MaxConflictRetries: %d",
		w.workerConfig.Concurrency, w.workerConfig.LedgerTimeout, w.workerConfig.MaxConflictRetries)
	var wg sync.WaitGroup
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.logger.Printf("Worker %d started", workerID)
			w.processMessages(ctx, workerID)
			w.logger.Printf("Worker %d stopped", workerID)
		}(i + 1)
	}
	wg.Wait()
	w.logger.Println("Worker pool stopped.")
}

// processMessages is the main loop for a worker goroutine
func (w *Worker) processMessages(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			w.logger.Printf("Worker %d: Context cancelled, stopping.", workerID)
			return
		}

		consumeCtx, consumeCancel := context.WithTimeout(ctx, consumePollTimeout)
		inv, ack, err := w.consumer.Consume(consumeCtx)
		consumeCancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Printf("Worker %d: Consumer error: %v", workerID, err)
			select {
			case <-ctx.Done():
			case <-time.After(w.workerConfig.ConsumerRetryDelay):
			}
			continue
		}
		if inv == nil {
			continue
		}

		ack(w.Handle(ctx, workerID, inv))
	}
}

// Handle executes one invocation and reports whether it is done with. Rejected invocations are
// done: redelivering them would fail the same way. Conflicts are resubmitted in-process up to
// MaxConflictRetries times before being left for redelivery, as are storage failures.
func (w *Worker) Handle(ctx context.Context, workerID int, inv *models.Invocation) bool {
	ctx, span := otel.Tracer("censustwin/engine").Start(ctx, "engine."+inv.Function,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("engine.request_id", inv.RequestID),
			attribute.String("census.record_id", inv.Args[contract.ParamRecordID]),
		),
	)
	defer span.End()

	caller := contract.Identity{AuthorityID: inv.AuthorityID, IdentityID: inv.IdentityID}
	if err := caller.Validate(); err != nil {
		w.logger.Printf("Worker %d: Dropping invocation %s: %v", workerID, inv.RequestID, err)
		return true
	}

	for attempt := 0; ; attempt++ {
		start := time.Now()
		invokeCtx, cancel := context.WithTimeout(ctx, w.workerConfig.LedgerTimeout)
		res, err := blockchain.Invoke(invokeCtx, w.client, caller, inv.Function, inv.Args)
		cancel()

		status := blockchain.Classify(err)
		w.metrics.ObserveInvocation(inv.Function, status, time.Since(start))
		span.SetAttributes(attribute.String("engine.outcome", string(status)), attribute.Int("engine.attempt", attempt+1))

		switch status {
		case types.StatusSuccess:
			w.logger.Printf("Worker %d: %s committed (request %s, tx %s, height %d, %v)",
				workerID, inv.Function, inv.RequestID, res.TransactionID, res.BlockHeight, time.Since(start))
			return true
		case types.StatusRejected:
			w.logger.Printf("Worker %d: %s rejected (request %s): %v", workerID, inv.Function, inv.RequestID, err)
			return true
		case types.StatusConflict:
			if attempt < w.workerConfig.MaxConflictRetries && ctx.Err() == nil {
				w.logger.Printf("Worker %d: %s conflicted (request %s, attempt %d), resubmitting",
					workerID, inv.Function, inv.RequestID, attempt+1)
				continue
			}
		}

		w.logger.Printf("Worker %d: %s failed (request %s, %s), leaving for redelivery: %v",
			workerID, inv.Function, inv.RequestID, status, err)
		w.metrics.IncrementRedelivery(inv.Function)
		return false
	}
}
