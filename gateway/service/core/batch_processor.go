package service

import (
	"context"
	"log"
	"sync"
	"time"

	"censustwin/internal/messaging/producer"
	"censustwin/internal/models"
)

// BatchProcessor buffers queued invocations and hands them to the producer in batches,
// flushing when the buffer fills or the batch timeout elapses.
type BatchProcessor struct {
	batchSize    int
	batchTimeout time.Duration
	logger       *log.Logger
	producer     producer.Producer

	buffer      []*models.Invocation
	bufferMutex sync.Mutex
	flushChan   chan []*models.Invocation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatchProcessor creates a batch processor and starts its timer and flush loops
func NewBatchProcessor(batchSize int, batchTimeout time.Duration, flushChannelBuffer int,
	p producer.Producer, logger *log.Logger) *BatchProcessor {

	ctx, cancel := context.WithCancel(context.Background())

	bp := &BatchProcessor{
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		logger:       logger,
		producer:     p,
		buffer:       make([]*models.Invocation, 0, batchSize),
		flushChan:    make(chan []*models.Invocation, flushChannelBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}

	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.batchLoop()

	return bp
}

// Submit adds an invocation to the current batch
func (bp *BatchProcessor) Submit(inv *models.Invocation) {
	bp.bufferMutex.Lock()
	bp.buffer = append(bp.buffer, inv)
	full := len(bp.buffer) >= bp.batchSize
	bp.bufferMutex.Unlock()

	if full {
		bp.flush()
	}
}

func (bp *BatchProcessor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.flush()
		case <-bp.ctx.Done():
			return
		}
	}
}

func (bp *BatchProcessor) batchLoop() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.flushChan:
			bp.processBatch(batch)
		case <-bp.ctx.Done():
			// Drain what was already handed over, then whatever is still buffered
			for {
				select {
				case batch := <-bp.flushChan:
					bp.processBatch(batch)
				default:
					bp.processBatch(bp.takeBuffer())
					return
				}
			}
		}
	}
}

// flush moves the buffer to the flush channel; if the channel is full the entries are put back
// and picked up by the next tick.
func (bp *BatchProcessor) flush() {
	batch := bp.takeBuffer()
	if len(batch) == 0 {
		return
	}
	select {
	case bp.flushChan <- batch:
	default:
		bp.logger.Printf("Flush channel full, %d invocations will flush on next timer", len(batch))
		bp.bufferMutex.Lock()
		bp.buffer = append(batch, bp.buffer...)
		bp.bufferMutex.Unlock()
	}
}

func (bp *BatchProcessor) takeBuffer() []*models.Invocation {
	bp.bufferMutex.Lock()
	defer bp.bufferMutex.Unlock()

	if len(bp.buffer) == 0 {
		return nil
	}
	batch := make([]*models.Invocation, len(bp.buffer))
	copy(batch, bp.buffer)
	bp.buffer = bp.buffer[:0]
	return batch
}

func (bp *BatchProcessor) processBatch(batch []*models.Invocation) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	if err := bp.producer.Enqueue(context.Background(), batch...); err != nil {
		// The request ids were already returned to callers; they can poll the ledger to find out.
		bp.logger.Printf("Batch enqueue failed, %d invocations dropped: %v", len(batch), err)
		return
	}
	bp.logger.Printf("Batch enqueued: %d invocations in %v", len(batch), time.Since(start))
}

// Close flushes what is buffered and stops the loops
func (bp *BatchProcessor) Close() {
	bp.cancel()
	bp.wg.Wait()
}
