// Package buffer accumulates log records into bounded batches for delivery.
package buffer

import (
	"sync"

	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// BatchBuffer collects records into a live batch and releases full batches
// onto a bounded ready queue. Push is safe for concurrent producers and
// never blocks on delivery: when the ready queue is full, the oldest queued
// batch is dropped to make room. Data loss under overload is the accepted
// trade-off instead of unbounded memory growth.
type BatchBuffer struct {
	batchSize int
	logger    logger.ILogger

	mu   sync.Mutex
	live []*model.LogRecord

	ready   chan []*model.LogRecord
	dropped int
}

// New creates a buffer releasing batches of batchSize records, with room
// for capacity released batches awaiting delivery.
func New(batchSize, capacity int, log logger.ILogger) *BatchBuffer {
	return &BatchBuffer{
		batchSize: batchSize,
		live:      make([]*model.LogRecord, 0, batchSize),
		ready:     make(chan []*model.LogRecord, capacity),
		logger:    log.SubLogger("BatchBuffer"),
	}
}

// Push appends a record to the live batch. When the live batch reaches the
// configured size it is swapped out whole and released; a new empty batch
// begins accumulating. Records are never split or reordered across the swap.
func (b *BatchBuffer) Push(rec *model.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.live = append(b.live, rec)
	if len(b.live) >= b.batchSize {
		b.releaseLocked()
	}
}

// Flush releases the current partial batch, if any. Driven by the flush
// timer and by shutdown, it bounds how long a record can sit unsent.
func (b *BatchBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

// releaseLocked swaps the live batch onto the ready queue (caller must hold
// the lock). When the queue is full the oldest queued batch is dropped.
func (b *BatchBuffer) releaseLocked() {
	if len(b.live) == 0 {
		return
	}

	batch := b.live
	b.live = make([]*model.LogRecord, 0, b.batchSize)

	for {
		select {
		case b.ready <- batch:
			return
		default:
		}
		select {
		case dropped := <-b.ready:
			b.dropped += len(dropped)
			b.logger.Warningf("buffer full, dropping oldest batch: records=%d", len(dropped))
		default:
			// Consumer drained the queue between the two selects; retry the send.
		}
	}
}

// Ready returns the channel of released batches, in release order.
func (b *BatchBuffer) Ready() <-chan []*model.LogRecord {
	return b.ready
}

// Pending returns the number of records in the live batch.
func (b *BatchBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// Dropped returns the total number of records lost to buffer overflow.
func (b *BatchBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
