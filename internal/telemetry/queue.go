// Package telemetry decouples pipeline execution from trace shipping. Any
// stage may offer events without ever blocking or failing the run; a single
// long-lived consumer drains them and performs the network I/O.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event types shipped to the sink.
const (
	EventTraceCreate      = "trace-create"
	EventGenerationCreate = "generation-create"
)

// Event is one telemetry record.
type Event struct {
	Type      string    `json:"type"`
	TraceID   string    `json:"trace_id"`
	Name      string    `json:"name"`
	Stage     string    `json:"stage,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Shipper delivers a batch of events to the sink. Implementations perform
// blocking network I/O; the queue's consumer is the only caller.
type Shipper interface {
	Ship(ctx context.Context, events []Event) error
}

// Queue is an unbounded FIFO between any number of producers and exactly
// one consumer goroutine. Offer never blocks; when the sink is disabled
// events are silently dropped. Telemetry must never affect pipeline
// correctness or throughput.
type Queue struct {
	mu      sync.Mutex
	pending []Event

	enabled atomic.Bool
	notify  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool

	shipper Shipper
	logger  *zap.Logger

	offered atomic.Int64
	shipped atomic.Int64
	dropped atomic.Int64
}

// NewQueue creates a queue in the disabled state.
func NewQueue(shipper Shipper, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		shipper: shipper,
		logger:  logger,
	}
}

// Enable turns the sink on.
func (q *Queue) Enable() { q.enabled.Store(true) }

// Offer enqueues an event. It never blocks: producers only take a short
// mutex around a slice append. Disabled sink drops the event.
func (q *Queue) Offer(e Event) {
	if !q.enabled.Load() {
		q.dropped.Add(1)
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	q.offered.Add(1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Start launches the consumer goroutine. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.consume(ctx)
}

// Stop disables the sink, drains what is already queued, and waits for the
// consumer to exit. Shutdown is cooperative, never forced.
func (q *Queue) Stop() {
	q.enabled.Store(false)
	if !q.started.Load() {
		return
	}
	close(q.stopCh)
	<-q.doneCh
}

func (q *Queue) consume(ctx context.Context) {
	defer close(q.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			// Final drain of whatever producers managed to enqueue.
			q.shipBatch(ctx)
			return
		case <-q.notify:
			q.shipBatch(ctx)
		}
	}
}

// shipBatch drains the pending slice and delivers it. Transport failures
// are logged and the loop continues; one failed send never stops draining.
func (q *Queue) shipBatch(ctx context.Context) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 || q.shipper == nil {
		return
	}
	if err := q.shipper.Ship(ctx, batch); err != nil {
		q.logger.Warn("telemetry batch delivery failed",
			zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	q.shipped.Add(int64(len(batch)))
}

// Stats reports queue counters for debugging.
type Stats struct {
	Offered int64
	Shipped int64
	Dropped int64
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Offered: q.offered.Load(),
		Shipped: q.shipped.Load(),
		Dropped: q.dropped.Load(),
	}
}
