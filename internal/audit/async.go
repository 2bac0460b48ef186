package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/timmy/loadgate/internal/logger"
)

// DefaultBufferSize is the AsyncSink queue length when none is given.
const DefaultBufferSize = 256

type queued struct {
	ctx   context.Context
	event Event
}

// AsyncSink hands events to a background goroutine through a bounded queue.
// Emit never blocks: when the queue is full the event is dropped and counted.
type AsyncSink struct {
	next    Sink
	queue   chan queued
	dropped atomic.Int64
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsyncSink starts the delivery goroutine for next.
func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	s := &AsyncSink{
		next:  next,
		queue: make(chan queued, buffer),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for q := range s.queue {
		s.next.Emit(q.ctx, q.event)
	}
}

// Emit enqueues e or drops it when the queue is full or the sink is closed.
func (s *AsyncSink) Emit(ctx context.Context, e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	// the delivery goroutine outlives the caller's request
	q := queued{ctx: context.WithoutCancel(ctx), event: e}
	select {
	case s.queue <- q:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			logger.FromContext(ctx).WithField(logger.FieldCount, n).Warn("Audit queue full, dropping events")
		}
	}
}

// Dropped returns the number of events discarded so far.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits until the queue drains or ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
