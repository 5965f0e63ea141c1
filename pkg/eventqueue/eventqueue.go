// Package eventqueue is the bounded queue and dispatcher pool between
// FileWatcher/Debouncer and NotePipeline (spec §4.8): debounced
// FileEvents are pushed in, a configurable backpressure policy decides
// what happens when the queue is full, and a pool of workers drains it,
// each worker holding a per-path lock so at most one pipeline run is
// in flight for any given path at a time.
package eventqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/cuemby/vaultdex/pkg/metrics"
	"github.com/cuemby/vaultdex/pkg/watch"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Policy names a backpressure strategy applied when the queue is full.
type Policy string

const (
	// DropNew refuses the incoming event, keeping the queue as-is.
	DropNew Policy = "drop_new"
	// DropOldest evicts the queue's oldest buffered event to make room.
	DropOldest Policy = "drop_oldest"
	// Block waits for room, applying backpressure to the producer.
	Block Policy = "block"
	// DropLowPriority evicts the oldest non-high-priority event if one
	// exists, falling back to DropNew if every buffered event is
	// high-priority.
	DropLowPriority Policy = "drop_low_priority"
)

// DefaultCapacity is the typical queue depth named in spec §4.8.
const DefaultCapacity = 1024

// QueueFullError is returned by Push under DropNew (and as the
// DropLowPriority fallback) when the queue has no room, and by a Block
// push once the queue has been closed.
type QueueFullError struct{ Capacity int }

func (e *QueueFullError) Error() string {
	return "eventqueue: full"
}

// IsHighPriority reports whether an event should be preserved over
// lower-priority events under DropLowPriority. Deleted events are high
// priority, per spec §4.8, since dropping them risks leaving a stale
// entry indexed after the file is gone.
func IsHighPriority(ev watch.FileEvent) bool {
	return ev.Kind == watch.Deleted
}

// Stats mirrors spec §4.8's reporting shape.
type Stats struct {
	CurrentSize int
	Capacity    int
	Processed   int64
	Dropped     int64
	FillRatio   float64
}

// Dispatch is invoked once per drained event, with the per-path lock
// already held for the event's path.
type Dispatch func(ctx context.Context, ev watch.FileEvent)

// Queue is a bounded, policy-driven buffer of watch.FileEvents feeding
// a worker pool.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []watch.FileEvent
	capacity int
	policy   Policy
	closed   bool

	processed atomic.Int64
	dropped   atomic.Int64

	pathLocks sync.Map // path -> *sync.Mutex
	logger    zerolog.Logger
}

// New constructs a Queue. capacity <= 0 uses DefaultCapacity.
func New(capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		buf:      make([]watch.FileEvent, 0, capacity),
		capacity: capacity,
		policy:   policy,
		logger:   log.WithComponent("eventqueue"),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Close wakes every blocked pusher and waiting worker, used to unwind
// RunDispatchers cleanly on shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Push applies the queue's configured backpressure policy and adds ev,
// unless the policy rejects it outright (DropNew, or DropLowPriority
// with nothing evictable).
func (q *Queue) Push(ev watch.FileEvent) error {
	q.mu.Lock()
	if len(q.buf) < q.capacity {
		q.buf = append(q.buf, ev)
		q.mu.Unlock()
		q.cond.Broadcast()
		return nil
	}

	switch q.policy {
	case DropOldest:
		evicted := q.buf[0]
		q.buf = append(q.buf[1:], ev)
		q.dropped.Add(1)
		q.mu.Unlock()
		metrics.EventQueueDropsTotal.WithLabelValues(string(DropOldest)).Inc()
		q.logger.Warn().Str("policy", string(DropOldest)).Str("path", evicted.Path).Msg("event queue full, dropping oldest")
		q.cond.Broadcast()
		return nil

	case DropLowPriority:
		if idx := q.findLowPriorityLocked(); idx >= 0 {
			evicted := q.buf[idx]
			q.buf = append(q.buf[:idx], q.buf[idx+1:]...)
			q.buf = append(q.buf, ev)
			q.dropped.Add(1)
			q.mu.Unlock()
			metrics.EventQueueDropsTotal.WithLabelValues(string(DropLowPriority)).Inc()
			q.logger.Warn().Str("policy", string(DropLowPriority)).Str("path", evicted.Path).Msg("event queue full, dropping low-priority event")
			q.cond.Broadcast()
			return nil
		}
		q.mu.Unlock()
		q.dropped.Add(1)
		metrics.EventQueueDropsTotal.WithLabelValues(string(DropNew)).Inc()
		q.logger.Warn().Str("policy", string(DropLowPriority)).Str("path", ev.Path).Msg("event queue full and every buffered event is high priority, dropping new event")
		return &QueueFullError{Capacity: q.capacity}

	case Block:
		return q.pushBlockingLocked(ev)

	default: // DropNew
		q.mu.Unlock()
		q.dropped.Add(1)
		metrics.EventQueueDropsTotal.WithLabelValues(string(DropNew)).Inc()
		q.logger.Warn().Str("policy", string(DropNew)).Str("path", ev.Path).Msg("event queue full, dropping new event")
		return &QueueFullError{Capacity: q.capacity}
	}
}

func (q *Queue) findLowPriorityLocked() int {
	for i, ev := range q.buf {
		if !IsHighPriority(ev) {
			return i
		}
	}
	return -1
}

// pushBlockingLocked waits on q.cond until room opens up or the queue
// is closed. Caller holds q.mu on entry; it is released while waiting.
func (q *Queue) pushBlockingLocked(ev watch.FileEvent) error {
	for len(q.buf) >= q.capacity && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		q.mu.Unlock()
		return &QueueFullError{Capacity: q.capacity}
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()
	q.cond.Broadcast()
	return nil
}

// pop removes and returns the oldest buffered event, blocking on q.cond
// until one is available or the queue is closed.
func (q *Queue) pop() (watch.FileEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return watch.FileEvent{}, false
	}
	ev := q.buf[0]
	q.buf = q.buf[1:]
	q.cond.Broadcast() // wake any pushBlockingLocked waiters
	return ev, true
}

// Depth satisfies metrics.QueueStats.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Stats reports the queue's current shape.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	size := len(q.buf)
	q.mu.Unlock()
	ratio := 0.0
	if q.capacity > 0 {
		ratio = float64(size) / float64(q.capacity)
	}
	return Stats{
		CurrentSize: size,
		Capacity:    q.capacity,
		Processed:   q.processed.Load(),
		Dropped:     q.dropped.Load(),
		FillRatio:   ratio,
	}
}

func (q *Queue) lockFor(path string) *sync.Mutex {
	v, _ := q.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RunDispatchers starts n worker goroutines, each draining the queue
// and invoking dispatch with the event's per-path lock held, so two
// events for the same path never run concurrently. Blocks until ctx is
// cancelled and every in-flight dispatch finishes.
func (q *Queue) RunDispatchers(ctx context.Context, n int, dispatch Dispatch) error {
	if n <= 0 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return q.worker(ctx, dispatch)
		})
	}
	return g.Wait()
}

func (q *Queue) worker(ctx context.Context, dispatch Dispatch) error {
	// Wake pop()'s cond.Wait when ctx is cancelled, since sync.Cond has
	// no native context support.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			q.Close()
		case <-stopWatch:
		}
	}()

	for {
		ev, ok := q.pop()
		if !ok {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		lock := q.lockFor(ev.Path)
		lock.Lock()
		dispatch(ctx, ev)
		lock.Unlock()
		q.processed.Add(1)
	}
}
