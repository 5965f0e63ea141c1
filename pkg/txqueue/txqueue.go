// Package txqueue is the TransactionQueue (spec §4.9): a bounded,
// multi-producer single-consumer channel of DatabaseTransactions feeding
// the one TransactionConsumer responsible for all backing-store writes.
package txqueue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/hashutil"
)

// Kind distinguishes the two transaction shapes the pipeline enqueues.
type Kind string

const (
	Create Kind = "create"
	Update Kind = "update"
	Delete Kind = "delete"
)

// DatabaseTransaction is the unit phase 4 hands to the queue: either a
// create/update carrying an enriched note plus its Merkle block hashes
// and inferred relations, or a delete for a removed path.
type DatabaseTransaction struct {
	ID               string // matched by ClearPending; the consumer does not deduplicate by ID, so a duplicate enqueue is applied again
	Kind             Kind
	Path             string
	Note             *blocks.EnrichedNote
	FileState        blocks.FileState
	BlockHashes      []hashutil.Hash
	RemovedPositions []int // positions whose blocks/embeddings were dropped by this reparse
	Relations        []blocks.InferredRelation
	EnqueuedAt       time.Time
}

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("txqueue: queue full")

// ErrShuttingDown is returned by Enqueue once Shutdown has been called.
var ErrShuttingDown = errors.New("txqueue: shutting down")

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	CurrentSize int
	Capacity    int
	Processed   int64
	Dropped     int64
}

// Queue is the bounded MPSC transaction queue.
type Queue struct {
	ch        chan DatabaseTransaction
	capacity  int
	processed atomic.Int64
	dropped   atomic.Int64
	closed    atomic.Bool

	pendingMu sync.RWMutex
	pending   map[string]DatabaseTransaction // path -> most recently enqueued, not-yet-applied tx
}

// New constructs a Queue with the given bounded capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch:       make(chan DatabaseTransaction, capacity),
		capacity: capacity,
		pending:  make(map[string]DatabaseTransaction),
	}
}

// trackPending records tx as the latest not-yet-applied write for its
// path, so a ConsistencyLevel of ReadAfterWrite can see it before the
// TransactionConsumer gets around to applying it.
func (q *Queue) trackPending(tx DatabaseTransaction) {
	q.pendingMu.Lock()
	q.pending[tx.Path] = tx
	q.pendingMu.Unlock()
}

// Pending returns the most recently enqueued, not-yet-applied
// transaction for path, if any.
func (q *Queue) Pending(path string) (DatabaseTransaction, bool) {
	q.pendingMu.RLock()
	defer q.pendingMu.RUnlock()
	tx, ok := q.pending[path]
	return tx, ok
}

// ClearPending removes path's pending entry once id has been applied,
// but only if no newer transaction for the same path has since been
// enqueued (which would have replaced the entry with a different ID).
func (q *Queue) ClearPending(path, id string) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if tx, ok := q.pending[path]; ok && tx.ID == id {
		delete(q.pending, path)
	}
}

// Enqueue implements spec §4.9's "Block" backpressure default for the
// TransactionQueue: producers pause when the writer falls behind rather
// than dropping a write. Returns ErrShuttingDown if Shutdown has been
// called; otherwise it blocks until the channel has room and returns nil.
func (q *Queue) Enqueue(tx DatabaseTransaction) error {
	if q.closed.Load() {
		return ErrShuttingDown
	}
	tx.EnqueuedAt = time.Now()
	q.trackPending(tx)
	q.ch <- tx
	return nil
}

// TryEnqueue is a non-blocking variant used by callers that would rather
// surface ErrQueueFull than stall (e.g. a deletion handler racing shutdown).
func (q *Queue) TryEnqueue(tx DatabaseTransaction) error {
	if q.closed.Load() {
		return ErrShuttingDown
	}
	tx.EnqueuedAt = time.Now()
	select {
	case q.ch <- tx:
		q.trackPending(tx)
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Subscribe returns the receive side of the queue for the single
// TransactionConsumer to range over.
func (q *Queue) Subscribe() <-chan DatabaseTransaction {
	return q.ch
}

// MarkProcessed records a successfully applied transaction for Stats.
func (q *Queue) MarkProcessed() {
	q.processed.Add(1)
}

// Shutdown stops accepting new transactions. It does not close the
// channel: in-flight transactions already buffered are left for the
// consumer to drain.
func (q *Queue) Shutdown() {
	q.closed.Store(true)
}

// Depth reports the current number of buffered transactions, satisfying
// metrics.QueueStats.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// AllCaughtUp reports whether every enqueued transaction has been
// applied: nothing buffered in the channel and no path has a pending
// write still outstanding. Used by consistency.Gate's Strong reads.
func (q *Queue) AllCaughtUp() bool {
	q.pendingMu.RLock()
	pending := len(q.pending)
	q.pendingMu.RUnlock()
	return pending == 0 && len(q.ch) == 0
}

// Stats returns a point-in-time snapshot.
func (q *Queue) Stats() Stats {
	return Stats{
		CurrentSize: len(q.ch),
		Capacity:    q.capacity,
		Processed:   q.processed.Load(),
		Dropped:     q.dropped.Load(),
	}
}
