// Package consistency is the ConsistencyGate (spec §4.13): wraps the
// backing store for reads at one of three levels, trading freshness
// for latency the way the caller asks.
package consistency

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/cuemby/vaultdex/pkg/txqueue"
)

// Level selects how fresh a read must be.
type Level string

const (
	// Eventual returns whatever the backing store currently holds,
	// ignoring any writes still sitting in the TransactionQueue.
	Eventual Level = "eventual"
	// ReadAfterWrite overlays the TransactionQueue's pending view for
	// the requested path on top of the store's committed state, so a
	// read immediately following a write from the same session sees
	// its own write even before the consumer has applied it.
	ReadAfterWrite Level = "read_after_write"
	// Strong blocks until the consumer has applied every transaction
	// enqueued before the read began (or MaxWaitTime elapses), then
	// reads the store directly.
	Strong Level = "strong"
)

// DefaultMaxWaitTime is spec.md §4.13's typical Strong-read bound.
const DefaultMaxWaitTime = 5 * time.Second

// ErrBatchTimeout is returned by a Strong read that could not confirm
// the backing store had caught up within MaxWaitTime.
var ErrBatchTimeout = errors.New("consistency: strong read timed out waiting for pending writes to apply")

// Flusher is satisfied by txconsumer.Consumer: something that can report
// whether it has drained every transaction enqueued so far.
type Flusher interface {
	// Caught means no transaction remains pending for any path — the
	// consumer has applied everything it was handed up to this point.
	Caught() bool
}

// Gate is the ConsistencyGate capability.
type Gate struct {
	backing     store.Store
	queue       *txqueue.Queue
	consumer    Flusher
	maxWaitTime time.Duration
}

// New constructs a Gate. consumer may be nil, in which case Strong reads
// do not wait at all and read the store directly (used in tests that
// exercise the queue without a live consumer goroutine).
func New(backing store.Store, queue *txqueue.Queue, consumer Flusher) *Gate {
	return &Gate{backing: backing, queue: queue, consumer: consumer, maxWaitTime: DefaultMaxWaitTime}
}

// WithMaxWaitTime overrides DefaultMaxWaitTime.
func (g *Gate) WithMaxWaitTime(d time.Duration) *Gate {
	g.maxWaitTime = d
	return g
}

// GetNote reads path's note record at the requested consistency level.
func (g *Gate) GetNote(ctx context.Context, path string, level Level) (store.NoteRecord, bool, error) {
	switch level {
	case ReadAfterWrite:
		return g.getNoteReadAfterWrite(path)
	case Strong:
		if err := g.awaitCaughtUp(ctx); err != nil {
			return store.NoteRecord{}, false, err
		}
		return g.backing.GetNote(path)
	default: // Eventual
		return g.backing.GetNote(path)
	}
}

// getNoteReadAfterWrite overlays a still-pending write for path, if one
// exists, on top of the store's committed record.
func (g *Gate) getNoteReadAfterWrite(path string) (store.NoteRecord, bool, error) {
	if g.queue != nil {
		if tx, ok := g.queue.Pending(path); ok {
			if tx.Kind == txqueue.Delete {
				return store.NoteRecord{}, false, nil
			}
			if tx.Note != nil {
				return noteRecordFromTransaction(tx), true, nil
			}
		}
	}
	return g.backing.GetNote(path)
}

func noteRecordFromTransaction(tx txqueue.DatabaseTransaction) store.NoteRecord {
	note := tx.Note.Note
	var title string
	if note.Frontmatter != nil {
		title = note.Frontmatter.Fields["title"]
	}
	return store.NoteRecord{
		Path:        tx.Path,
		Title:       title,
		Frontmatter: note.Frontmatter,
		MerkleRoot:  note.MerkleRoot,
		ParsedAt:    note.ParsedAt,
		FileSize:    note.FileSize,
	}
}

// awaitCaughtUp blocks until the consumer reports nothing pending, the
// context is cancelled, or maxWaitTime elapses — whichever comes first —
// mirroring the teacher's Manager.Apply bounded-future idiom
// (raft.Apply(data, 5*time.Second)) adapted to a poll loop since the
// consumer has no future/promise API of its own.
func (g *Gate) awaitCaughtUp(ctx context.Context) error {
	if g.consumer == nil {
		return nil
	}
	deadline := time.Now().Add(g.maxWaitTime)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if g.consumer.Caught() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBatchTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
