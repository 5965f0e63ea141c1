// Package txconsumer is the TransactionConsumer (spec §4.10): the single
// task draining the TransactionQueue and applying each transaction to the
// backing store, retrying transient failures and dropping fatal ones.
package txconsumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/cuemby/vaultdex/pkg/metrics"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/cuemby/vaultdex/pkg/txqueue"
	"github.com/rs/zerolog"
)

// Config controls per-transaction timeout, retry budget, and batching.
type Config struct {
	ApplyTimeout   time.Duration
	MaxRetries     int
	EnableBatching bool
	BatchWindow    time.Duration
}

// DefaultConfig returns the typical values spec.md §4.10 names.
func DefaultConfig() Config {
	return Config{
		ApplyTimeout: 10 * time.Second,
		MaxRetries:   3,
		BatchWindow:  50 * time.Millisecond,
	}
}

// FatalApplyError wraps an error the Consumer has classified as
// non-retryable (schema/constraint failure) rather than transient I/O.
type FatalApplyError struct {
	Err error
}

func (e *FatalApplyError) Error() string { return e.Err.Error() }
func (e *FatalApplyError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable so Consumer.apply drops it immediately
// instead of retrying — used by callers that already know a failure is a
// schema/constraint violation rather than transient I/O.
func Fatal(err error) error {
	return &FatalApplyError{Err: err}
}

// Consumer is the TransactionConsumer capability: a single goroutine
// applying transactions from a txqueue.Queue to a store.Store.
type Consumer struct {
	queue   *txqueue.Queue
	backing store.Store
	broker  *events.Broker
	cfg     Config
	logger  zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Consumer. broker may be nil in tests.
func New(queue *txqueue.Queue, backing store.Store, broker *events.Broker, cfg Config) *Consumer {
	return &Consumer{
		queue:   queue,
		backing: backing,
		broker:  broker,
		cfg:     cfg,
		logger:  log.WithComponent("txconsumer"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run drains the queue until Shutdown is called, applying transactions
// one at a time (or in small same-kind batches when EnableBatching is
// set) to enforce the single total write-order serialization point spec
// §5 requires.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.doneCh)
	ch := c.queue.Subscribe()

	for {
		select {
		case <-c.stopCh:
			c.drain(ctx, ch)
			return
		case <-ctx.Done():
			c.drain(ctx, ch)
			return
		case tx, ok := <-ch:
			if !ok {
				return
			}
			batch := []txqueue.DatabaseTransaction{tx}
			if c.cfg.EnableBatching {
				batch = c.collectBatch(ch, tx)
			}
			for _, t := range batch {
				c.applyWithRetry(ctx, t)
			}
		}
	}
}

// collectBatch opportunistically drains additional same-kind
// transactions already buffered in the channel; it does not wait for
// more to arrive. The first transaction of a different kind ends the
// batch and is returned last. Run applies each returned transaction
// separately, in order; they are not merged into one backing-store
// operation.
func (c *Consumer) collectBatch(ch <-chan txqueue.DatabaseTransaction, first txqueue.DatabaseTransaction) []txqueue.DatabaseTransaction {
	batch := []txqueue.DatabaseTransaction{first}
	deadline := time.After(c.cfg.BatchWindow)
	for {
		select {
		case tx := <-ch:
			if tx.Kind != first.Kind {
				// Different kind: end the batch with it, so Run applies
				// it next on this goroutine and enqueue order is kept.
				return append(batch, tx)
			}
			batch = append(batch, tx)
		case <-deadline:
			return batch
		default:
			return batch
		}
	}
}

// drain applies whatever transactions are already buffered before
// returning, per spec §4.10's shutdown contract.
func (c *Consumer) drain(ctx context.Context, ch <-chan txqueue.DatabaseTransaction) {
	for {
		select {
		case tx, ok := <-ch:
			if !ok {
				return
			}
			c.applyWithRetry(ctx, tx)
		default:
			return
		}
	}
}

// Caught reports whether every transaction enqueued so far has been
// applied, satisfying consistency.Flusher for Strong reads.
func (c *Consumer) Caught() bool {
	return c.queue.AllCaughtUp()
}

// Shutdown signals Run to stop accepting the select loop after draining
// in-flight buffered transactions, and blocks until it has returned.
func (c *Consumer) Shutdown() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Consumer) applyWithRetry(ctx context.Context, tx txqueue.DatabaseTransaction) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TransactionApplyDuration)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	applyCtx, cancel := context.WithTimeout(ctx, c.cfg.ApplyTimeout)
	defer cancel()

	var fatal *FatalApplyError
	operation := func() error {
		err := c.apply(applyCtx, tx)
		if err == nil {
			return nil
		}
		if errors.As(err, &fatal) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(c.cfg.MaxRetries)))
	if err != nil {
		c.logger.Error().Str("path", tx.Path).Str("tx_id", tx.ID).Err(err).Msg("transaction failed")
		metrics.TransactionsAppliedTotal.WithLabelValues("failed").Inc()
		if c.broker != nil {
			c.broker.Publish(&events.Event{
				Type:      events.TransactionFailed,
				Path:      tx.Path,
				Timestamp: time.Now(),
				Err:       err,
			})
		}
		return
	}

	c.queue.MarkProcessed()
	c.queue.ClearPending(tx.Path, tx.ID)
	metrics.TransactionsAppliedTotal.WithLabelValues("success").Inc()
}

func (c *Consumer) apply(ctx context.Context, tx txqueue.DatabaseTransaction) error {
	switch tx.Kind {
	case txqueue.Delete:
		return c.applyDelete(tx)
	case txqueue.Create, txqueue.Update:
		return c.applyUpsert(tx)
	default:
		return Fatal(errors.New("txconsumer: unknown transaction kind"))
	}
}

// applyDelete tears down every bucket a note's presence touched: the
// reverse block-ref index (so orphaned blocks become visible to
// pkg/gc), the note's embeddings, its outgoing relations, the note
// record itself, and its file-state entry.
func (c *Consumer) applyDelete(tx txqueue.DatabaseTransaction) error {
	file, ok, err := c.backing.GetFile(tx.Path)
	if err != nil {
		return err
	}
	if ok {
		for pos, hash := range file.BlockHashes {
			if err := c.backing.RemoveBlockRef(hash, store.BlockRef{Path: tx.Path, Position: pos}); err != nil {
				return err
			}
		}
	}

	embeddings, err := c.backing.ListEmbeddingsByPath(tx.Path)
	if err != nil {
		return err
	}
	for _, e := range embeddings {
		if err := c.backing.DeleteEmbedding(tx.Path, e.Position); err != nil {
			return err
		}
	}

	if err := c.backing.DeleteRelationsBySource(tx.Path); err != nil {
		return err
	}
	if err := c.backing.DeleteNote(tx.Path); err != nil {
		return err
	}
	if err := c.backing.DeleteFile(tx.Path); err != nil {
		return err
	}

	if c.broker != nil {
		c.broker.Publish(&events.Event{
			Type: events.NoteDeleted,
			Path: tx.Path,
		})
	}
	return nil
}

func (c *Consumer) applyUpsert(tx txqueue.DatabaseTransaction) error {
	if tx.Note == nil {
		return Fatal(errors.New("txconsumer: upsert transaction missing note"))
	}
	note := tx.Note.Note

	embeddings := make([]store.EmbeddingRecord, 0, len(tx.Note.Embeddings))
	for pos, vec := range tx.Note.Embeddings {
		embeddings = append(embeddings, store.EmbeddingRecord{
			Path:     tx.Path,
			Position: pos,
			Vector:   vec,
		})
	}

	relations := make([]store.RelationRecord, 0, len(tx.Relations))
	for _, r := range tx.Relations {
		relations = append(relations, store.RelationRecord{
			Source:     r.SourcePath,
			Target:     r.TargetPath,
			Kind:       r.Kind,
			Confidence: r.Confidence,
			Context:    r.ContextSpan,
		})
	}

	return c.backing.ApplyNoteTransaction(store.NoteTransaction{
		Path: tx.Path,
		File: store.FileRecord{
			State:       tx.FileState,
			BlockHashes: tx.BlockHashes,
		},
		Note: store.NoteRecord{
			Path:        tx.Path,
			Title:       titleOf(note),
			Frontmatter: note.Frontmatter,
			MerkleRoot:  note.MerkleRoot,
			ParsedAt:    note.ParsedAt,
			FileSize:    note.FileSize,
		},
		Embeddings:          embeddings,
		RemovedPositions:    tx.RemovedPositions,
		Relations:           relations,
		ReplaceAllRelations: true,
	})
}

// titleOf picks a note's display title: frontmatter "title" field first,
// then the content of its first heading block, else empty.
func titleOf(note blocks.ParsedNote) string {
	if note.Frontmatter != nil {
		if t, ok := note.Frontmatter.Fields["title"]; ok && t != "" {
			return t
		}
	}
	for _, b := range note.Blocks {
		if b.Kind == blocks.KindHeading {
			return b.Content
		}
	}
	return ""
}
