package txconsumer

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/cuemby/vaultdex/pkg/txqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T) (*Consumer, *txqueue.Queue, store.Store) {
	t.Helper()
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	q := txqueue.New(8)
	cfg := DefaultConfig()
	cfg.ApplyTimeout = 2 * time.Second
	cfg.MaxRetries = 1
	c := New(q, backing, nil, cfg)
	return c, q, backing
}

func TestConsumerAppliesCreateTransaction(t *testing.T) {
	c, q, backing := newTestConsumer(t)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	require.NoError(t, q.Enqueue(txqueue.DatabaseTransaction{
		ID:   "1",
		Kind: txqueue.Create,
		Path: "/a.md",
		Note: &blocks.EnrichedNote{
			Note: blocks.ParsedNote{Path: "/a.md"},
		},
		FileState: blocks.FileState{FileHash: hashutil.Sum([]byte("x")), FileSize: 1},
	}))

	require.Eventually(t, func() bool {
		_, found, err := backing.GetNote("/a.md")
		return err == nil && found
	}, time.Second, 10*time.Millisecond)

	cancel()
	c.Shutdown()
}

func TestConsumerAppliesDeleteTransaction(t *testing.T) {
	c, q, backing := newTestConsumer(t)
	require.NoError(t, backing.ApplyNoteTransaction(store.NoteTransaction{
		Path: "/a.md", Note: store.NoteRecord{Path: "/a.md"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	require.NoError(t, q.Enqueue(txqueue.DatabaseTransaction{ID: "1", Kind: txqueue.Delete, Path: "/a.md"}))

	require.Eventually(t, func() bool {
		_, found, err := backing.GetNote("/a.md")
		return err == nil && !found
	}, time.Second, 10*time.Millisecond)

	cancel()
	c.Shutdown()
}

func TestConsumerDeleteReconcilesBlockRefsEmbeddingsAndRelations(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	h := hashutil.Sum([]byte("block content"))
	require.NoError(t, backing.PutBlock(store.BlockRecord{Hash: h, Content: "block content"}))
	require.NoError(t, backing.ApplyNoteTransaction(store.NoteTransaction{
		Path: "/a.md",
		File: store.FileRecord{BlockHashes: []hashutil.Hash{h}},
		Note: store.NoteRecord{Path: "/a.md"},
		Embeddings: []store.EmbeddingRecord{
			{Path: "/a.md", Position: 0, Hash: h, Vector: []float32{1, 2}},
		},
	}))
	require.NoError(t, backing.AddBlockRef(h, store.BlockRef{Path: "/a.md", Position: 0}))
	require.NoError(t, backing.PutRelation(store.RelationRecord{Source: "/a.md", Target: "/b.md", Kind: "link"}))

	broker := events.NewBroker(10)
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	q := txqueue.New(8)
	cfg := DefaultConfig()
	cfg.ApplyTimeout = 2 * time.Second
	cfg.MaxRetries = 1
	c := New(q, backing, broker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	defer func() { cancel(); c.Shutdown() }()

	require.NoError(t, q.Enqueue(txqueue.DatabaseTransaction{ID: "1", Kind: txqueue.Delete, Path: "/a.md"}))

	select {
	case ev := <-sub:
		assert.Equal(t, events.NoteDeleted, ev.Type)
		assert.Equal(t, "/a.md", ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NoteDeleted")
	}

	require.Eventually(t, func() bool {
		refs, err := backing.ListBlockRefs(h)
		require.NoError(t, err)
		embeddings, err := backing.ListEmbeddingsByPath("/a.md")
		require.NoError(t, err)
		relations, err := backing.ListRelationsBySource("/a.md")
		require.NoError(t, err)
		return len(refs) == 0 && len(embeddings) == 0 && len(relations) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConsumerEmitsTransactionFailedOnFatalError(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	broker := events.NewBroker(10)
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	q := txqueue.New(8)
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	c := New(q, backing, broker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	// A Create/Update transaction with no Note is rejected as fatal.
	require.NoError(t, q.Enqueue(txqueue.DatabaseTransaction{ID: "1", Kind: txqueue.Update, Path: "/bad.md"}))

	select {
	case ev := <-sub:
		assert.Equal(t, events.TransactionFailed, ev.Type)
		assert.Equal(t, "/bad.md", ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TransactionFailed")
	}

	cancel()
	c.Shutdown()
}
