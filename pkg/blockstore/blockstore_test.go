package blockstore

import (
	"testing"
	"time"

	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlockStore(t *testing.T) (*Store, store.Store) {
	t.Helper()
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	return New(backing, nil), backing
}

func TestPutIsIdempotent(t *testing.T) {
	bs, _ := newTestBlockStore(t)
	h := hashutil.Sum([]byte("hello"))

	require.NoError(t, bs.Put(h, store.BlockRecord{Hash: h, Content: "hello"}))
	require.NoError(t, bs.Put(h, store.BlockRecord{Hash: h, Content: "hello"}))

	exists, err := bs.Exists(h)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReconcileRefsFiresBlocksUpdated(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	broker := events.NewBroker(10)
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	bs := New(backing, broker)
	h := hashutil.Sum([]byte("x"))
	require.NoError(t, bs.Put(h, store.BlockRecord{Hash: h, Content: "x"}))
	require.NoError(t, bs.ReconcileRefs("/a.md", []hashutil.Hash{h}, nil, map[hashutil.Hash]int{h: 0}))

	select {
	case ev := <-sub:
		assert.Equal(t, events.BlocksUpdated, ev.Type)
		assert.Equal(t, "/a.md", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BlocksUpdated")
	}
}

func TestFindDocumentsWithBlock(t *testing.T) {
	bs, _ := newTestBlockStore(t)
	h := hashutil.Sum([]byte("shared"))
	require.NoError(t, bs.Put(h, store.BlockRecord{Hash: h, Content: "shared"}))
	require.NoError(t, bs.ReconcileRefs("/a.md", []hashutil.Hash{h}, nil, map[hashutil.Hash]int{h: 0}))
	require.NoError(t, bs.ReconcileRefs("/b.md", []hashutil.Hash{h}, nil, map[hashutil.Hash]int{h: 3}))

	docs, err := bs.FindDocumentsWithBlock(h)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/a.md", "/b.md"}, docs)
}

func TestFindDuplicatesThreshold(t *testing.T) {
	bs, _ := newTestBlockStore(t)
	shared := hashutil.Sum([]byte("shared"))
	unique := hashutil.Sum([]byte("unique"))

	require.NoError(t, bs.Put(shared, store.BlockRecord{Hash: shared, Content: "shared"}))
	require.NoError(t, bs.Put(unique, store.BlockRecord{Hash: unique, Content: "unique"}))
	require.NoError(t, bs.ReconcileRefs("/a.md", []hashutil.Hash{shared, unique}, nil, map[hashutil.Hash]int{shared: 0, unique: 1}))
	require.NoError(t, bs.ReconcileRefs("/b.md", []hashutil.Hash{shared}, nil, map[hashutil.Hash]int{shared: 0}))

	dups, err := bs.FindDuplicates(2)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, shared, dups[0].Hash)
	assert.Equal(t, 2, dups[0].Count)
}

func TestStatsComputesDedupRatio(t *testing.T) {
	bs, _ := newTestBlockStore(t)
	shared := hashutil.Sum([]byte("shared"))
	require.NoError(t, bs.Put(shared, store.BlockRecord{Hash: shared, Content: "shared"}))
	require.NoError(t, bs.ReconcileRefs("/a.md", []hashutil.Hash{shared}, nil, map[hashutil.Hash]int{shared: 0}))
	require.NoError(t, bs.ReconcileRefs("/b.md", []hashutil.Hash{shared}, nil, map[hashutil.Hash]int{shared: 0}))

	stats, err := bs.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UniqueBlocks)
	assert.Equal(t, 2, stats.TotalInstances)
	assert.InDelta(t, 0.5, stats.DedupRatio, 0.001)
}

func TestReconcileRefsRemovesStale(t *testing.T) {
	bs, _ := newTestBlockStore(t)
	h := hashutil.Sum([]byte("x"))
	require.NoError(t, bs.Put(h, store.BlockRecord{Hash: h, Content: "x"}))
	require.NoError(t, bs.ReconcileRefs("/a.md", []hashutil.Hash{h}, nil, map[hashutil.Hash]int{h: 0}))
	require.NoError(t, bs.ReconcileRefs("/a.md", nil, []hashutil.Hash{h}, map[hashutil.Hash]int{h: 0}))

	docs, err := bs.FindDocumentsWithBlock(h)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
