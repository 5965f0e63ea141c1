package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/cuemby/vaultdex/pkg/txqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransaction(path, title string) txqueue.DatabaseTransaction {
	return txqueue.DatabaseTransaction{
		ID:   path + "-1",
		Kind: txqueue.Create,
		Path: path,
		Note: &blocks.EnrichedNote{
			Note: blocks.ParsedNote{
				Path:        path,
				Frontmatter: &blocks.Frontmatter{Fields: map[string]string{"title": title}},
			},
		},
	}
}

func TestEventualIgnoresPendingWrites(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	q := txqueue.New(8)
	require.NoError(t, q.Enqueue(newTransaction("/a.md", "Pending Title")))

	g := New(backing, q, nil)
	_, found, err := g.GetNote(context.Background(), "/a.md", Eventual)
	require.NoError(t, err)
	assert.False(t, found, "eventual read must not see a write still sitting in the queue")
}

func TestReadAfterWriteSeesOwnPendingWrite(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	q := txqueue.New(8)
	require.NoError(t, q.Enqueue(newTransaction("/a.md", "Pending Title")))

	g := New(backing, q, nil)
	note, found, err := g.GetNote(context.Background(), "/a.md", ReadAfterWrite)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Pending Title", note.Title)
}

func TestReadAfterWriteFallsBackToStoreWhenNothingPending(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	require.NoError(t, backing.ApplyNoteTransaction(store.NoteTransaction{
		Path: "/a.md",
		File: store.FileRecord{},
		Note: store.NoteRecord{Path: "/a.md", Title: "Committed Title"},
	}))

	q := txqueue.New(8)
	g := New(backing, q, nil)
	note, found, err := g.GetNote(context.Background(), "/a.md", ReadAfterWrite)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Committed Title", note.Title)
}

type fakeFlusher struct{ caught bool }

func (f *fakeFlusher) Caught() bool { return f.caught }

func TestStrongReadWaitsUntilCaughtUp(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	q := txqueue.New(8)
	flusher := &fakeFlusher{caught: false}
	g := New(backing, q, flusher).WithMaxWaitTime(200 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		flusher.caught = true
	}()

	_, _, err = g.GetNote(context.Background(), "/a.md", Strong)
	assert.NoError(t, err)
}

func TestStrongReadTimesOut(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	q := txqueue.New(8)
	flusher := &fakeFlusher{caught: false}
	g := New(backing, q, flusher).WithMaxWaitTime(20 * time.Millisecond)

	_, _, err = g.GetNote(context.Background(), "/a.md", Strong)
	assert.ErrorIs(t, err, ErrBatchTimeout)
}
