package reactor

import (
	"context"
	"testing"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/enrich"
	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationInferenceHandlerPersistsSharedBlockRelations(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer backing.Close()

	shared := hashutil.Sum([]byte("shared block"))
	unique1 := hashutil.Sum([]byte("unique 1"))
	unique2 := hashutil.Sum([]byte("unique 2"))

	seed := func(path string, hashes []hashutil.Hash) {
		require.NoError(t, backing.ApplyNoteTransaction(store.NoteTransaction{
			Path: path,
			File: store.FileRecord{State: blocks.FileState{}, BlockHashes: hashes},
			Note: store.NoteRecord{Path: path},
		}))
	}
	seed("/a.md", []hashutil.Hash{shared, unique1})
	seed("/b.md", []hashutil.Hash{shared, unique2})

	r := New(FailOpen)
	require.NoError(t, r.Register(NewRelationInferenceHandler(backing, enrich.RelationConfig{MinOverlappingBlocks: 1, CosineThreshold: 0})))

	outcome := r.Emit(context.Background(), &events.Event{Type: events.BlocksUpdated, Path: "/a.md"})
	assert.Equal(t, OutcomeCompleted, outcome.Kind)

	rels, err := backing.ListRelationsBySource("/a.md")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "shares_blocks", rels[0].Kind)
	assert.Equal(t, "/b.md", rels[0].Target)
}
