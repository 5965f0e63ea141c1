package changedetect

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/merkle"
	"github.com/cuemby/vaultdex/pkg/parser"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T) (*Detector, store.Store, string) {
	t.Helper()
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	return New(backing, parser.NewDefaultParser(), 0), backing, t.TempDir()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedFileState parses content and persists the FileState and block hash
// list a prior successful run would have left behind for path.
func seedFileState(t *testing.T, backing store.Store, path string, content []byte) store.FileRecord {
	t.Helper()
	parsed, err := parser.NewDefaultParser().Parse(context.Background(), path, content)
	require.NoError(t, err)
	parsed = merkle.Apply(parsed)

	hashes := make([]hashutil.Hash, len(parsed.Blocks))
	for i, b := range parsed.Blocks {
		hashes[i] = b.ContentHash
	}

	info, err := os.Stat(path)
	require.NoError(t, err)

	rec := store.FileRecord{
		State: blocks.FileState{
			FileHash:     hashutil.Sum(content),
			ModifiedTime: info.ModTime(),
			FileSize:     info.Size(),
		},
		BlockHashes: hashes,
	}
	require.NoError(t, backing.ApplyNoteTransaction(store.NoteTransaction{
		Path: path,
		File: rec,
		Note: store.NoteRecord{Path: path},
	}))
	return rec
}

func TestClassifyDeletedWhenAbsentAndNoStoredState(t *testing.T) {
	d, _, dir := newTestDetector(t)
	c, err := d.Classify(context.Background(), filepath.Join(dir, "missing.md"))
	require.NoError(t, err)
	assert.Equal(t, Deleted, c.Status)
}

func TestClassifyNewWhenNoStoredState(t *testing.T) {
	d, _, dir := newTestDetector(t)
	path := writeFile(t, dir, "a.md", "# Title\n\nHello world.\n")

	c, err := d.Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, New, c.Status)
	assert.False(t, c.Current.FileHash.IsZero())
}

func TestClassifyUnchangedWhenHashAndSizeMatch(t *testing.T) {
	d, backing, dir := newTestDetector(t)
	path := writeFile(t, dir, "a.md", "# Title\n\nHello world.\n")
	content, _ := os.ReadFile(path)
	seedFileState(t, backing, path, content)

	c, err := d.Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, c.Status)
}

func TestClassifyChangedDetectsAddedBlock(t *testing.T) {
	d, backing, dir := newTestDetector(t)
	path := writeFile(t, dir, "a.md", "# Title\n\nHello world.\n")
	content, _ := os.ReadFile(path)
	seedFileState(t, backing, path, content)

	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nHello world.\n\nNew line.\n"), 0o644))

	c, err := d.Classify(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, Changed, c.Status)
	assert.NotEmpty(t, c.Added)
	assert.Empty(t, c.Removed)
}

func TestClassifyDeletedWhenFileRemoved(t *testing.T) {
	d, backing, dir := newTestDetector(t)
	path := writeFile(t, dir, "a.md", "# Title\n")
	content, _ := os.ReadFile(path)
	seedFileState(t, backing, path, content)

	require.NoError(t, os.Remove(path))

	c, err := d.Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Deleted, c.Status)
}

func TestClassifyAcceptsFileAtExactlyMaxSize(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	d := New(backing, parser.NewDefaultParser(), 16)
	dir := t.TempDir()

	path := writeFile(t, dir, "a.md", strings.Repeat("a", 16))
	c, err := d.Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, New, c.Status)
}

func TestClassifyRejectsFileOverMaxSize(t *testing.T) {
	backing, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	d := New(backing, parser.NewDefaultParser(), 16)
	dir := t.TempDir()

	path := writeFile(t, dir, "a.md", strings.Repeat("a", 17))
	c, err := d.Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, TooLarge, c.Status)
	assert.EqualValues(t, 17, c.Size)
}

func TestQuickSyncClassifiesByMtimeTolerance(t *testing.T) {
	d, backing, dir := newTestDetector(t)
	path := writeFile(t, dir, "a.md", "# Title\n")
	content, _ := os.ReadFile(path)
	rec := seedFileState(t, backing, path, content)

	stale := rec.State
	stale.ModifiedTime = stale.ModifiedTime.Add(-time.Hour)
	require.NoError(t, backing.ApplyNoteTransaction(store.NoteTransaction{
		Path: path,
		File: store.FileRecord{State: stale, BlockHashes: rec.BlockHashes},
		Note: store.NoteRecord{Path: path},
	}))

	missing := filepath.Join(dir, "gone.md")

	sync, err := d.QuickSync([]string{path, missing})
	require.NoError(t, err)
	assert.Contains(t, sync.Stale, path)
	// A path absent on disk with no stored state is neither new nor deleted.
	assert.NotContains(t, sync.New, missing)
	assert.NotContains(t, sync.Deleted, missing)
}
