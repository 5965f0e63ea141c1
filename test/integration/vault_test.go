package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/vaultdex/pkg/config"
	"github.com/cuemby/vaultdex/pkg/consistency"
	"github.com/cuemby/vaultdex/pkg/embedding"
	"github.com/cuemby/vaultdex/pkg/vault"
	"github.com/stretchr/testify/require"
)

// TestVaultIndexesNewNoteEndToEnd drives the full watcher -> debouncer ->
// event queue -> pipeline -> transaction queue -> consumer -> store
// chain against a real directory and a real fsnotify watch, the way a
// vaultdexd process would see it.
func TestVaultIndexesNewNoteEndToEnd(t *testing.T) {
	vaultRoot := t.TempDir()
	dataDir := filepath.Join(t.TempDir(), "data")

	cfg := config.Default()
	cfg.Watcher.VaultRoot = vaultRoot
	cfg.Watcher.DebounceWindow = 20 * time.Millisecond
	cfg.DataDir = dataDir

	v, err := vault.Open(cfg, embedding.NewFakeProvider(8))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, v.Start(ctx))
	defer v.Shutdown()

	notePath := filepath.Join(vaultRoot, "note.md")
	t.Log("writing a new note into the watched vault root")
	require.NoError(t, os.WriteFile(notePath, []byte("# Hello\n\nSome content about #project with @alice.\n"), 0o644))

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, v.WaitForIdle(waitCtx), "transaction queue never caught up")

	t.Log("reading the note back through the consistency gate")
	readCtx, readCancel := context.WithTimeout(ctx, time.Second)
	defer readCancel()

	var found bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, ok, err := v.Gate().GetNote(readCtx, notePath, consistency.Eventual)
		require.NoError(t, err)
		if ok {
			found = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, found, "note was never indexed into the backing store")
}

// TestVaultDeletedNoteIsRemoved confirms a deleted file flows through the
// same chain as a delete transaction and disappears from the store.
func TestVaultDeletedNoteIsRemoved(t *testing.T) {
	vaultRoot := t.TempDir()
	dataDir := filepath.Join(t.TempDir(), "data")

	cfg := config.Default()
	cfg.Watcher.VaultRoot = vaultRoot
	cfg.Watcher.DebounceWindow = 20 * time.Millisecond
	cfg.DataDir = dataDir

	v, err := vault.Open(cfg, embedding.NewFakeProvider(8))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, v.Start(ctx))
	defer v.Shutdown()

	notePath := filepath.Join(vaultRoot, "to-delete.md")
	require.NoError(t, os.WriteFile(notePath, []byte("# Temporary\n"), 0o644))

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, v.WaitForIdle(waitCtx))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, ok, _ := v.Gate().GetNote(ctx, notePath, consistency.Eventual)
		if ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Log("deleting the note")
	require.NoError(t, os.Remove(notePath))

	waitCtx2, waitCancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel2()
	require.NoError(t, v.WaitForIdle(waitCtx2))

	deadline = time.Now().Add(2 * time.Second)
	var gone bool
	for time.Now().Before(deadline) {
		_, ok, err := v.Gate().GetNote(ctx, notePath, consistency.Eventual)
		require.NoError(t, err)
		if !ok {
			gone = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, gone, "deleted note was still present in the backing store")
}
