// Package changedetect classifies a path against its previously stored
// FileState (spec §4.4): Unchanged, Changed (with added/removed/unchanged
// block positions), New, or Deleted. A process-start fast path, quick_sync,
// compares mtimes across the whole vault to avoid hashing every file.
package changedetect

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/merkle"
	"github.com/cuemby/vaultdex/pkg/parser"
	"github.com/cuemby/vaultdex/pkg/store"
)

// Status is the outcome of classifying one path.
type Status string

const (
	Unchanged Status = "unchanged"
	Changed   Status = "changed"
	New       Status = "new"
	Deleted   Status = "deleted"
	// TooLarge marks a file over the configured size ceiling: discovered
	// but refused before either the hash or the parser ever reads it.
	TooLarge Status = "too_large"
)

// PositionHash pairs a block's position with its content hash, the unit
// the multiset diff in Classify operates over.
type PositionHash struct {
	Position int
	Hash     hashutil.Hash
}

// Classification is the result of Classify.
type Classification struct {
	Status    Status
	Added     []PositionHash
	Removed   []PositionHash
	Unchanged []PositionHash
	Current   blocks.FileState // valid unless Status == Deleted or TooLarge
	Size      int64            // on-disk size, valid when Status == TooLarge
}

// Detector is the ChangeDetector capability (spec §4.4).
type Detector struct {
	backing          store.Store
	parser           parser.Parser
	maxFileSizeBytes int64
}

// New constructs a Detector over a backing store and the parser used to
// recompute block hashes when a file's bytes have changed.
// maxFileSizeBytes <= 0 disables the size ceiling.
func New(backing store.Store, p parser.Parser, maxFileSizeBytes int64) *Detector {
	return &Detector{backing: backing, parser: p, maxFileSizeBytes: maxFileSizeBytes}
}

// Classify implements the algorithm in spec.md §4.4 step by step: absent
// on disk -> Deleted; over the size ceiling -> TooLarge, refused before
// either a hash or a parse; no stored state -> New; hash+size match ->
// Unchanged (mtime alone never counts as a change); otherwise diff the
// stored and freshly parsed block-hash lists by (position, hash) multiset.
func (d *Detector) Classify(ctx context.Context, path string) (Classification, error) {
	stored, found, err := d.backing.GetFile(path)
	if err != nil {
		return Classification{}, fmt.Errorf("changedetect: load stored state for %s: %w", path, err)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return Classification{Status: Deleted}, nil
		}
		return Classification{}, fmt.Errorf("changedetect: stat %s: %w", path, statErr)
	}

	if d.maxFileSizeBytes > 0 && info.Size() > d.maxFileSizeBytes {
		return Classification{Status: TooLarge, Size: info.Size()}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Classification{}, fmt.Errorf("changedetect: read %s: %w", path, err)
	}

	current := blocks.FileState{
		FileHash:     hashutil.Sum(content),
		ModifiedTime: info.ModTime(),
		FileSize:     info.Size(),
	}

	if !found {
		return Classification{Status: New, Current: current}, nil
	}
	if stored.State.Equal(current) {
		return Classification{Status: Unchanged, Current: current}, nil
	}

	parsed, err := d.parser.Parse(ctx, path, content)
	if err != nil {
		return Classification{}, fmt.Errorf("changedetect: reparse %s: %w", path, err)
	}
	parsed = merkle.Apply(parsed)

	oldSet := make(map[PositionHash]struct{}, len(stored.BlockHashes))
	for i, h := range stored.BlockHashes {
		oldSet[PositionHash{Position: i, Hash: h}] = struct{}{}
	}
	newList := make([]PositionHash, 0, len(parsed.Blocks))
	newSet := make(map[PositionHash]struct{}, len(parsed.Blocks))
	for _, b := range parsed.Blocks {
		ph := PositionHash{Position: b.Position, Hash: b.ContentHash}
		newList = append(newList, ph)
		newSet[ph] = struct{}{}
	}

	c := Classification{Status: Changed, Current: current}
	for ph := range newSet {
		if _, ok := oldSet[ph]; !ok {
			c.Added = append(c.Added, ph)
		}
	}
	for ph := range oldSet {
		if _, ok := newSet[ph]; !ok {
			c.Removed = append(c.Removed, ph)
		} else {
			c.Unchanged = append(c.Unchanged, ph)
		}
	}
	return c, nil
}

// SyncState is the outcome of a vault-wide quick_sync pass: which paths
// can be trusted as unchanged from their mtime alone, and which need a
// full Classify.
type SyncState struct {
	Fresh   []string
	Stale   []string
	New     []string
	Deleted []string
}

// mtimeTolerance is quick_sync's advisory mtime comparison window.
const mtimeTolerance = 1 * time.Second

// QuickSync compares on-disk mtimes for paths against their stored
// FileState without reading file contents, to avoid hashing the whole
// vault on process start. It is never authoritative: any path it marks
// Stale, New, or Deleted must still go through Classify before acting on
// it (spec §4.4: "Never relied upon for correctness").
func (d *Detector) QuickSync(vaultPaths []string) (SyncState, error) {
	var s SyncState
	for _, path := range vaultPaths {
		stored, found, err := d.backing.GetFile(path)
		if err != nil {
			return SyncState{}, fmt.Errorf("changedetect: quick_sync load %s: %w", path, err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				if found {
					s.Deleted = append(s.Deleted, path)
				}
				continue
			}
			return SyncState{}, fmt.Errorf("changedetect: quick_sync stat %s: %w", path, statErr)
		}

		if !found {
			s.New = append(s.New, path)
			continue
		}

		diff := info.ModTime().Sub(stored.State.ModifiedTime)
		if diff < 0 {
			diff = -diff
		}
		if diff <= mtimeTolerance {
			s.Fresh = append(s.Fresh, path)
		} else {
			s.Stale = append(s.Stale, path)
		}
	}
	return s, nil
}
