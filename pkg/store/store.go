// Package store implements the backing-store contract (spec §6): an
// atomic, per-note key-value store for files, notes, blocks, embeddings,
// relations, tags, and wikilinks.
package store

import (
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/hashutil"
)

// FileRecord is the persisted quick-filter state for one path, plus the
// block hash list needed to diff against a future reparse.
type FileRecord struct {
	State       blocks.FileState
	BlockHashes []hashutil.Hash
}

// NoteRecord is the persisted note-level metadata (spec §6 "notes" bucket).
type NoteRecord struct {
	Path        string
	Title       string
	Frontmatter *blocks.Frontmatter
	MerkleRoot  hashutil.Hash
	ParsedAt    time.Time
	FileSize    int64
}

// BlockRecord is the content-addressed payload stored once per distinct
// hash (spec §6 "blocks" bucket: "hash -> (kind_tag, attributes, bytes)").
type BlockRecord struct {
	Hash    hashutil.Hash
	Kind    blocks.Kind
	Attrs   blocks.Attrs
	Content string
}

// BlockRef is one (path, position) occurrence of a block hash — the
// reverse edge spec §6 describes alongside the blocks bucket.
type BlockRef struct {
	Path     string
	Position int
}

// EmbeddingRecord is one persisted embedding (spec §6 "embeddings" bucket).
type EmbeddingRecord struct {
	Path     string
	Position int
	Hash     hashutil.Hash
	Vector   []float32
}

// RelationRecord is one persisted inferred relation (spec §6 "relations"
// bucket).
type RelationRecord struct {
	Source     string
	Target     string
	Kind       string
	Confidence float64
	Context    string
}

// Store is the backing-store contract. All per-note mutations that touch
// more than one bucket (note + blocks + embeddings + relations) are
// expected to go through a single ApplyNoteTransaction call so they
// commit atomically; the narrower accessors below exist for reads and
// for the few ancillary buckets (tags, wikilinks) that are not part of
// a note's core record.
type Store interface {
	GetFile(path string) (FileRecord, bool, error)
	DeleteFile(path string) error

	GetNote(path string) (NoteRecord, bool, error)
	ListNotes() ([]NoteRecord, error)
	DeleteNote(path string) error

	GetBlock(hash hashutil.Hash) (BlockRecord, bool, error)
	ExistsBlock(hash hashutil.Hash) (bool, error)
	PutBlock(rec BlockRecord) error
	DeleteBlock(hash hashutil.Hash) error
	ListAllBlocks() ([]BlockRecord, error)

	ListBlockRefs(hash hashutil.Hash) ([]BlockRef, error)
	AddBlockRef(hash hashutil.Hash, ref BlockRef) error
	RemoveBlockRef(hash hashutil.Hash, ref BlockRef) error

	GetEmbedding(path string, position int) (EmbeddingRecord, bool, error)
	ListEmbeddingsByPath(path string) ([]EmbeddingRecord, error)
	PutEmbedding(rec EmbeddingRecord) error
	DeleteEmbedding(path string, position int) error

	ListRelationsBySource(path string) ([]RelationRecord, error)
	PutRelation(rec RelationRecord) error
	DeleteRelationsBySource(path string) error

	AddTag(tag, path string) error
	RemoveTag(tag, path string) error
	ListPathsByTag(tag string) ([]string, error)

	AddWikilink(source, target, context string) error
	RemoveWikilinksFromSource(source string) error
	ListWikilinkContexts(source, target string) ([]string, error)

	// ApplyNoteTransaction atomically replaces the persisted state for
	// one path: file state, note record, embeddings, and relations.
	// tx.RemovedPositions lists positions whose embeddings are deleted
	// (blocks removed by the reparse). Run inside one backing
	// transaction so readers never observe a torn write (spec §4.2).
	ApplyNoteTransaction(tx NoteTransaction) error

	Close() error
}

// NoteTransaction is the atomic unit phase 4 hands to the backing store.
type NoteTransaction struct {
	Path                  string
	File                  FileRecord
	Note                  NoteRecord
	Embeddings            []EmbeddingRecord
	RemovedPositions      []int
	Relations             []RelationRecord
	ReplaceAllRelations   bool
}
