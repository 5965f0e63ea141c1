// Package merkle computes canonical per-block content hashes and the
// per-note Merkle root used for change detection and diffing.
package merkle

import (
	"bytes"
	"encoding/binary"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/hashutil"
)

// SerializeBlock produces the canonical byte encoding of a block: kind
// tag, attributes in a fixed field order, then content bytes. Two blocks
// serialize identically iff they are equal in every field that matters
// for hashing (kind, attrs, content) — offsets and positions are
// deliberately excluded so that inserting a block ahead of an unchanged
// one does not change the unchanged block's hash.
func SerializeBlock(b blocks.Block) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(b.Kind))
	buf.WriteByte(0)

	writeInt(&buf, b.Attrs.HeadingLevel)
	writeString(&buf, b.Attrs.CodeLanguage)
	writeString(&buf, string(b.Attrs.ListKind))
	writeString(&buf, string(b.Attrs.TaskState))
	writeString(&buf, b.Attrs.CalloutKind)
	writeString(&buf, b.Attrs.CalloutTitle)
	writeString(&buf, string(b.Attrs.LatexMode))
	writeString(&buf, b.Attrs.LinkTarget)
	writeString(&buf, b.Attrs.TagName)

	buf.WriteString(b.Content)
	return buf.Bytes()
}

func writeInt(buf *bytes.Buffer, v int) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(int64(v)))
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(s)))
	buf.Write(tmp[:])
	buf.WriteString(s)
}

// ComputeBlockHash returns the canonical content_hash for a single block.
func ComputeBlockHash(b blocks.Block) hashutil.Hash {
	return hashutil.Sum(SerializeBlock(b))
}

// Apply fills in content_hash for every block in note, in source order,
// and sets note.MerkleRoot to the left-fold combine of those hashes. An
// empty block list yields the zero hash (spec: "Empty note → merkle_root
// = zero_hash"). Apply mutates note in place and also returns it for
// call-site chaining.
func Apply(note *blocks.ParsedNote) *blocks.ParsedNote {
	hashes := make([]hashutil.Hash, len(note.Blocks))
	for i := range note.Blocks {
		h := ComputeBlockHash(note.Blocks[i])
		note.Blocks[i].ContentHash = h
		hashes[i] = h
	}
	note.MerkleRoot = hashutil.CombineMany(hashes)
	return note
}
