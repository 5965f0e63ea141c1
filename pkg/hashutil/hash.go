// Package hashutil provides the compact content hash used throughout the
// indexing engine: a 16-byte fingerprint derived from a BLAKE3 digest, plus
// the combine operations used to build Merkle roots over a note's blocks.
package hashutil

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the length in bytes of a Hash.
const Size = 16

// Hash is a 16-byte content fingerprint. The zero value represents
// "none/empty". Two Hash values compare equal with ==; Hash is safe to use
// as a map key.
type Hash [Size]byte

// Zero is the hash representing an empty or absent value.
var Zero = Hash{}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of h's underlying bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, h[:])
	return out
}

// Sum computes the content hash of b: the first 16 bytes of its BLAKE3
// digest. Deterministic across processes and platforms.
func Sum(b []byte) Hash {
	digest := blake3.Sum256(b)
	var h Hash
	copy(h[:], digest[:Size])
	return h
}

// Combine produces a parent hash from two child hashes. Order-sensitive:
// Combine(a, b) != Combine(b, a) for a != b.
func Combine(left, right Hash) Hash {
	buf := make([]byte, 0, Size*2)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return Sum(buf)
}

// CombineMany left-folds Combine over hashes in order. An empty slice
// returns the zero hash.
func CombineMany(hashes []Hash) Hash {
	if len(hashes) == 0 {
		return Zero
	}
	acc := hashes[0]
	for _, h := range hashes[1:] {
		acc = Combine(acc, h)
	}
	return acc
}

// FromHex parses a 32-character hex string into a Hash.
func FromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hashutil: invalid hex: %w", err)
	}
	if len(b) != Size {
		return Hash{}, fmt.Errorf("hashutil: invalid hash length: expected %d bytes, got %d", Size, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}
