// Package parser defines the contract between the indexing engine and an
// external Markdown lexing capability: given a path and raw file bytes,
// produce a structured ParsedNote. Markdown lexing detail itself is out of
// scope (spec §1 treats it as an opaque external capability); this package
// carries the contract plus one reference implementation.
package parser

import (
	"context"

	"github.com/cuemby/vaultdex/pkg/blocks"
)

// Parser turns raw Markdown bytes into a structured ParsedNote. A
// conforming Parser must be deterministic, report blocks in source order,
// and preserve byte offsets (spec §6).
type Parser interface {
	Parse(ctx context.Context, path string, content []byte) (*blocks.ParsedNote, error)
}
