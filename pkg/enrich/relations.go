package enrich

import "github.com/cuemby/vaultdex/pkg/hashutil"

// RelationConfig controls the optional inferred-relations pass.
type RelationConfig struct {
	MinOverlappingBlocks int     // k: minimum shared block hashes to infer a relation
	CosineThreshold      float64 // alternative trigger via embedding similarity
}

// DefaultRelationConfig mirrors the typical values implied by spec.md §4.5.
func DefaultRelationConfig() RelationConfig {
	return RelationConfig{MinOverlappingBlocks: 2, CosineThreshold: 0.85}
}

// NoteBlockSet is the minimal view InferRelations needs of a note: its
// path and the set of block hashes it currently contains.
type NoteBlockSet struct {
	Path   string
	Hashes map[hashutil.Hash]struct{}
}

// InferRelations implements the optional pass in spec.md §4.5: for every
// pair of notes sharing at least cfg.MinOverlappingBlocks block hashes,
// emit a "shares_blocks" relation with confidence proportional to the
// fraction of the smaller note's blocks that overlap. This pass is a
// best-effort O(n^2) scan over the candidate set supplied by the caller
// (typically notes touched in the current pipeline run plus their prior
// neighbors), not a full-vault join.
func InferRelations(notes []NoteBlockSet, cfg RelationConfig) []InferredRelation {
	var out []InferredRelation
	for i := 0; i < len(notes); i++ {
		for j := i + 1; j < len(notes); j++ {
			overlap := 0
			for h := range notes[i].Hashes {
				if _, ok := notes[j].Hashes[h]; ok {
					overlap++
				}
			}
			if overlap < cfg.MinOverlappingBlocks {
				continue
			}
			smaller := len(notes[i].Hashes)
			if len(notes[j].Hashes) < smaller {
				smaller = len(notes[j].Hashes)
			}
			if smaller == 0 {
				continue
			}
			confidence := float64(overlap) / float64(smaller)
			if confidence > 1 {
				confidence = 1
			}
			out = append(out, InferredRelation{
				SourcePath: notes[i].Path,
				TargetPath: notes[j].Path,
				Kind:       "shares_blocks",
				Confidence: confidence,
				Overlap:    overlap,
			})
		}
	}
	return out
}

// InferredRelation is enrich's view of an inferred cross-note relation,
// annotated with the raw overlap count alongside the blocks.InferredRelation
// shape callers convert to before persisting.
type InferredRelation struct {
	SourcePath string
	TargetPath string
	Kind       string
	Confidence float64
	Overlap    int
}
