package reactor

import (
	"github.com/cuemby/vaultdex/pkg/enrich"
	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/store"
)

// NewRelationInferenceHandler builds the Handler that runs enrich's
// shares_blocks relation inference (spec §4.5) every time a note's
// blocks change, persisting any inferred relations back to backing.
// Registered with a low priority so it runs after any handler that
// still wants to see the event in its pre-relation-inference shape.
func NewRelationInferenceHandler(backing store.Store, cfg enrich.RelationConfig) Handler {
	return Handler{
		Name:      "relation_inference",
		Priority:  -10,
		Pattern:   Pattern(events.BlocksUpdated),
		DependsOn: nil,
		Handle: func(ctx *Context, ev *events.Event) Result {
			sets, err := blockSets(backing)
			if err != nil {
				return SoftError(nil, err)
			}

			inferred := enrich.InferRelations(sets, cfg)
			for _, rel := range inferred {
				err := backing.PutRelation(store.RelationRecord{
					Source:     rel.SourcePath,
					Target:     rel.TargetPath,
					Kind:       rel.Kind,
					Confidence: rel.Confidence,
				})
				if err != nil {
					return SoftError(nil, err)
				}
			}
			return Continue(nil)
		},
	}
}

// blockSets builds one enrich.NoteBlockSet per stored note, from the
// block hashes recorded in its FileRecord.
func blockSets(backing store.Store) ([]enrich.NoteBlockSet, error) {
	notes, err := backing.ListNotes()
	if err != nil {
		return nil, err
	}

	sets := make([]enrich.NoteBlockSet, 0, len(notes))
	for _, note := range notes {
		rec, found, err := backing.GetFile(note.Path)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		hashes := make(map[hashutil.Hash]struct{}, len(rec.BlockHashes))
		for _, h := range rec.BlockHashes {
			hashes[h] = struct{}{}
		}
		sets = append(sets, enrich.NoteBlockSet{Path: note.Path, Hashes: hashes})
	}
	return sets, nil
}
