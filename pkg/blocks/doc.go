// Package blocks defines the data model shared by the parser, merkle
// builder, enrichment service, and backing store: Block, ParsedNote,
// EnrichedNote, InferredRelation, and FileState.
package blocks
