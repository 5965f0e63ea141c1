// Package blocks holds the shared data model for parsed notes: the
// block-level AST fragments, the note they belong to, and the enrichments
// (embeddings, inferred relations) attached after indexing. Kept separate
// from pkg/parser and pkg/store so both can import it without a cycle.
package blocks

import (
	"time"

	"github.com/cuemby/vaultdex/pkg/hashutil"
)

// Kind identifies the AST-level category of a Block, using exactly the
// names enumerated in the data model (heading, paragraph, code_block,
// list, blockquote, callout, latex_expr, footnote_def, footnote_ref,
// table, horizontal_rule, wikilink, inline_link, tag).
//
// Granularity: list, table, and callout are multi-line constructs, but
// the parser emits one Block per list item, per table row, and per
// callout body rather than one Block spanning the whole construct — this
// is the atomic unit both hashing and embedding operate on, so a single
// changed list item or table row is detected and re-embedded in
// isolation rather than forcing a re-embed of an entire list or table.
type Kind string

const (
	KindHeading        Kind = "heading"
	KindParagraph      Kind = "paragraph"
	KindCodeBlock      Kind = "code_block"
	KindList           Kind = "list"   // one Block per list item
	KindBlockquote     Kind = "blockquote"
	KindCallout        Kind = "callout" // one Block per callout body
	KindLatexExpr      Kind = "latex_expr"
	KindFootnoteDef    Kind = "footnote_def"
	KindFootnoteRef    Kind = "footnote_ref"
	KindTable          Kind = "table" // one Block per table row
	KindHorizontalRule Kind = "horizontal_rule"
	KindWikilink       Kind = "wikilink"
	KindInlineLink     Kind = "inline_link"
	KindTag            Kind = "tag"
)

// ListKind distinguishes ordered, unordered, and task lists.
type ListKind string

const (
	ListOrdered   ListKind = "ordered"
	ListUnordered ListKind = "unordered"
	ListTask      ListKind = "task"
)

// TaskState is the checkbox state of a task list item.
type TaskState string

const (
	TaskNone    TaskState = ""
	TaskOpen    TaskState = "open"
	TaskChecked TaskState = "checked"
)

// LatexMode distinguishes inline ($...$) from display ($$...$$) LaTeX.
type LatexMode string

const (
	LatexInline  LatexMode = "inline"
	LatexDisplay LatexMode = "display"
)

// Attrs carries the type-specific attributes a Block may have. Only the
// fields relevant to Kind are populated; the rest are zero values. This
// flat shape (rather than one struct type per Kind) matches the fixed
// field-order requirement of the canonical serialization in pkg/merkle.
type Attrs struct {
	HeadingLevel int       // heading
	CodeLanguage string    // code_block
	ListKind     ListKind  // list, list_item
	TaskState    TaskState // list_item (task lists only)
	CalloutKind  string    // callout, callout_body
	CalloutTitle string    // callout
	LatexMode    LatexMode // latex_expr
	LinkTarget   string    // wikilink, inline_link
	TagName      string    // tag
}

// Block is a single AST-level fragment of a note: the unit of hashing and
// embedding. Blocks are immutable; re-parsing a note yields fresh Block
// values even when their content is unchanged.
type Block struct {
	Position    int // 0-based index within the note's ordered block list
	Kind        Kind
	Offset      int // byte offset in the source file
	ByteLen     int
	Content     string // plain-text content used for embedding eligibility
	Attrs       Attrs
	ContentHash hashutil.Hash
}

// Frontmatter is the parsed YAML frontmatter block of a note, if present.
type Frontmatter struct {
	Raw    string
	Fields map[string]string
}

// ParseError records a single parser diagnostic. A note may carry several;
// parse errors do not abort the pipeline (spec: "do not abort pipeline").
type ParseError struct {
	Kind    string
	Line    int
	Column  int
	Context string
	Message string
}

func (e ParseError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind
}

// ParsedNote is the output of the Parser capability for one file: an
// ordered block list plus file-level metadata.
type ParsedNote struct {
	Path         string
	Frontmatter  *Frontmatter
	Blocks       []Block
	AggregateText string
	ContentHash  hashutil.Hash // BLAKE3 over the raw file bytes
	MerkleRoot   hashutil.Hash // set by pkg/merkle; zero until computed
	FileSize     int64
	ParsedAt     time.Time
	ParseErrors  []ParseError
}

// InferredRelation is a cross-note relationship discovered during
// enrichment (shared blocks, embedding similarity).
type InferredRelation struct {
	SourcePath  string
	TargetPath  string // or a bare entity name when not a note path
	Kind        string
	Confidence  float64 // [0,1]
	ContextSpan string
}

// EnrichmentMetadata records bookkeeping about an enrichment pass.
type EnrichmentMetadata struct {
	EmbeddingModel   string
	BlocksEmbedded   int
	BlocksSkipped    int
	SoftErrors       []string
	EnrichedAt       time.Time
}

// EnrichedNote is a ParsedNote with embeddings and inferred relations
// attached. embeddings is keyed by block position, not hash, since a
// block's position is stable across a single pipeline pass while its
// hash may have just changed.
type EnrichedNote struct {
	Note               ParsedNote
	Embeddings         map[int][]float32
	InferredRelations  []InferredRelation
	EnrichmentMetadata EnrichmentMetadata
}

// FileState is the Phase 1 quick-filter record stored per path.
type FileState struct {
	FileHash     hashutil.Hash
	ModifiedTime time.Time
	FileSize     int64
}

// Equal reports whether two FileStates represent the same on-disk content.
// mtime is advisory only: two states are equal iff hash and size match.
func (f FileState) Equal(other FileState) bool {
	return f.FileHash == other.FileHash && f.FileSize == other.FileSize
}
