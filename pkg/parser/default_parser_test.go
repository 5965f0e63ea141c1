package parser

import (
	"context"
	"testing"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *blocks.ParsedNote {
	t.Helper()
	p := NewDefaultParser()
	note, err := p.Parse(context.Background(), "note.md", []byte(src))
	require.NoError(t, err)
	return note
}

func kinds(note *blocks.ParsedNote) []blocks.Kind {
	out := make([]blocks.Kind, 0, len(note.Blocks))
	for _, b := range note.Blocks {
		out = append(out, b.Kind)
	}
	return out
}

func TestParseFrontmatter(t *testing.T) {
	src := "---\ntitle: Hello\ntags: a, b\n---\n\n# Heading\n"
	note := mustParse(t, src)
	require.NotNil(t, note.Frontmatter)
	assert.Equal(t, "Hello", note.Frontmatter.Fields["title"])
	assert.Equal(t, blocks.KindHeading, note.Blocks[0].Kind)
}

func TestParseHeadingLevels(t *testing.T) {
	note := mustParse(t, "# One\n\n## Two\n\n###### Six\n")
	require.Len(t, note.Blocks, 3)
	assert.Equal(t, 1, note.Blocks[0].Attrs.HeadingLevel)
	assert.Equal(t, 2, note.Blocks[1].Attrs.HeadingLevel)
	assert.Equal(t, 6, note.Blocks[2].Attrs.HeadingLevel)
}

func TestParseParagraph(t *testing.T) {
	note := mustParse(t, "first line\nsecond line\n\nnext paragraph\n")
	require.Len(t, note.Blocks, 2)
	assert.Equal(t, blocks.KindParagraph, note.Blocks[0].Kind)
	assert.Equal(t, "first line\nsecond line", note.Blocks[0].Content)
	assert.Equal(t, "next paragraph", note.Blocks[1].Content)
}

func TestParseCodeBlock(t *testing.T) {
	note := mustParse(t, "```go\nfmt.Println(1)\n```\n")
	require.Len(t, note.Blocks, 1)
	b := note.Blocks[0]
	assert.Equal(t, blocks.KindCodeBlock, b.Kind)
	assert.Equal(t, "go", b.Attrs.CodeLanguage)
	assert.Equal(t, "fmt.Println(1)", b.Content)
}

func TestParseListItems(t *testing.T) {
	note := mustParse(t, "- alpha\n- beta\n1. first\n- [ ] todo\n- [x] done\n")
	require.Len(t, note.Blocks, 5)
	for _, b := range note.Blocks {
		assert.Equal(t, blocks.KindList, b.Kind)
	}
	assert.Equal(t, blocks.ListUnordered, note.Blocks[0].Attrs.ListKind)
	assert.Equal(t, blocks.ListOrdered, note.Blocks[2].Attrs.ListKind)
	assert.Equal(t, blocks.ListTask, note.Blocks[3].Attrs.ListKind)
	assert.Equal(t, blocks.TaskOpen, note.Blocks[3].Attrs.TaskState)
	assert.Equal(t, blocks.TaskChecked, note.Blocks[4].Attrs.TaskState)
}

func TestParseBlockquoteVsCallout(t *testing.T) {
	note := mustParse(t, "> plain quote\n> second line\n\n> [!warning] Careful\n> body line\n")
	require.Len(t, note.Blocks, 2)
	assert.Equal(t, blocks.KindBlockquote, note.Blocks[0].Kind)
	assert.Equal(t, blocks.KindCallout, note.Blocks[1].Kind)
	assert.Equal(t, "warning", note.Blocks[1].Attrs.CalloutKind)
	assert.Equal(t, "Careful", note.Blocks[1].Attrs.CalloutTitle)
	assert.Equal(t, "body line", note.Blocks[1].Content)
}

func TestParseHorizontalRule(t *testing.T) {
	note := mustParse(t, "above\n\n---\n\nbelow\n")
	require.Len(t, note.Blocks, 3)
	assert.Equal(t, blocks.KindHorizontalRule, note.Blocks[1].Kind)
}

func TestParseTableRows(t *testing.T) {
	note := mustParse(t, "| a | b |\n| - | - |\n| 1 | 2 |\n| 3 | 4 |\n")
	require.Len(t, note.Blocks, 3)
	for _, b := range note.Blocks {
		assert.Equal(t, blocks.KindTable, b.Kind)
	}
}

func TestParseFootnote(t *testing.T) {
	note := mustParse(t, "see note[^1] for detail\n\n[^1]: the footnote text\n")
	ks := kinds(note)
	assert.Contains(t, ks, blocks.KindFootnoteRef)
	assert.Contains(t, ks, blocks.KindFootnoteDef)
}

func TestParseWikilinkInlineLinkTagLatex(t *testing.T) {
	note := mustParse(t, "See [[Other Note]] and [docs](https://example.com) #project and $E=mc^2$.\n")
	ks := kinds(note)
	assert.Contains(t, ks, blocks.KindParagraph)
	assert.Contains(t, ks, blocks.KindWikilink)
	assert.Contains(t, ks, blocks.KindInlineLink)
	assert.Contains(t, ks, blocks.KindTag)
	assert.Contains(t, ks, blocks.KindLatexExpr)

	var wikilink, tag blocks.Block
	for _, b := range note.Blocks {
		if b.Kind == blocks.KindWikilink {
			wikilink = b
		}
		if b.Kind == blocks.KindTag {
			tag = b
		}
	}
	assert.Equal(t, "Other Note", wikilink.Content)
	assert.Equal(t, "project", tag.Content)
}

func TestParseDisplayLatexBlock(t *testing.T) {
	note := mustParse(t, "$$\nx^2 + y^2 = z^2\n$$\n")
	require.Len(t, note.Blocks, 1)
	assert.Equal(t, blocks.KindLatexExpr, note.Blocks[0].Kind)
	assert.Equal(t, blocks.LatexDisplay, note.Blocks[0].Attrs.LatexMode)
}

func TestParsePositionsAreSequential(t *testing.T) {
	note := mustParse(t, "# Title\n\nSee [[Link]] here.\n")
	for i, b := range note.Blocks {
		assert.Equal(t, i, b.Position)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	src := "# T\n\nbody text with #tag and [[link]]\n"
	a := mustParse(t, src)
	b := mustParse(t, src)
	require.Equal(t, len(a.Blocks), len(b.Blocks))
	for i := range a.Blocks {
		assert.Equal(t, a.Blocks[i].Kind, b.Blocks[i].Kind)
		assert.Equal(t, a.Blocks[i].Content, b.Blocks[i].Content)
		assert.Equal(t, a.Blocks[i].Offset, b.Blocks[i].Offset)
	}
}

func TestParseContextCancellation(t *testing.T) {
	p := NewDefaultParser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Parse(ctx, "note.md", []byte("# title\n\nbody\n"))
	assert.Error(t, err)
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 3, WordCount("one two three"))
	assert.Equal(t, 0, WordCount("   "))
}
