package parser

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/hashutil"
)

var (
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	codeFenceRe  = regexp.MustCompile("^```\\s*([A-Za-z0-9_+-]*)\\s*$")
	codeFenceEnd = regexp.MustCompile("^```\\s*$")
	hrRe         = regexp.MustCompile(`^ {0,3}(?:-[ \t]*){3,}$|^ {0,3}(?:\*[ \t]*){3,}$|^ {0,3}(?:_[ \t]*){3,}$`)
	listItemRe   = regexp.MustCompile(`^(\s*)(?:([-*+])|(\d+)\.)\s+(?:(\[[ xX]\])\s+)?(.*)$`)
	blockquoteRe = regexp.MustCompile(`^>\s?(.*)$`)
	calloutRe    = regexp.MustCompile(`^\[!([A-Za-z][A-Za-z0-9_-]*)\]\s*(.*)$`)
	footnoteDefRe = regexp.MustCompile(`^\[\^([^\]]+)\]:\s*(.*)$`)
	tableRowRe   = regexp.MustCompile(`\|`)
	tableSepRe   = regexp.MustCompile(`^\s*\|?\s*:?-{1,}:?\s*(\|\s*:?-{1,}:?\s*)*\|?\s*$`)
	displayLatexRe = regexp.MustCompile(`^\$\$(.*)\$\$$`)

	wikilinkInlineRe = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)
	inlineLinkRe     = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	tagInlineRe      = regexp.MustCompile(`(^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	footnoteRefRe    = regexp.MustCompile(`\[\^([^\]]+)\](?:[^:]|$)`)
	inlineLatexRe    = regexp.MustCompile(`\$([^$\n]+)\$`)
)

// DefaultParser is a line-oriented Markdown lexer covering the block kinds
// in the data model. It is a reference implementation of the Parser
// capability contract, not a full CommonMark parser: Markdown lexing
// itself is an external, out-of-scope concern (spec §1), and no markdown
// library appeared anywhere in the example corpus to wire in its place.
type DefaultParser struct{}

// NewDefaultParser constructs a DefaultParser.
func NewDefaultParser() *DefaultParser {
	return &DefaultParser{}
}

type line struct {
	text  string
	start int // byte offset of first rune of text
	end   int // byte offset one past the end of text (excludes newline)
}

func splitLines(content []byte) []line {
	var out []line
	start := 0
	for start <= len(content) {
		idx := bytes.IndexByte(content[start:], '\n')
		if idx < 0 {
			if start < len(content) {
				out = append(out, line{text: string(content[start:]), start: start, end: len(content)})
			}
			break
		}
		end := start + idx
		text := string(content[start:end])
		text = strings.TrimSuffix(text, "\r")
		out = append(out, line{text: text, start: start, end: end})
		start = end + 1
	}
	return out
}

// Parse implements Parser.
func (p *DefaultParser) Parse(ctx context.Context, path string, content []byte) (*blocks.ParsedNote, error) {
	note := &blocks.ParsedNote{
		Path:        path,
		ContentHash: hashutil.Sum(content),
		FileSize:    int64(len(content)),
		ParsedAt:    time.Now(),
	}

	lines := splitLines(content)
	idx := 0

	if fm, consumed, ok := parseFrontmatter(lines); ok {
		note.Frontmatter = fm
		idx = consumed
	}

	var out []blocks.Block
	var textParts []string
	var paraBuf []string
	paraStart := -1

	flushParagraph := func() {
		if len(paraBuf) == 0 {
			return
		}
		text := strings.Join(paraBuf, "\n")
		paraEnd := paraStart + len(text)
		out = appendBlockWithInline(out, blocks.Block{
			Kind:    blocks.KindParagraph,
			Offset:  paraStart,
			ByteLen: len(text),
			Content: text,
		})
		textParts = append(textParts, text)
		paraBuf = nil
		paraStart = -1
	}

	for idx < len(lines) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ln := lines[idx]
		trimmed := strings.TrimSpace(ln.text)

		switch {
		case trimmed == "":
			flushParagraph()
			idx++

		case codeFenceRe.MatchString(ln.text):
			flushParagraph()
			m := codeFenceRe.FindStringSubmatch(ln.text)
			lang := m[1]
			startOffset := ln.start
			var bodyLines []string
			j := idx + 1
			endOffset := ln.end
			for j < len(lines) && !codeFenceEnd.MatchString(lines[j].text) {
				bodyLines = append(bodyLines, lines[j].text)
				endOffset = lines[j].end
				j++
			}
			if j < len(lines) {
				endOffset = lines[j].end
				j++
			}
			text := strings.Join(bodyLines, "\n")
			out = append(out, blocks.Block{
				Kind:    blocks.KindCodeBlock,
				Offset:  startOffset,
				ByteLen: endOffset - startOffset,
				Content: text,
				Attrs:   blocks.Attrs{CodeLanguage: lang},
			})
			textParts = append(textParts, text)
			idx = j

		case hrRe.MatchString(ln.text):
			flushParagraph()
			out = append(out, blocks.Block{
				Kind:    blocks.KindHorizontalRule,
				Offset:  ln.start,
				ByteLen: ln.end - ln.start,
			})
			idx++

		case headingRe.MatchString(ln.text):
			flushParagraph()
			m := headingRe.FindStringSubmatch(ln.text)
			level := len(m[1])
			text := m[2]
			out = appendBlockWithInline(out, blocks.Block{
				Kind:    blocks.KindHeading,
				Offset:  ln.start,
				ByteLen: ln.end - ln.start,
				Content: text,
				Attrs:   blocks.Attrs{HeadingLevel: level},
			})
			textParts = append(textParts, text)
			idx++

		case footnoteDefRe.MatchString(ln.text):
			flushParagraph()
			m := footnoteDefRe.FindStringSubmatch(ln.text)
			out = append(out, blocks.Block{
				Kind:    blocks.KindFootnoteDef,
				Offset:  ln.start,
				ByteLen: ln.end - ln.start,
				Content: m[2],
			})
			textParts = append(textParts, m[2])
			idx++

		case displayLatexRe.MatchString(ln.text):
			flushParagraph()
			m := displayLatexRe.FindStringSubmatch(ln.text)
			out = append(out, blocks.Block{
				Kind:    blocks.KindLatexExpr,
				Offset:  ln.start,
				ByteLen: ln.end - ln.start,
				Content: m[1],
				Attrs:   blocks.Attrs{LatexMode: blocks.LatexDisplay},
			})
			idx++

		case strings.TrimSpace(ln.text) == "$$":
			flushParagraph()
			startOffset := ln.start
			var bodyLines []string
			j := idx + 1
			endOffset := ln.end
			for j < len(lines) && strings.TrimSpace(lines[j].text) != "$$" {
				bodyLines = append(bodyLines, lines[j].text)
				endOffset = lines[j].end
				j++
			}
			if j < len(lines) {
				endOffset = lines[j].end
				j++
			}
			text := strings.Join(bodyLines, "\n")
			out = append(out, blocks.Block{
				Kind:    blocks.KindLatexExpr,
				Offset:  startOffset,
				ByteLen: endOffset - startOffset,
				Content: text,
				Attrs:   blocks.Attrs{LatexMode: blocks.LatexDisplay},
			})
			textParts = append(textParts, text)
			idx = j

		case listItemRe.MatchString(ln.text):
			flushParagraph()
			m := listItemRe.FindStringSubmatch(ln.text)
			var kind blocks.ListKind
			taskState := blocks.TaskNone
			if m[4] != "" {
				kind = blocks.ListTask
				if strings.EqualFold(m[4], "[x]") {
					taskState = blocks.TaskChecked
				} else {
					taskState = blocks.TaskOpen
				}
			} else if m[3] != "" {
				kind = blocks.ListOrdered
			} else {
				kind = blocks.ListUnordered
			}
			text := m[5]
			out = appendBlockWithInline(out, blocks.Block{
				Kind:    blocks.KindList,
				Offset:  ln.start,
				ByteLen: ln.end - ln.start,
				Content: text,
				Attrs:   blocks.Attrs{ListKind: kind, TaskState: taskState},
			})
			textParts = append(textParts, text)
			idx++

		case blockquoteRe.MatchString(ln.text):
			flushParagraph()
			startOffset := ln.start
			var rawLines []string
			j := idx
			endOffset := ln.end
			for j < len(lines) && blockquoteRe.MatchString(lines[j].text) {
				m := blockquoteRe.FindStringSubmatch(lines[j].text)
				rawLines = append(rawLines, m[1])
				endOffset = lines[j].end
				j++
			}
			if calloutMatch := calloutRe.FindStringSubmatch(rawLines[0]); calloutMatch != nil {
				title := calloutMatch[2]
				body := strings.Join(rawLines[1:], "\n")
				out = appendBlockWithInline(out, blocks.Block{
					Kind:    blocks.KindCallout,
					Offset:  startOffset,
					ByteLen: endOffset - startOffset,
					Content: body,
					Attrs:   blocks.Attrs{CalloutKind: strings.ToLower(calloutMatch[1]), CalloutTitle: title},
				})
				textParts = append(textParts, body)
			} else {
				text := strings.Join(rawLines, "\n")
				out = appendBlockWithInline(out, blocks.Block{
					Kind:    blocks.KindBlockquote,
					Offset:  startOffset,
					ByteLen: endOffset - startOffset,
					Content: text,
				})
				textParts = append(textParts, text)
			}
			idx = j

		case tableRowRe.MatchString(ln.text) && !tableSepRe.MatchString(ln.text):
			flushParagraph()
			// Skip a following separator row without emitting a block for it.
			if idx+1 < len(lines) && tableSepRe.MatchString(lines[idx+1].text) {
				out = appendBlockWithInline(out, blocks.Block{
					Kind:    blocks.KindTable,
					Offset:  ln.start,
					ByteLen: ln.end - ln.start,
					Content: ln.text,
				})
				textParts = append(textParts, ln.text)
				idx += 2
				continue
			}
			out = appendBlockWithInline(out, blocks.Block{
				Kind:    blocks.KindTable,
				Offset:  ln.start,
				ByteLen: ln.end - ln.start,
				Content: ln.text,
			})
			textParts = append(textParts, ln.text)
			idx++

		default:
			if paraStart < 0 {
				paraStart = ln.start
			}
			paraBuf = append(paraBuf, ln.text)
			idx++
		}
	}
	flushParagraph()

	// Position is assigned here, in final source order; content_hash is
	// left zero and filled in afterwards by pkg/merkle (merkle.Apply),
	// per the canonical serialize_block encoding; the pipeline applies it
	// right after parsing, before enrichment.
	for i := range out {
		out[i].Position = i
	}

	note.Blocks = out
	note.AggregateText = strings.Join(textParts, "\n\n")
	return note, nil
}

// appendBlockWithInline appends container to out, then scans its content
// for inline constructs (wikilinks, inline links, tags, footnote
// references, inline LaTeX) and appends each as its own Block immediately
// after, per spec's Block kind enum treating these as first-class blocks.
func appendBlockWithInline(out []blocks.Block, container blocks.Block) []blocks.Block {
	out = append(out, container)
	text := container.Content
	base := container.Offset

	for _, m := range wikilinkInlineRe.FindAllStringSubmatchIndex(text, -1) {
		target := text[m[2]:m[3]]
		out = append(out, blocks.Block{
			Kind:    blocks.KindWikilink,
			Offset:  base + m[0],
			ByteLen: m[1] - m[0],
			Content: target,
			Attrs:   blocks.Attrs{LinkTarget: target},
		})
	}
	for _, m := range inlineLinkRe.FindAllStringSubmatchIndex(text, -1) {
		target := text[m[4]:m[5]]
		out = append(out, blocks.Block{
			Kind:    blocks.KindInlineLink,
			Offset:  base + m[0],
			ByteLen: m[1] - m[0],
			Content: text[m[2]:m[3]],
			Attrs:   blocks.Attrs{LinkTarget: target},
		})
	}
	for _, m := range tagInlineRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[4]:m[5]]
		out = append(out, blocks.Block{
			Kind:    blocks.KindTag,
			Offset:  base + m[4] - 1,
			ByteLen: m[5] - m[4] + 1,
			Content: name,
			Attrs:   blocks.Attrs{TagName: name},
		})
	}
	for _, m := range footnoteRefRe.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, blocks.Block{
			Kind:    blocks.KindFootnoteRef,
			Offset:  base + m[0],
			ByteLen: m[3] - m[2] + 3,
			Content: text[m[2]:m[3]],
		})
	}
	for _, m := range inlineLatexRe.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, blocks.Block{
			Kind:    blocks.KindLatexExpr,
			Offset:  base + m[0],
			ByteLen: m[1] - m[0],
			Content: text[m[2]:m[3]],
			Attrs:   blocks.Attrs{LatexMode: blocks.LatexInline},
		})
	}
	return out
}

func parseFrontmatter(lines []line) (*blocks.Frontmatter, int, bool) {
	if len(lines) == 0 || strings.TrimSpace(lines[0].text) != "---" {
		return nil, 0, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i].text) == "---" {
			var raw []string
			fields := make(map[string]string)
			for j := 1; j < i; j++ {
				raw = append(raw, lines[j].text)
				if k, v, ok := strings.Cut(lines[j].text, ":"); ok {
					fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
				}
			}
			return &blocks.Frontmatter{Raw: strings.Join(raw, "\n"), Fields: fields}, i + 1, true
		}
	}
	return nil, 0, false
}

// WordCount is a simple whitespace-based word counter, shared with
// pkg/enrich's embedding-eligibility rule so both packages agree on what
// counts as a word.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
