// Package cleaner removes running headers and footers from extracted page text and
// rebuilds paragraphs from hard-wrapped lines.
package cleaner

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/shiryo/internal/config"
)

var (
	listItem      = regexp.MustCompile(`^\s*(?:[-•*·▪–]|\d{1,3}[.)]|[a-zA-Z][.)]|\(\d{1,3}\))\s+\S`)
	numberedTitle = regexp.MustCompile(`^(?:\d+(?:\.\d+)+\.?|\d+|[IVXLC]+\.)\s+\S`)
	keywordTitle  = regexp.MustCompile(`(?i)^(?:chapter|section|part|appendix|article)\s+[\w.]+`)
	markdownTitle = regexp.MustCompile(`^#{1,6}\s+\S`)
	digitRun      = regexp.MustCompile(`\d+`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

const (
	terminators    = ".!?…。！？:;"
	maxHeadingLen  = 80
	maxHeadingWord = 12
)

// Paragraph is a cleaned block of text.
type Paragraph struct {
	Text         string
	Page         int
	Heading      bool
	SectionTitle string
}

// Cleaner applies header/footer removal and paragraph reconstruction.
type Cleaner struct {
	cfg config.CleanerConfig
}

// New creates a Cleaner.
func New(cfg config.CleanerConfig) *Cleaner {
	return &Cleaner{cfg: cfg}
}

// Clean processes pages of lines (pages[i] is page i+1). Empty lines separate
// paragraphs. Paragraphs never span pages; section titles carry over.
func (c *Cleaner) Clean(pages [][]string) []Paragraph {
	pages = c.RemoveRepeatedEdges(pages)
	var out []Paragraph
	section := ""
	for i, lines := range pages {
		var paras []Paragraph
		paras, section = buildParagraphs(lines, i+1, section)
		out = append(out, paras...)
	}
	return out
}

// RemoveRepeatedEdges drops lines that recur near-identically among the first or last
// EdgeLines non-empty lines of at least RepeatRatio of the pages. Documents with fewer
// than MinPages pages are returned unchanged.
func (c *Cleaner) RemoveRepeatedEdges(pages [][]string) [][]string {
	if len(pages) < c.cfg.MinPages || c.cfg.EdgeLines <= 0 {
		return pages
	}

	edges := make([]map[int]string, len(pages))
	counts := make(map[string]int)
	for i, lines := range pages {
		edges[i] = c.edgeLines(lines)
		seen := make(map[string]bool)
		for _, key := range edges[i] {
			if !seen[key] {
				seen[key] = true
				counts[key]++
			}
		}
	}

	need := max(2, int(math.Ceil(c.cfg.RepeatRatio*float64(len(pages)))))
	out := make([][]string, len(pages))
	for i, lines := range pages {
		kept := make([]string, 0, len(lines))
		for j, line := range lines {
			if key, ok := edges[i][j]; ok && counts[key] >= need {
				continue
			}
			kept = append(kept, line)
		}
		out[i] = kept
	}
	return out
}

// edgeLines maps line index to masked key for the first and last EdgeLines non-empty lines.
func (c *Cleaner) edgeLines(lines []string) map[int]string {
	var idx []int
	for j, line := range lines {
		if strings.TrimSpace(line) != "" {
			idx = append(idx, j)
		}
	}
	out := make(map[int]string)
	n := min(c.cfg.EdgeLines, len(idx))
	for _, j := range idx[:n] {
		out[j] = edgeKey(lines[j])
	}
	for _, j := range idx[len(idx)-n:] {
		out[j] = edgeKey(lines[j])
	}
	return out
}

// edgeKey masks digits and case so "Page 3" and "page 14" compare equal.
func edgeKey(line string) string {
	s := strings.ToLower(strings.TrimSpace(line))
	s = digitRun.ReplaceAllString(s, "#")
	return spaceRun.ReplaceAllString(s, " ")
}

// Paragraphs rebuilds paragraphs from the lines of one page without header/footer
// removal. section is the title in effect before the first line; the title in effect
// after the last line is returned.
func Paragraphs(lines []string, page int, section string) ([]Paragraph, string) {
	return buildParagraphs(lines, page, section)
}

func buildParagraphs(lines []string, page int, section string) ([]Paragraph, string) {
	var out []Paragraph
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := mergeLines(buf)
		if text != "" {
			out = append(out, Paragraph{Text: text, Page: page, SectionTitle: section})
		}
		buf = nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		if IsHeading(line) {
			flush()
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			out = append(out, Paragraph{Text: title, Page: page, Heading: true, SectionTitle: title})
			section = title
			continue
		}
		if IsListItem(line) {
			flush()
		}
		if n := len(buf); n > 0 && endsParagraph(buf[n-1]) {
			flush()
		}
		buf = append(buf, line)
	}
	flush()
	return out, section
}

// endsParagraph reports whether nothing may be merged after line.
func endsParagraph(line string) bool {
	last, _ := utf8.DecodeLastRuneInString(strings.TrimRight(line, `"'”’)»`))
	return strings.ContainsRune(terminators, last) || IsListItem(line)
}

// mergeLines joins soft-wrapped lines, restoring words hyphenated across a break.
func mergeLines(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i == 0 {
			b.WriteString(line)
			continue
		}
		prev := b.String()
		first, _ := utf8.DecodeRuneInString(line)
		switch {
		case hyphenated(prev) && unicode.IsLower(first):
			s := strings.TrimSuffix(prev, "-")
			b.Reset()
			b.WriteString(s)
			b.WriteString(line)
		case hyphenated(prev):
			b.WriteString(line)
		case isCJK(lastRune(prev)) && isCJK(first):
			b.WriteString(line)
		default:
			b.WriteString(" ")
			b.WriteString(line)
		}
	}
	return strings.TrimSpace(b.String())
}

func hyphenated(s string) bool {
	if !strings.HasSuffix(s, "-") || len(s) < 2 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:len(s)-1])
	return unicode.IsLetter(r)
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// IsListItem reports whether line starts with a bullet or enumerator.
func IsListItem(line string) bool {
	return listItem.MatchString(line)
}

// IsHeading reports whether a short line looks like a title: Markdown heading,
// numbered or keyword section title, or an all-caps line.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > maxHeadingLen {
		return false
	}
	if markdownTitle.MatchString(line) {
		return true
	}
	if len(strings.Fields(line)) > maxHeadingWord {
		return false
	}
	last := lastRune(line)
	if strings.ContainsRune(".,;!?", last) {
		return false
	}
	if numberedTitle.MatchString(line) || keywordTitle.MatchString(line) {
		return hasUpperStart(line)
	}
	return isAllCaps(line)
}

// hasUpperStart reports whether the first letter of line is upper case.
func hasUpperStart(line string) bool {
	for _, r := range line {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
	}
	return false
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= 3
}
