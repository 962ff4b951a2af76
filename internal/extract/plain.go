package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/shiryo/internal/cleaner"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/reflow"
)

// extractPlain splits text content, replacing invalid UTF-8 with the replacement character.
func extractPlain(content []byte) (*Result, error) {
	text := string(content)
	if !utf8.Valid(content) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	segs := SplitPlainText(text)
	return &Result{Segments: segs, Text: segmentsText(segs), Pages: 1}, nil
}

// SplitPlainText segments unpositioned text line by line: runs of two or more
// table-like lines become tables, everything else is rebuilt into paragraphs.
func SplitPlainText(text string) []models.Segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var segs []models.Segment
	var buf []string
	section := ""
	tables := 0
	flush := func() {
		var paras []cleaner.Paragraph
		paras, section = cleaner.Paragraphs(buf, 1, section)
		for _, p := range paras {
			segs = append(segs, models.Segment{Type: models.ChunkParagraph, Text: p.Text, SectionTitle: p.SectionTitle})
		}
		buf = nil
	}

	for i := 0; i < len(lines); {
		var rows [][]string
		j := i
		for j < len(lines) {
			line := strings.TrimSpace(lines[j])
			if isMarkdownRule(line) && len(rows) > 0 {
				j++
				continue
			}
			cells, ok := reflow.SplitRow(line)
			if !ok {
				break
			}
			rows = append(rows, cells)
			j++
		}
		if len(rows) >= 2 {
			flush()
			tables++
			segs = append(segs, tableSegments(reflow.NewTableGroup(rows), nil, section, fmt.Sprintf("t%d", tables))...)
			i = j
			continue
		}
		buf = append(buf, lines[i])
		i++
	}
	flush()
	return segs
}

// isMarkdownRule matches separator rows such as "|---|:---:|".
func isMarkdownRule(line string) bool {
	if !strings.Contains(line, "-") {
		return false
	}
	return strings.Trim(line, "|-: \t") == ""
}
