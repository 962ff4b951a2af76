package reflow

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// groupRows buckets blocks whose y-centers lie within tol of the running row center.
// Rows are ordered top to bottom, fragments left to right.
func groupRows(blocks []LayoutBlock, tol float64) [][]LayoutBlock {
	sorted := append([]LayoutBlock(nil), blocks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CenterY() != sorted[j].CenterY() {
			return sorted[i].CenterY() < sorted[j].CenterY()
		}
		return sorted[i].X0 < sorted[j].X0
	})

	var rows [][]LayoutBlock
	var rowY float64
	for _, b := range sorted {
		if n := len(rows); n > 0 && math.Abs(b.CenterY()-rowY) <= tol {
			rows[n-1] = append(rows[n-1], b)
			rowY += (b.CenterY() - rowY) / float64(len(rows[n-1]))
			continue
		}
		rows = append(rows, []LayoutBlock{b})
		rowY = b.CenterY()
	}
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X0 < row[j].X0 })
	}
	return rows
}

type cell struct {
	text   string
	x0, x1 float64
}

// splitCells merges a row's fragments left to right, starting a new cell at every gap
// wider than gapLimit.
func splitCells(row []LayoutBlock, gapLimit float64) []cell {
	var cells []cell
	for _, b := range row {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		if n := len(cells); n > 0 && b.X0-cells[n-1].x1 <= gapLimit {
			cells[n-1].text = glue(cells[n-1].text, text)
			cells[n-1].x1 = max(cells[n-1].x1, b.X1)
			continue
		}
		cells = append(cells, cell{text: text, x0: b.X0, x1: b.X1})
	}
	return cells
}

const (
	openers = "([{“‘«"
	closers = ",.;:!?)]}”’»%"
)

// glue joins two fragments with a space unless bracket, punctuation or CJK rules
// say they touch.
func glue(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)
	switch {
	case strings.ContainsRune(openers, last),
		strings.ContainsRune(closers, first),
		isCJK(last) && isCJK(first):
		return a + b
	}
	return a + " " + b
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func joinCells(cells []string) string {
	var out string
	for _, c := range cells {
		out = glue(out, c)
	}
	return out
}

// SplitRow applies the single-line table heuristics: pipe or tab delimiters, or a
// majority of numeric tokens across at least three tokens.
func SplitRow(text string) ([]string, bool) {
	return delimitedCells(text)
}

func delimitedCells(text string) ([]string, bool) {
	if strings.Count(text, "|") >= 2 {
		cells := nonEmpty(trimAll(strings.Split(text, "|")))
		return cells, len(cells) >= 2
	}
	if strings.Contains(text, "\t") {
		cells := nonEmpty(trimAll(strings.Split(text, "\t")))
		return cells, len(cells) >= 2
	}
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return nil, false
	}
	numeric := 0
	for _, f := range fields {
		if isNumericToken(f) {
			numeric++
		}
	}
	if numeric*2 > len(fields) {
		return fields, true
	}
	return nil, false
}

func trimAll(ss []string) []string {
	for i := range ss {
		ss[i] = strings.TrimSpace(ss[i])
	}
	return ss
}

func isNumericToken(s string) bool {
	s = strings.Trim(s, "$€£¥%()+-,.")
	if s == "" {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == ',' || r == '/' || r == ':':
		default:
			return false
		}
	}
	return digits > 0
}

// isProse reports whether letters dominate the non-space runes of s.
func isProse(s string) bool {
	letters, total := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return total > 0 && letters*2 > total
}
