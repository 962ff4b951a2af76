package reflow

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/shiryo/internal/config"
)

const defaultFontSize = 10.0

// Reflower rebuilds page reading order.
type Reflower struct {
	cfg config.ReflowConfig
}

// New creates a Reflower.
func New(cfg config.ReflowConfig) *Reflower {
	return &Reflower{cfg: cfg}
}

// Page reflows the blocks of one page. pageWidth is in the same units as the block
// coordinates.
func (r *Reflower) Page(page int, blocks []LayoutBlock, pageWidth float64) *PageReflowResult {
	res := &PageReflowResult{Page: page}
	kept := make([]LayoutBlock, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) != "" {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return res
	}
	if pageWidth <= 0 {
		for _, b := range kept {
			pageWidth = max(pageWidth, b.X1)
		}
	}

	fontSize := medianFontSize(kept)
	layout, cols := r.splitColumns(kept, pageWidth)
	res.Layout = layout

	streams := make([][]OrderedLine, len(cols))
	for i, col := range cols {
		var lines []OrderedLine
		for _, row := range groupRows(col, r.cfg.RowTolerance) {
			lines = append(lines, r.rowLines(row, i, fontSize, pageWidth)...)
		}
		streams[i], res.Tables = groupTables(lines, res.Tables)
	}

	if layout == LayoutTwoColumn && r.isParallel(streams[0], streams[1]) {
		res.Parallel = true
		res.LeftLines = paragraphTexts(streams[0])
		res.RightLines = paragraphTexts(streams[1])
	}

	for _, s := range streams {
		res.Lines = append(res.Lines, s...)
		if res.Parallel {
			continue
		}
		for _, l := range s {
			if l.Kind == LineTable {
				res.ParagraphLines = paragraphBreak(res.ParagraphLines)
				continue
			}
			res.ParagraphLines = append(res.ParagraphLines, l.Text)
			if l.Break {
				res.ParagraphLines = paragraphBreak(res.ParagraphLines)
			}
		}
		// Columns never run into each other.
		res.ParagraphLines = paragraphBreak(res.ParagraphLines)
	}
	for len(res.ParagraphLines) > 0 && res.ParagraphLines[len(res.ParagraphLines)-1] == "" {
		res.ParagraphLines = res.ParagraphLines[:len(res.ParagraphLines)-1]
	}
	return res
}

func paragraphBreak(lines []string) []string {
	if len(lines) == 0 || lines[len(lines)-1] == "" {
		return lines
	}
	return append(lines, "")
}

// rowLines classifies one row. A two-cell prose row split by a gutter-wide gap becomes
// two separate paragraph lines.
func (r *Reflower) rowLines(row []LayoutBlock, column int, fontSize, pageWidth float64) []OrderedLine {
	cells := splitCells(row, r.cfg.CellGapFactor*fontSize)
	if len(cells) == 0 {
		return nil
	}
	var y float64
	for _, b := range row {
		y += b.CenterY()
	}
	y /= float64(len(row))

	texts := make([]string, len(cells))
	for i, c := range cells {
		texts[i] = c.text
	}
	line := OrderedLine{Text: joinCells(texts), Cells: texts, Column: column, Y: y}

	switch len(cells) {
	case 1:
		if dc, ok := delimitedCells(line.Text); ok {
			line.Kind = LineTable
			line.Cells = dc
		}
	case 2:
		gap := cells[1].x0 - cells[0].x1
		if gap >= r.cfg.GutterRatio*pageWidth && isProse(texts[0]) && isProse(texts[1]) {
			return []OrderedLine{
				{Text: texts[0], Cells: texts[:1], Column: column, Y: y, Break: true},
				{Text: texts[1], Cells: texts[1:], Column: column, Y: y, Break: true},
			}
		}
		line.Kind = LineTable
	default:
		line.Kind = LineTable
	}
	return []OrderedLine{line}
}

// isParallel aligns the paragraph rows of two columns by y-center and accepts the page
// as parallel text when enough rows pair up closely and the lines are long enough.
func (r *Reflower) isParallel(left, right []OrderedLine) bool {
	l := paragraphRows(left)
	rt := paragraphRows(right)
	if len(l) == 0 || len(rt) == 0 {
		return false
	}

	window := 2 * max(r.cfg.RowTolerance, r.cfg.ParallelMaxOffset)
	used := make([]bool, len(rt))
	var offsets []float64
	for _, a := range l {
		best, bestD := -1, window
		for j, b := range rt {
			if used[j] {
				continue
			}
			if d := math.Abs(a.Y - b.Y); d <= bestD {
				best, bestD = j, d
			}
		}
		if best >= 0 {
			used[best] = true
			offsets = append(offsets, bestD)
		}
	}

	ratio := float64(len(offsets)) / float64(max(len(l), len(rt)))
	if ratio < r.cfg.ParallelMinMatchRatio || median(offsets) > r.cfg.ParallelMaxOffset {
		return false
	}
	var lengths []float64
	for _, line := range append(l, rt...) {
		lengths = append(lengths, float64(utf8.RuneCountInString(line.Text)))
	}
	return median(lengths) >= float64(r.cfg.ParallelMinLineLen)
}

func paragraphRows(lines []OrderedLine) []OrderedLine {
	var out []OrderedLine
	for _, l := range lines {
		if l.Kind == LineParagraph {
			out = append(out, l)
		}
	}
	return out
}

func paragraphTexts(lines []OrderedLine) []string {
	var out []string
	for _, l := range paragraphRows(lines) {
		out = append(out, l.Text)
	}
	return out
}

func medianFontSize(blocks []LayoutBlock) float64 {
	var sizes []float64
	for _, b := range blocks {
		if b.FontSize > 0 {
			sizes = append(sizes, b.FontSize)
		}
	}
	if len(sizes) == 0 {
		return defaultFontSize
	}
	return median(sizes)
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(1)
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
