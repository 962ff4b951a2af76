package reflow

import (
	"fmt"
	"strings"
	"unicode"
)

// TableGroup is a run of consecutive table-like rows.
type TableGroup struct {
	Header []string
	Rows   [][]string
	// SyntheticHeader is set when Header was generated as col_N.
	SyntheticHeader bool
	Column          int
	Y               float64
}

func newTableGroup(lines []OrderedLine) TableGroup {
	cells := make([][]string, len(lines))
	for i, l := range lines {
		cells[i] = l.Cells
	}
	t := NewTableGroup(cells)
	t.Column = lines[0].Column
	t.Y = lines[0].Y
	return t
}

// NewTableGroup builds a table from rows of cells. Short rows are padded. The first row
// becomes the header when it is alpha-dominant; otherwise col_N headers are generated.
func NewTableGroup(cells [][]string) TableGroup {
	width := 0
	for _, c := range cells {
		width = max(width, len(c))
	}
	rows := make([][]string, len(cells))
	for i, c := range cells {
		row := make([]string, width)
		copy(row, c)
		rows[i] = row
	}

	var t TableGroup
	if len(rows) == 0 {
		return t
	}
	if alphaDominant(rows[0]) && len(rows) > 1 {
		t.Header = rows[0]
		t.Rows = rows[1:]
		for i, h := range t.Header {
			if h == "" {
				t.Header[i] = fmt.Sprintf("col_%d", i+1)
			}
		}
		return t
	}
	t.SyntheticHeader = true
	t.Header = make([]string, width)
	for i := range t.Header {
		t.Header[i] = fmt.Sprintf("col_%d", i+1)
	}
	t.Rows = rows
	return t
}

// Markdown renders the table as a pipe grid.
func (t TableGroup) Markdown() string {
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(c, "|", `\|`))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(t.Header)
	b.WriteString("|")
	for range t.Header {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range t.Rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RowSentences renders each data row as "header: value / header: value".
// Empty cells are skipped, as are rows with no values.
func (t TableGroup) RowSentences() []string {
	var out []string
	for _, row := range t.Rows {
		var parts []string
		for i, v := range row {
			if v == "" {
				continue
			}
			parts = append(parts, t.Header[i]+": "+v)
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " / "))
		}
	}
	return out
}

// alphaDominant reports whether most non-empty cells contain more letters than digits.
func alphaDominant(cells []string) bool {
	alpha, filled := 0, 0
	for _, c := range cells {
		if c == "" {
			continue
		}
		filled++
		letters, digits := 0, 0
		for _, r := range c {
			switch {
			case unicode.IsLetter(r):
				letters++
			case unicode.IsDigit(r):
				digits++
			}
		}
		if letters > digits {
			alpha++
		}
	}
	return filled > 0 && alpha*2 > filled
}

// groupTables turns runs of two or more table rows into TableGroups appended to tables.
// A lone table row is demoted to a paragraph line.
func groupTables(lines []OrderedLine, tables []TableGroup) ([]OrderedLine, []TableGroup) {
	out := make([]OrderedLine, 0, len(lines))
	for i := 0; i < len(lines); {
		if lines[i].Kind != LineTable {
			out = append(out, lines[i])
			i++
			continue
		}
		j := i
		for j < len(lines) && lines[j].Kind == LineTable {
			j++
		}
		run := lines[i:j]
		if len(run) == 1 {
			out = append(out, demote(run[0])...)
		} else {
			idx := len(tables)
			tables = append(tables, newTableGroup(run))
			for _, l := range run {
				l.TableIndex = idx
				out = append(out, l)
			}
		}
		i = j
	}
	return out, tables
}

// demote turns a lone table row back into paragraph text. When two or more cells read
// as prose each cell becomes its own paragraph, so texts sharing a row are never joined.
func demote(l OrderedLine) []OrderedLine {
	cells := nonEmpty(l.Cells)
	prose := 0
	for _, c := range cells {
		if isProse(c) {
			prose++
		}
	}
	if prose < 2 {
		l.Kind = LineParagraph
		l.Text = strings.Join(cells, " ")
		return []OrderedLine{l}
	}
	out := make([]OrderedLine, 0, len(cells))
	for i, c := range cells {
		out = append(out, OrderedLine{Text: c, Cells: cells[i : i+1], Column: l.Column, Y: l.Y, Break: true})
	}
	return out
}

func nonEmpty(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
