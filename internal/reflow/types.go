// Package reflow reconstructs reading order from positioned PDF text: column detection,
// row assembly, table grouping and parallel-column analysis.
package reflow

import (
	"strings"
)

// LayoutBlock is a positioned text fragment. Coordinates are top-down: Y grows toward
// the bottom of the page.
type LayoutBlock struct {
	Page     int
	Text     string
	X0, Y0   float64
	X1, Y1   float64
	FontSize float64
}

// CenterX returns the horizontal center.
func (b LayoutBlock) CenterX() float64 { return (b.X0 + b.X1) / 2 }

// CenterY returns the vertical center.
func (b LayoutBlock) CenterY() float64 { return (b.Y0 + b.Y1) / 2 }

// Area returns the bounding box area.
func (b LayoutBlock) Area() float64 {
	return max(b.X1-b.X0, 0) * max(b.Y1-b.Y0, 0)
}

// LineKind classifies a reconstructed row.
type LineKind int

const (
	LineParagraph LineKind = iota
	LineTable
)

// OrderedLine is one reconstructed row in reading order.
type OrderedLine struct {
	Text   string
	Cells  []string
	Kind   LineKind
	Column int
	Y      float64
	// Break ends the paragraph after this line.
	Break bool
	// TableIndex points into PageReflowResult.Tables for LineTable rows.
	TableIndex int
}

// ColumnLayout describes how a page was split.
type ColumnLayout int

const (
	LayoutSingle ColumnLayout = iota
	LayoutTwoColumn
	LayoutSidebar
)

func (l ColumnLayout) String() string {
	switch l {
	case LayoutTwoColumn:
		return "two_column"
	case LayoutSidebar:
		return "sidebar"
	default:
		return "single"
	}
}

// PageReflowResult is the reconstructed content of one page.
type PageReflowResult struct {
	Page     int
	Layout   ColumnLayout
	Parallel bool
	// Lines holds every row in reading order, table rows included.
	Lines []OrderedLine
	// ParagraphLines holds non-table text for the cleaner. An empty string marks a
	// paragraph boundary. Empty on parallel pages.
	ParagraphLines []string
	// LeftLines and RightLines are set on parallel pages only.
	LeftLines  []string
	RightLines []string
	Tables     []TableGroup
}

// Text renders the page as plain text with tables as Markdown grids.
func (r *PageReflowResult) Text() string {
	var parts []string
	if r.Parallel {
		parts = append(parts, strings.Join(r.LeftLines, "\n"), strings.Join(r.RightLines, "\n"))
	} else {
		var para []string
		emitted := make(map[int]bool)
		flush := func() {
			if len(para) > 0 {
				parts = append(parts, strings.Join(para, "\n"))
				para = nil
			}
		}
		for _, l := range r.Lines {
			if l.Kind == LineTable {
				flush()
				if !emitted[l.TableIndex] {
					emitted[l.TableIndex] = true
					parts = append(parts, r.Tables[l.TableIndex].Markdown())
				}
				continue
			}
			para = append(para, l.Text)
			if l.Break {
				flush()
			}
		}
		flush()
		return strings.Join(parts, "\n\n")
	}
	for _, t := range r.Tables {
		parts = append(parts, t.Markdown())
	}
	return strings.Join(parts, "\n\n")
}
