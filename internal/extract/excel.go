package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/reflow"
)

// maxRawTableRows bounds the Markdown grid of one sheet. Row sentences are not bounded here.
const maxRawTableRows = 200

func extractExcel(content []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	res := &Result{}
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		rows = trimRows(rows)
		if len(rows) == 0 {
			continue
		}
		res.Pages++
		res.Segments = append(res.Segments, sheetSegments(rows, sheet, fmt.Sprintf("s%d", i+1))...)
	}
	res.Text = segmentsText(res.Segments)
	return res, nil
}

func extractCSV(content []byte) (*Result, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		rows = append(rows, rec)
	}
	rows = trimRows(rows)
	res := &Result{Pages: 1}
	if len(rows) > 0 {
		res.Segments = sheetSegments(rows, "", "s1")
	}
	res.Text = segmentsText(res.Segments)
	return res, nil
}

// sheetSegments renders a sheet as a table. A single-row sheet becomes a paragraph.
func sheetSegments(rows [][]string, sheet, tableID string) []models.Segment {
	if len(rows) == 1 {
		return []models.Segment{{
			Type:         models.ChunkParagraph,
			Text:         strings.Join(nonEmptyCells(rows[0]), " "),
			SectionTitle: sheet,
		}}
	}
	t := reflow.NewTableGroup(rows)
	segs := tableSegments(t, nil, sheet, tableID)
	if len(t.Rows) > maxRawTableRows {
		head := t
		head.Rows = t.Rows[:maxRawTableRows]
		segs[0].Text = head.Markdown()
	}
	return segs
}

// trimRows trims cells and drops empty rows.
func trimRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		if len(nonEmptyCells(row)) > 0 {
			out = append(out, row)
		}
	}
	return out
}

func nonEmptyCells(row []string) []string {
	var out []string
	for _, c := range row {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
