package reflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiryo/internal/config"
)

func testReflower() *Reflower {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return New(cfg.Reflow)
}

func block(text string, x0, y0, x1 float64) LayoutBlock {
	return LayoutBlock{Page: 1, Text: text, X0: x0, Y0: y0, X1: x1, Y1: y0 + 10, FontSize: 10}
}

func TestReflow_SameRowColumnsNotConcatenated(t *testing.T) {
	res := testReflower().Page(1, []LayoutBlock{
		block("I like CHATGPT", 50, 100, 150),
		block("I use AI daily", 350, 100, 450),
	}, 600)

	assert.Equal(t, LayoutSingle, res.Layout)
	assert.Equal(t, []string{"I like CHATGPT", "", "I use AI daily"}, res.ParagraphLines)
	for _, l := range res.Lines {
		assert.False(t, strings.Contains(l.Text, "CHATGPT") && strings.Contains(l.Text, "daily"), l.Text)
	}
}

func TestReflow_NarrowGapRowNotConcatenated(t *testing.T) {
	// The gap is wide enough to split cells but narrower than a column gutter.
	res := testReflower().Page(1, []LayoutBlock{
		block("I like CHATGPT", 50, 100, 150),
		block("I use AI daily", 171, 100, 271),
	}, 600)

	assert.Equal(t, LayoutSingle, res.Layout)
	assert.Empty(t, res.Tables)
	assert.Equal(t, []string{"I like CHATGPT", "", "I use AI daily"}, res.ParagraphLines)
	for _, l := range res.Lines {
		assert.False(t, strings.Contains(l.Text, "CHATGPT") && strings.Contains(l.Text, "daily"), l.Text)
	}
}

func TestReflow_TwoColumnsReadInOrder(t *testing.T) {
	res := testReflower().Page(1, []LayoutBlock{
		block("I like CHATGPT", 50, 100, 150),
		block("I use AI daily", 350, 100, 450),
		block("left second", 50, 120, 150),
		block("right second", 350, 120, 450),
		block("left third", 50, 140, 150),
		block("right third", 350, 140, 450),
	}, 600)

	assert.Equal(t, LayoutTwoColumn, res.Layout)
	assert.False(t, res.Parallel, "short lines are not parallel text")
	assert.Equal(t, []string{
		"I like CHATGPT", "left second", "left third", "",
		"I use AI daily", "right second", "right third",
	}, res.ParagraphLines)
}

func TestReflow_ParallelColumns(t *testing.T) {
	res := testReflower().Page(1, []LayoutBlock{
		block("The committee approved the plan", 50, 100, 250),
		block("Le comité a approuvé le plan hier", 350, 100, 550),
		block("after a long and careful debate", 50, 120, 250),
		block("après un long débat très attentif", 350, 120, 550),
		block("and published the final minutes", 50, 140, 250),
		block("et a publié le procès-verbal final", 350, 140, 550),
	}, 600)

	require.True(t, res.Parallel)
	assert.Empty(t, res.ParagraphLines)
	assert.Len(t, res.LeftLines, 3)
	assert.Len(t, res.RightLines, 3)
	assert.Equal(t, "Le comité a approuvé le plan hier", res.RightLines[0])
}

func TestReflow_Sidebar(t *testing.T) {
	var blocks []LayoutBlock
	for i := 0; i < 6; i++ {
		blocks = append(blocks, block("main body text line", 50, float64(100+i*15), 350))
	}
	blocks = append(blocks,
		block("Note", 450, 100, 500),
		block("Aside", 450, 115, 500),
	)
	res := testReflower().Page(1, blocks, 600)

	assert.Equal(t, LayoutSidebar, res.Layout)
	require.Len(t, res.ParagraphLines, 9)
	assert.Equal(t, "main body text line", res.ParagraphLines[0])
	assert.Equal(t, "", res.ParagraphLines[6])
	assert.Equal(t, "Note", res.ParagraphLines[7])
}

func TestReflow_TableGroup(t *testing.T) {
	rows := [][]string{{"Name", "Qty", "Price"}, {"Apple", "3", "1.20"}, {"Pear", "5", "0.80"}}
	var blocks []LayoutBlock
	for i, row := range rows {
		y := float64(100 + i*15)
		blocks = append(blocks,
			block(row[0], 50, y, 80),
			block(row[1], 110, y, 130),
			block(row[2], 160, y, 190),
		)
	}
	res := testReflower().Page(2, blocks, 1000)

	assert.Equal(t, LayoutSingle, res.Layout)
	require.Len(t, res.Tables, 1)
	table := res.Tables[0]
	assert.False(t, table.SyntheticHeader)
	assert.Equal(t, []string{"Name", "Qty", "Price"}, table.Header)
	assert.Equal(t, []string{
		"Name: Apple / Qty: 3 / Price: 1.20",
		"Name: Pear / Qty: 5 / Price: 0.80",
	}, table.RowSentences())
	assert.True(t, strings.HasPrefix(table.Markdown(), "| Name | Qty | Price |\n| --- | --- | --- |"))
	assert.Empty(t, res.ParagraphLines)
	assert.Contains(t, res.Text(), "| Apple | 3 | 1.20 |")
}

func TestReflow_LoneTableRowIsParagraph(t *testing.T) {
	res := testReflower().Page(1, []LayoutBlock{
		block("Intro sentence here.", 50, 100, 250),
		block("Total | 12 | 30", 50, 115, 250),
		block("Closing words.", 50, 130, 250),
	}, 600)
	assert.Empty(t, res.Tables)
	assert.Equal(t, []string{"Intro sentence here.", "Total 12 30", "Closing words."}, res.ParagraphLines)
}

func TestNewTableGroup_SyntheticHeader(t *testing.T) {
	g := newTableGroup([]OrderedLine{
		{Cells: []string{"2021", "10"}, Kind: LineTable},
		{Cells: []string{"2022", "12", "x|y"}, Kind: LineTable},
	})
	assert.True(t, g.SyntheticHeader)
	assert.Equal(t, []string{"col_1", "col_2", "col_3"}, g.Header)
	assert.Len(t, g.Rows, 2)
	assert.Equal(t, "col_1: 2021 / col_2: 10", g.RowSentences()[0])
	assert.Contains(t, g.Markdown(), `x\|y`)
}

func TestGlue(t *testing.T) {
	assert.Equal(t, "(a", glue("(", "a"))
	assert.Equal(t, "word,", glue("word", ","))
	assert.Equal(t, "漢字", glue("漢", "字"))
	assert.Equal(t, "two words", glue("two", "words"))
}

func TestDelimitedCells(t *testing.T) {
	cells, ok := delimitedCells("2021 2022 2023 growth")
	assert.True(t, ok)
	assert.Len(t, cells, 4)

	cells, ok = delimitedCells("a\tb\tc")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, cells)

	_, ok = delimitedCells("plain prose with 1 number")
	assert.False(t, ok)
}

func TestReflow_EmptyPage(t *testing.T) {
	res := testReflower().Page(3, []LayoutBlock{{Text: "  "}}, 600)
	assert.Equal(t, 3, res.Page)
	assert.Empty(t, res.Lines)
	assert.Empty(t, res.Text())
}
