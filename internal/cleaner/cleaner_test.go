package cleaner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiryo/internal/config"
)

func testCleaner() *Cleaner {
	return New(config.CleanerConfig{EdgeLines: 2, RepeatRatio: 0.6, MinPages: 3})
}

func TestClean_RemovesRunningHeadersAndFooters(t *testing.T) {
	var pages [][]string
	for i, topic := range []string{"apples", "pears", "plums", "figs"} {
		pages = append(pages, []string{
			"ACME Corp Annual Report",
			"",
			fmt.Sprintf("Body text about %s.", topic),
			fmt.Sprintf("Page %d of 4", i+1),
		})
	}
	paras := testCleaner().Clean(pages)
	require.Len(t, paras, 4)
	for i, p := range paras {
		assert.Equal(t, i+1, p.Page)
		assert.NotContains(t, p.Text, "ACME")
		assert.NotContains(t, p.Text, "Page")
	}
}

func TestClean_KeepsEdgesOnShortDocuments(t *testing.T) {
	pages := [][]string{
		{"Shared header", "first body."},
		{"Shared header", "second body."},
	}
	out := testCleaner().RemoveRepeatedEdges(pages)
	assert.Equal(t, pages, out)
}

func TestClean_KeepsRepeatedBodyLines(t *testing.T) {
	var pages [][]string
	for i := 0; i < 3; i++ {
		r := strings.Repeat("x", i+1)
		pages = append(pages, []string{"top " + r, "intro " + r, "Repeated middle line.", "outro " + r, "bottom " + r})
	}
	out := testCleaner().RemoveRepeatedEdges(pages)
	for _, lines := range out {
		assert.Contains(t, lines, "Repeated middle line.")
	}
}

func TestClean_MergesSoftBreaksAndHyphens(t *testing.T) {
	paras := testCleaner().Clean([][]string{{
		"The agreement covers inter-",
		"national trade between the",
		"two parties.",
		"A second paragraph starts here.",
		"日本語の",
		"文章です。",
	}})
	require.Len(t, paras, 3)
	assert.Equal(t, "The agreement covers international trade between the two parties.", paras[0].Text)
	assert.Equal(t, "A second paragraph starts here.", paras[1].Text)
	assert.Equal(t, "日本語の文章です。", paras[2].Text)
}

func TestClean_KeepsCompoundHyphenBeforeCapital(t *testing.T) {
	paras := testCleaner().Clean([][]string{{"Trans-", "Pacific routes"}})
	require.Len(t, paras, 1)
	assert.Equal(t, "Trans-Pacific routes", paras[0].Text)
}

func TestClean_HeadingsAndLists(t *testing.T) {
	paras := testCleaner().Clean([][]string{
		{"1.1 Scope", "This section covers", "the scope.", "- first item", "- second item", "continued"},
		{"More text on the next page"},
	})
	require.Len(t, paras, 6)
	assert.True(t, paras[0].Heading)
	assert.Equal(t, "1.1 Scope", paras[0].Text)
	assert.Equal(t, "This section covers the scope.", paras[1].Text)
	assert.Equal(t, "1.1 Scope", paras[1].SectionTitle)
	assert.Equal(t, "- first item", paras[2].Text)
	assert.Equal(t, "- second item", paras[3].Text)
	assert.Equal(t, "continued", paras[4].Text)
	assert.Equal(t, 2, paras[5].Page)
	assert.Equal(t, "1.1 Scope", paras[5].SectionTitle)
}

func TestIsHeading(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"EXECUTIVE SUMMARY", true},
		{"## Results", true},
		{"2.3 Methodology", true},
		{"Chapter 4 Findings", true},
		{"3 Results", true},
		{"This is an ordinary sentence.", false},
		{"2021 revenue grew", false},
		{"OK", false},
		{"1. buy milk", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHeading(tt.line))
		})
	}
}
