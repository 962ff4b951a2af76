package indexer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/shiryo/internal/models"
)

func TestPreprocess(t *testing.T) {
	if got := Preprocess("  a\n\n b\t\tc  "); got != "a b c" {
		t.Errorf("Preprocess = %q", got)
	}
}

func TestSummarize_HeadingTitle(t *testing.T) {
	segs := []models.Segment{
		{Type: models.ChunkParagraph, Text: "ANNUAL REPORT"},
		{Type: models.ChunkParagraph, Text: "Revenue grew in every region. Costs were flat."},
	}
	title, summary := Summarize(segs, "report.pdf")
	if title != "ANNUAL REPORT" {
		t.Errorf("title = %q", title)
	}
	if summary != "Revenue grew in every region. Costs were flat." {
		t.Errorf("summary = %q", summary)
	}
}

func TestSummarize_FirstSentenceTitle(t *testing.T) {
	segs := []models.Segment{
		{Type: models.ChunkTableRaw, Text: "| a | b |"},
		{Type: models.ChunkParagraph, Text: "Minutes of the spring meeting. Attendance was high."},
	}
	title, _ := Summarize(segs, "minutes.txt")
	if title != "Minutes of the spring meeting." {
		t.Errorf("title = %q", title)
	}
}

func TestSummarize_FilenameFallback(t *testing.T) {
	title, summary := Summarize(nil, "/tmp/company_profile_2021.pdf")
	if title != "company profile 2021" || summary != "" {
		t.Errorf("got %q / %q", title, summary)
	}
}

func TestSummarize_LongTextCapped(t *testing.T) {
	long := strings.Repeat("word ", 200) + "end."
	_, summary := Summarize([]models.Segment{{Type: models.ChunkParagraph, Text: long}}, "x.txt")
	if n := utf8.RuneCountInString(summary); n > 300 {
		t.Errorf("summary has %d runes, want at most 300", n)
	}
	if !strings.HasSuffix(summary, "…") {
		t.Errorf("truncated summary should end with an ellipsis: %q", summary)
	}
}
