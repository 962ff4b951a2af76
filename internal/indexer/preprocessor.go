package indexer

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hyperjump/shiryo/internal/cleaner"
	"github.com/hyperjump/shiryo/internal/models"
)

const (
	maxTitleRunes   = 80
	summaryRunes    = 200
	maxSummaryRunes = 300
)

// Preprocess normalizes text for indexing (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// Summarize picks an extractive title and short summary. The title is the first
// heading, else the first sentence, else the filename.
func Summarize(segs []models.Segment, filename string) (title, summary string) {
	var sentences []string
	for _, s := range segs {
		if s.Type.IsTable() {
			continue
		}
		text := Preprocess(s.Text)
		if text == "" {
			continue
		}
		if cleaner.IsHeading(text) {
			if title == "" {
				title = truncateRunes(text, maxTitleRunes)
			}
			continue
		}
		if runeLen(strings.Join(sentences, " ")) < summaryRunes {
			sentences = append(sentences, SplitSentences(text)...)
		}
	}

	if title == "" && len(sentences) > 0 {
		title = truncateRunes(sentences[0], maxTitleRunes)
	}
	if title == "" {
		title = titleFromFilename(filename)
	}

	var b strings.Builder
	for _, s := range sentences {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
		if runeLen(b.String()) >= summaryRunes {
			break
		}
	}
	return title, truncateRunes(b.String(), maxSummaryRunes)
}

// titleFromFilename drops the extension and treats underscores as spaces so
// "company_profile_2021.pdf" reads "company profile 2021".
func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func runeLen(s string) int {
	return len([]rune(s))
}
