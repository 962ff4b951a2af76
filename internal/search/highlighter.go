package search

import (
	"strings"
	"unicode"
)

// Highlight returns a window of at most maxLen runes around the first query term
// found in content, with ellipses where it was cut.
func Highlight(content, query string, maxLen int) string {
	runes := []rune(content)
	if maxLen <= 0 || len(runes) <= maxLen {
		return content
	}

	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}
	at := -1
	for _, term := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if i := runeIndex(lower, []rune(term)); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}

	start := 0
	if at > maxLen/3 {
		start = at - maxLen/3
	}
	end := min(start+maxLen, len(runes))
	start = max(0, end-maxLen)

	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(runes) {
		snippet += "…"
	}
	return snippet
}

func runeIndex(s, sub []rune) int {
	if len(sub) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(sub) <= len(s); i++ {
		for j := range sub {
			if s[i+j] != sub[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
