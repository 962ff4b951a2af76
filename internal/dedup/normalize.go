// Package dedup detects exact and near-duplicate documents, maintains duplicate clusters,
// and decides which documents are indexed.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// pageNumberLine matches lines such as "12", "- 3 -", "page 4", "5 / 20" and "6 of 9".
var pageNumberLine = regexp.MustCompile(`^[\s\-–—]*(?:page\s*)?\d{1,4}(?:\s*(?:/|of)\s*\d{1,4})?[\s\-–—]*$`)

// NormalizeTextForHash lowercases text, drops page-number lines and collapses all
// whitespace to single spaces. It is idempotent.
func NormalizeTextForHash(text string) string {
	lines := strings.Split(strings.ToLower(text), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if pageNumberLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(strings.Fields(strings.Join(kept, " ")), " ")
	if pageNumberLine.MatchString(out) {
		return ""
	}
	return out
}

// TextSHA256 returns the hex SHA-256 of the normalized text, or "" when it normalizes to nothing.
func TextSHA256(text string) string {
	norm := NormalizeTextForHash(text)
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// FileSHA256 returns the hex SHA-256 of the file's bytes.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
