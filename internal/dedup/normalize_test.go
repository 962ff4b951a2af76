package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTextForHash(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase and collapse", "Hello   World\n\tAgain", "hello world again"},
		{"page number lines dropped", "Intro\n- 3 -\nBody\nPage 4\n5 / 20\n6 of 9\nEnd", "intro body end"},
		{"only page numbers", "12\n\n13", ""},
		{"numbers inside prose kept", "There are 12 apples", "there are 12 apples"},
		{"empty", "   \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTextForHash(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeTextForHash(got), "normalization must be idempotent")
		})
	}
}

func TestTextSHA256(t *testing.T) {
	a := TextSHA256("The quick brown fox\n\n1\n")
	b := TextSHA256("the   QUICK brown\nfox")
	assert.NotEmpty(t, a)
	assert.Equal(t, a, b, "whitespace, case and page numbers must not change the hash")
	assert.NotEqual(t, a, TextSHA256("the quick brown dog"))
	assert.Empty(t, TextSHA256("  \n 7 \n"))
}

func TestFileSHA256(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.txt")
	p2 := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(p1, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("same bytes"), 0o644))

	h1, err := FileSHA256(p1)
	require.NoError(t, err)
	h2, err := FileSHA256(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	_, err = FileSHA256(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
