package indexer

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
)

// Chunker turns extracted segments into sentence-packed paragraph chunks and
// grouped table chunks.
type Chunker struct {
	cfg   config.ChunkingConfig
	model string
}

// NewChunker creates a chunker. model is recorded on every chunk.
func NewChunker(cfg config.ChunkingConfig, model string) *Chunker {
	return &Chunker{cfg: cfg, model: model}
}

// Chunk converts segments into chunk records with dense indices.
func (c *Chunker) Chunk(segs []models.Segment) []*models.ChunkRecord {
	var chunks []*models.ChunkRecord
	for i := 0; i < len(segs); {
		s := segs[i]
		if s.Type.IsTable() {
			chunks = append(chunks, c.tableChunk(s))
			i++
			continue
		}
		// Consecutive prose segments of the same kind, page and section share one sentence stream.
		j := i + 1
		for j < len(segs) && sameStream(segs[i], segs[j]) {
			j++
		}
		chunks = append(chunks, c.proseChunks(segs[i:j])...)
		i = j
	}

	chunks = c.groupTableRows(chunks)
	if c.cfg.DedupExactOrDefault() {
		chunks = c.dropExactDuplicates(chunks)
	}
	if c.cfg.MaxChunks > 0 && len(chunks) > c.cfg.MaxChunks {
		idx := CapEvenly(len(chunks), c.cfg.MaxChunks)
		capped := make([]*models.ChunkRecord, len(idx))
		for i, k := range idx {
			capped[i] = chunks[k]
		}
		chunks = capped
	}
	reindex(chunks)
	return chunks
}

func sameStream(a, b models.Segment) bool {
	return a.Type == b.Type && a.SectionTitle == b.SectionTitle && samePage(a.Page, b.Page)
}

func samePage(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (c *Chunker) newChunk(s models.Segment, content, raw string) *models.ChunkRecord {
	return &models.ChunkRecord{
		ChunkType:      s.Type,
		Content:        content,
		RawText:        raw,
		Page:           s.Page,
		SectionTitle:   s.SectionTitle,
		QualityScore:   QualityScore(content),
		SchemaVersion:  c.cfg.SchemaVersion,
		EmbeddingModel: c.model,
		TableID:        s.TableID,
	}
}

func (c *Chunker) tableChunk(s models.Segment) *models.ChunkRecord {
	text := strings.TrimSpace(s.Text)
	return c.newChunk(s, text, s.Text)
}

// proseChunks packs the sentences of a stream into overlapping windows and drops
// short or noisy results.
func (c *Chunker) proseChunks(stream []models.Segment) []*models.ChunkRecord {
	var sentences []string
	raw := make([]string, 0, len(stream))
	for _, s := range stream {
		raw = append(raw, s.Text)
		for _, sent := range SplitSentences(Preprocess(s.Text)) {
			sentences = append(sentences, splitLong(sent, c.cfg.MaxChars)...)
		}
	}

	var out []*models.ChunkRecord
	for _, window := range packWindows(sentences, c.cfg.MaxChars, c.cfg.OverlapSentences) {
		ch := c.newChunk(stream[0], window, strings.Join(raw, "\n"))
		if utf8.RuneCountInString(ch.Content) < c.cfg.MinChars || ch.QualityScore < c.cfg.NoiseThreshold {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// packWindows greedily fills windows of at most maxChars runes, carrying overlap
// sentences into the next window. Each window adds at least one sentence the previous
// window did not contain.
func packWindows(sentences []string, maxChars, overlap int) []string {
	var windows []string
	start, prevEnd := 0, 0
	for prevEnd < len(sentences) {
		size := 0
		end := start
		for end < len(sentences) {
			n := utf8.RuneCountInString(sentences[end])
			if end > start {
				n++
			}
			if end > start && end > prevEnd && size+n > maxChars {
				break
			}
			size += n
			end++
		}
		windows = append(windows, strings.Join(sentences[start:end], " "))

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start, prevEnd = next, end
	}
	return windows
}

// splitLong breaks a sentence longer than maxChars at space boundaries, hard-cutting
// words that alone exceed the budget.
func splitLong(sentence string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(sentence) <= maxChars {
		return []string{sentence}
	}
	var out []string
	var cur []rune
	for _, word := range strings.Fields(sentence) {
		w := []rune(word)
		for len(w) > maxChars {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			out = append(out, string(w[:maxChars]))
			w = w[maxChars:]
		}
		switch {
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= maxChars:
			cur = append(append(cur, ' '), w...)
		default:
			out = append(out, string(cur))
			cur = w
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// groupTableRows merges row-sentence chunks of the same table and caps each table,
// keeping its first and last groups.
func (c *Chunker) groupTableRows(chunks []*models.ChunkRecord) []*models.ChunkRecord {
	size := max(c.cfg.TableRowGroupSize, 1)
	var out []*models.ChunkRecord
	for i := 0; i < len(chunks); {
		ch := chunks[i]
		if ch.ChunkType != models.ChunkTableRowSentence {
			out = append(out, ch)
			i++
			continue
		}
		j := i + 1
		for j < len(chunks) && chunks[j].ChunkType == models.ChunkTableRowSentence && chunks[j].TableID == ch.TableID {
			j++
		}

		var groups []*models.ChunkRecord
		for k := i; k < j; k += size {
			rows := chunks[k:min(k+size, j)]
			lines := make([]string, len(rows))
			for r, row := range rows {
				lines[r] = row.Content
			}
			g := *rows[0]
			g.Content = strings.Join(lines, "\n")
			g.RawText = g.Content
			g.QualityScore = QualityScore(g.Content)
			groups = append(groups, &g)
		}
		if limit := c.cfg.MaxTableRowChunks; limit > 0 && len(groups) > limit {
			head := (limit + 1) / 2
			tail := limit - head
			groups = append(groups[:head:head], groups[len(groups)-tail:]...)
		}
		out = append(out, groups...)
		i = j
	}
	return out
}

// dropExactDuplicates removes chunks whose normalized content repeats an earlier chunk.
// Chunks shorter than the configured minimum are always kept.
func (c *Chunker) dropExactDuplicates(chunks []*models.ChunkRecord) []*models.ChunkRecord {
	seen := make(map[string]bool)
	out := chunks[:0]
	for _, ch := range chunks {
		key := strings.ToLower(strings.Join(strings.Fields(ch.Content), " "))
		if utf8.RuneCountInString(key) >= c.cfg.DedupMinChars {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, ch)
	}
	return out
}

// CapEvenly returns k indices out of n spread evenly, always keeping 0 and n-1.
func CapEvenly(n, k int) []int {
	if k >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if k <= 0 {
		return nil
	}
	if k == 1 {
		return []int{0}
	}
	idx := make([]int, 0, k)
	for i := 0; i < k; i++ {
		v := int(math.Round(float64(i) * float64(n-1) / float64(k-1)))
		if len(idx) > 0 && v <= idx[len(idx)-1] {
			v = idx[len(idx)-1] + 1
		}
		idx = append(idx, v)
	}
	return idx
}

func reindex(chunks []*models.ChunkRecord) {
	for i, ch := range chunks {
		ch.ChunkIndex = i
	}
}

const (
	repeatRunLimit   = 6
	repeatPenalty    = 0.25
	plainPunctuation = `.,;:!?'"()[]-/%&。、，！？「」（）`
)

// QualityScore rates how text-like content is, in [0,1].
func QualityScore(content string) float64 {
	total, alnum, symbols := 0, 0, 0
	run, longest := 0, 0
	var prev rune
	for _, r := range content {
		if unicode.IsSpace(r) {
			run = 0
			prev = 0
			continue
		}
		total++
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alnum++
		case !strings.ContainsRune(plainPunctuation, r):
			symbols++
		}
		if r == prev {
			run++
		} else {
			run = 1
		}
		prev = r
		longest = max(longest, run)
	}
	if total == 0 {
		return 0
	}
	score := 0.6*float64(alnum)/float64(total) + 0.4*(1-float64(symbols)/float64(total))
	if longest >= repeatRunLimit {
		score -= repeatPenalty
	}
	return math.Max(0, math.Min(1, score))
}

var (
	abbreviations = map[string]bool{
		"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true, "jr": true,
		"st": true, "vs": true, "etc": true, "e.g": true, "i.e": true, "inc": true, "ltd": true,
		"co": true, "corp": true, "no": true, "fig": true, "vol": true, "approx": true,
		"dept": true, "est": true, "p": true, "pp": true,
	}
	initialsPattern = regexp.MustCompile(`^(?:[A-Za-z]\.)*[A-Z]$`)
)

const (
	terminators    = ".!?…。！？"
	cjkTerminators = "。！？"
	closers        = `"'”’)]」』）》`
)

// SplitSentences splits text at sentence terminators. Decimal points, abbreviations and
// initials never end a sentence; latin terminators need whitespace or the end of text after
// any closing punctuation.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !strings.ContainsRune(terminators, r) {
			continue
		}
		if r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		if r == '.' && isAbbreviation(runes[start:i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && strings.ContainsRune(terminators, runes[end]) {
			end++
		}
		for end < len(runes) && strings.ContainsRune(closers, runes[end]) {
			end++
		}
		if end == len(runes) || unicode.IsSpace(runes[end]) || strings.ContainsRune(cjkTerminators, r) {
			emit(end)
		}
		i = end - 1
	}
	emit(len(runes))
	return out
}

// isAbbreviation reports whether the word ending the prefix is an abbreviation or
// initials, so a following period is not a boundary.
func isAbbreviation(prefix []rune) bool {
	s := string(prefix)
	if k := strings.LastIndexFunc(s, unicode.IsSpace); k >= 0 {
		s = s[k+1:]
	}
	s = strings.TrimLeft(s, `("'“‘[`)
	if s == "" {
		return false
	}
	return abbreviations[strings.ToLower(s)] || initialsPattern.MatchString(s)
}
