// Package extract turns uploaded files into ordered, typed segments.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/cleaner"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/ocr"
	"github.com/hyperjump/shiryo/internal/reflow"
)

// OCRClient is the subset of the OCR worker client used by extraction.
type OCRClient interface {
	Extract(ctx context.Context, filePath string, hints ocr.Hints) *ocr.Response
}

// Result is the outcome of extracting one file.
type Result struct {
	Segments []models.Segment
	// Text is the cleaned document text used for hashing and display.
	Text      string
	Pages     int
	OCRUsed   bool
	OCRReason string
}

// Extractor extracts segments from PDF, spreadsheet and text files.
type Extractor struct {
	reflower *reflow.Reflower
	cleaner  *cleaner.Cleaner
	ocrCfg   config.OCRConfig
	ocr      OCRClient
	logger   *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR sets the OCR worker client used for thin PDFs.
func WithOCR(c OCRClient) Option {
	return func(e *Extractor) { e.ocr = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor returns a new Extractor.
func NewExtractor(cfg *config.Config, opts ...Option) *Extractor {
	e := &Extractor{
		reflower: reflow.New(cfg.Reflow),
		cleaner:  cleaner.New(cfg.Cleaner),
		ocrCfg:   cfg.OCR,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its segments. Thin PDFs fall back to OCR
// when a worker is configured.
func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return e.extractPDFFile(ctx, path, content)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts segments from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are read as text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Result, error) {
	switch ext {
	case ".pdf":
		return e.extractPDF(content)
	case ".xlsx", ".xlsm":
		return extractExcel(content)
	case ".csv":
		return extractCSV(content)
	default:
		return extractPlain(content)
	}
}

// applyOCR replaces the extracted segments with OCR output when extraction was thin
// and the OCR text is longer.
func (e *Extractor) applyOCR(ctx context.Context, path string, res *Result, hints ocr.Hints) {
	need, reason := ocr.NeedsOCR(len([]rune(res.Text)), len(res.Segments), e.ocrCfg)
	res.OCRReason = reason
	if !need || e.ocr == nil {
		return
	}
	e.logger.Info("falling back to OCR", zap.String("file", path), zap.String("reason", reason))
	resp := e.ocr.Extract(ctx, path, hints)
	text := strings.TrimSpace(resp.Text)
	if len([]rune(text)) <= len([]rune(res.Text)) {
		return
	}
	res.Segments = SplitPlainText(text)
	res.Text = segmentsText(res.Segments)
	res.OCRUsed = true
	if resp.Pages > 0 {
		res.Pages = resp.Pages
	}
}

// segmentsText joins paragraph and raw table text, skipping derived row sentences.
func segmentsText(segs []models.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Type == models.ChunkTableRowSentence {
			continue
		}
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// tableSegments renders a table as one raw segment plus one segment per row sentence.
func tableSegments(t reflow.TableGroup, page *int, section, tableID string) []models.Segment {
	segs := []models.Segment{{
		Type:         models.ChunkTableRaw,
		Text:         t.Markdown(),
		Page:         page,
		SectionTitle: section,
		TableID:      tableID,
	}}
	for _, s := range t.RowSentences() {
		segs = append(segs, models.Segment{
			Type:         models.ChunkTableRowSentence,
			Text:         s,
			Page:         page,
			SectionTitle: section,
			TableID:      tableID,
		})
	}
	return segs
}
