package extract

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/ocr"
	"github.com/hyperjump/shiryo/internal/reflow"
)

const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
	// Glyphs closer than this fraction of the font size join the same run.
	runJoinGap = 0.3
	// Runs separated by more than this fraction of the font size get a space.
	runSpaceGap = 0.15
)

// pdfInfo is what pdfcpu learned about a PDF before layout extraction.
type pdfInfo struct {
	Pages     int
	Encrypted bool
	// Invalid is the validation error when pdfcpu could not read the file.
	Invalid error
}

// preflightPDF validates the file with pdfcpu. The page count caps OCR work and an
// encrypted or invalid file asks OCR to render instead of trusting its text layer.
func (e *Extractor) preflightPDF(path string) pdfInfo {
	pc, err := api.ReadContextFile(path)
	if err != nil {
		e.logger.Warn("PDF preflight failed", zap.String("file", path), zap.Error(err))
		return pdfInfo{Invalid: err}
	}
	info := pdfInfo{Pages: pc.PageCount, Encrypted: pc.Encrypt != nil}
	e.logger.Debug("PDF preflight",
		zap.String("file", path),
		zap.Int("pages", info.Pages),
		zap.Bool("encrypted", info.Encrypted))
	return info
}

// extractPDFFile reads a PDF from disk. When the layout reader cannot open the file,
// OCR gets a chance before the file is reported as unextractable.
func (e *Extractor) extractPDFFile(ctx context.Context, path string, content []byte) (*Result, error) {
	info := e.preflightPDF(path)
	res, err := e.extractPDF(content)
	if err != nil {
		e.logger.Warn("PDF layout extraction failed", zap.String("file", path), zap.Error(err))
		res = &Result{}
	}
	if res.Pages == 0 {
		res.Pages = info.Pages
	}
	e.applyOCR(ctx, path, res, ocr.Hints{
		Pages:       info.Pages,
		ForceRender: err != nil || info.Encrypted || info.Invalid != nil,
	})
	if err != nil && !res.OCRUsed {
		if info.Invalid != nil {
			return nil, fmt.Errorf("%w (preflight: %v)", err, info.Invalid)
		}
		return nil, err
	}
	return res, nil
}

func (e *Extractor) extractPDF(content []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := r.NumPage()
	results := make([]*reflow.PageReflowResult, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			results = append(results, &reflow.PageReflowResult{Page: i})
			continue
		}
		blocks, width, err := pageBlocks(page, i)
		if err != nil {
			e.logger.Warn("skipping unreadable PDF page", zap.Int("page", i), zap.Error(err))
			results = append(results, &reflow.PageReflowResult{Page: i})
			continue
		}
		results = append(results, e.reflower.Page(i, blocks, width))
	}

	segs := e.pageSegments(results)
	return &Result{Segments: segs, Text: segmentsText(segs), Pages: numPages}, nil
}

// pageSegments cleans paragraph text across pages and interleaves tables and parallel
// columns in page order.
func (e *Extractor) pageSegments(results []*reflow.PageReflowResult) []models.Segment {
	pages := make([][]string, len(results))
	for i, res := range results {
		pages[i] = res.ParagraphLines
	}
	paras := e.cleaner.Clean(pages)

	byPage := make(map[int][]models.Segment)
	for _, p := range paras {
		byPage[p.Page] = append(byPage[p.Page], models.Segment{
			Type:         models.ChunkParagraph,
			Text:         p.Text,
			Page:         models.IntPtr(p.Page),
			SectionTitle: p.SectionTitle,
		})
	}

	var segs []models.Segment
	section := ""
	for i, res := range results {
		page := i + 1
		segs = append(segs, byPage[page]...)
		if n := len(byPage[page]); n > 0 {
			section = byPage[page][n-1].SectionTitle
		}
		if res.Parallel {
			segs = append(segs, parallelSegments(res.LeftLines, models.ChunkParallelLeft, page, section)...)
			segs = append(segs, parallelSegments(res.RightLines, models.ChunkParallelRight, page, section)...)
		}
		for t, table := range res.Tables {
			segs = append(segs, tableSegments(table, models.IntPtr(page), section, fmt.Sprintf("p%d-t%d", page, t+1))...)
		}
	}
	return segs
}

func parallelSegments(lines []string, typ models.ChunkType, page int, section string) []models.Segment {
	var segs []models.Segment
	for _, para := range splitParagraphs(lines) {
		segs = append(segs, models.Segment{Type: typ, Text: para, Page: models.IntPtr(page), SectionTitle: section})
	}
	return segs
}

// splitParagraphs joins lines into paragraphs at sentence-final lines.
func splitParagraphs(lines []string) []string {
	var out []string
	var cur []string
	for _, l := range lines {
		cur = append(cur, strings.TrimSpace(l))
		last, _ := utf8.DecodeLastRuneInString(l)
		if strings.ContainsRune(".!?。！？", last) {
			out = append(out, strings.Join(cur, " "))
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// pageBlocks merges the page's glyphs into runs and converts them to top-down layout
// blocks. Returns the page width.
func pageBlocks(page pdf.Page, pageNum int) (blocks []reflow.LayoutBlock, width float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page content: %v", r)
		}
	}()

	width, height := mediaBox(page)
	for _, run := range mergeRuns(page.Content().Text) {
		fs := run.FontSize
		if fs <= 0 {
			fs = 10
		}
		blocks = append(blocks, reflow.LayoutBlock{
			Page:     pageNum,
			Text:     run.S,
			X0:       run.X,
			X1:       run.X + run.W,
			Y0:       height - (run.Y + fs),
			Y1:       height - run.Y,
			FontSize: fs,
		})
	}
	return blocks, width, nil
}

// mediaBox returns the page size, looking through inherited attributes and falling
// back to US Letter.
func mediaBox(page pdf.Page) (float64, float64) {
	v := page.V
	for i := 0; i < 8 && !v.IsNull(); i++ {
		box := v.Key("MediaBox")
		if box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageWidth, defaultPageHeight
}

// mergeRuns joins glyphs that sit on the same baseline with a small gap. Missing widths
// are estimated from the font size.
func mergeRuns(texts []pdf.Text) []pdf.Text {
	var runs []pdf.Text
	for _, t := range texts {
		if t.S == "" || t.S == "\n" {
			continue
		}
		if t.W <= 0 {
			t.W = float64(utf8.RuneCountInString(t.S)) * max(t.FontSize, 1) * 0.5
		}
		if n := len(runs); n > 0 {
			cur := &runs[n-1]
			fs := max(cur.FontSize, 1)
			gap := t.X - (cur.X + cur.W)
			if math.Abs(t.Y-cur.Y) < fs*0.2 && gap > -fs && gap <= runJoinGap*fs {
				if gap > runSpaceGap*fs && !strings.HasSuffix(cur.S, " ") && !strings.HasPrefix(t.S, " ") {
					cur.S += " "
				}
				cur.S += t.S
				cur.W = max(cur.W, t.X+t.W-cur.X)
				continue
			}
		}
		runs = append(runs, t)
	}
	return runs
}
