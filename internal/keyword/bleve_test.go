package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiryo/internal/models"
)

func chunk(docID, chunkID int64, filename, content string) *models.IndexedChunk {
	return &models.IndexedChunk{
		ChunkRecord: models.ChunkRecord{ID: chunkID, DocID: docID, ChunkType: models.ChunkParagraph, Content: content},
		Filename:    filename,
	}
}

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	c := chunk(1, 10, "monthly_report.pdf", "This report mentions Omnisyan and other findings. The Bayes app is also referenced.")
	if err := idx.Index(ctx, []*models.IndexedChunk{c}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "Omnisyan", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Key != "1:10" {
		t.Fatalf("results = %+v, want key 1:10 first", results)
	}

	// Standard analyzer (no stemming) so "bayes" matches "Bayes".
	results, err = idx.Search(ctx, "bayes", 10)
	if err != nil {
		t.Fatalf("Search bayes: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a result for \"bayes\"")
	}
}

func TestBleveIndex_FilenameOutranksContent(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	chunks := []*models.IndexedChunk{
		chunk(1, 1, "notes.txt", "The budget of the quarterly review is discussed in passing."),
		chunk(2, 2, "quarterly_budget_2024.xlsx", "Totals by department."),
	}
	if err := idx.Index(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "quarterly budget", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Key != "2:2" {
		t.Errorf("filename match should rank first, got %s", results[0].Key)
	}
}

func TestBleveIndex_PartialMatchesRankLower(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	chunks := []*models.IndexedChunk{
		chunk(1, 1, "a.txt", "apple apple apple apple"),
		chunk(2, 2, "b.txt", "apple banana"),
	}
	if err := idx.Index(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "apple banana", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Key != "2:2" {
		t.Errorf("chunk matching both terms should rank first: %+v", results)
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, []*models.IndexedChunk{chunk(1, 1, "a.txt", "unique zebra text")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, []string{"1:1"}); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "zebra", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("deleted chunk still found: %+v", results)
	}
	n, _ := idx.DocCount()
	if n != 0 {
		t.Errorf("DocCount = %d", n)
	}
}

func TestBleveIndex_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(context.Background(), []*models.IndexedChunk{chunk(3, 7, "x.txt", "persisted words")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	n, _ := reopened.DocCount()
	if n != 1 {
		t.Errorf("DocCount after reopen = %d, want 1", n)
	}
}

func TestNormalizeFilename(t *testing.T) {
	if got := NormalizeFilename("company_profile-2021.pdf"); got != "company profile 2021 pdf" {
		t.Errorf("got %q", got)
	}
}

func TestSearch_emptyQuery(t *testing.T) {
	idx := newMemIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10)
	if err != nil || results != nil {
		t.Errorf("empty query: %v %v", results, err)
	}
}
