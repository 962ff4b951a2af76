package indexer

import (
	"testing"

	"github.com/hyperjump/shiryo/internal/models"
)

func TestOrchestrator_Rebuild(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	done := f.register(t, writeFile(t, dir, "crane.txt", harbourText))
	if err := f.orch.Process(f.ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	f.register(t, writeFile(t, dir, "waiting.txt", "A pending document about lighthouse maintenance schedules."))

	// A fresh process starts with an empty memory index.
	if err := f.index.DeleteDocument(f.ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.index.Count(f.ctx); n != 0 {
		t.Fatalf("index should be empty, has %d chunks", n)
	}

	rebuilt, err := f.orch.Rebuild(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt != 1 {
		t.Errorf("rebuilt = %d, want 1", rebuilt)
	}
	hits, err := f.index.KeywordSearch(f.ctx, "crane", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Chunk.DocID != done.ID {
		t.Errorf("rebuilt index should find doc %d, got %+v", done.ID, hits)
	}
	lighthouse, _ := f.index.KeywordSearch(f.ctx, "lighthouse", 10)
	if len(lighthouse) != 0 {
		t.Error("pending documents must not be rebuilt")
	}
}

func TestOrchestrator_Resume(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	pending := f.register(t, writeFile(t, dir, "a.txt", harbourText))
	stuck := f.register(t, writeFile(t, dir, "b.txt", "Another harbour note about tug boats and pilots."))
	done := f.register(t, writeFile(t, dir, "c.txt", "Completed note about ferry timetables in winter."))
	if err := f.orch.Process(f.ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	stuck.Status = models.StatusProcessing
	if err := f.store.UpdateDocument(f.ctx, stuck); err != nil {
		t.Fatal(err)
	}

	ids, err := f.orch.Resume(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != pending.ID || ids[1] != stuck.ID {
		t.Fatalf("Resume() = %v, want [%d %d]", ids, pending.ID, stuck.ID)
	}
	if got := f.get(t, stuck.ID); got.Status != models.StatusPending {
		t.Errorf("interrupted document status = %s, want pending", got.Status)
	}
	if got := f.get(t, done.ID); got.Status != models.StatusCompleted {
		t.Errorf("completed document status changed to %s", got.Status)
	}
}
