package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiryo/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_DocumentCRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{Filename: "a.pdf", FilePath: "/tmp/a.pdf"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.ID == 0 {
		t.Fatal("ID should be assigned")
	}
	if doc.Status != models.StatusPending || doc.DedupStatus != models.DedupUnique {
		t.Errorf("defaults not applied: %+v", doc)
	}

	doc.ContentText = "hello"
	doc.Status = models.StatusCompleted
	doc.FileSHA256 = "f1"
	doc.NormalizedTextSHA256 = "t1"
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentText != "hello" || got.Status != models.StatusCompleted || got.FileSHA256 != "f1" {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetDocument(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing document: got %v, want ErrNotFound", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.StatusCompleted] != 1 {
		t.Errorf("completed count = %d", counts[models.StatusCompleted])
	}
}

func TestSQLiteStorage_GetDocumentByPath(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first := &models.Document{Filename: "a.pdf", FilePath: "/tmp/a.pdf"}
	second := &models.Document{Filename: "a.pdf", FilePath: "/tmp/a.pdf"}
	for _, d := range []*models.Document{first, second} {
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.GetDocumentByPath(ctx, "/tmp/a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID {
		t.Errorf("got id %d, want newest %d", got.ID, second.ID)
	}
	if _, err := store.GetDocumentByPath(ctx, "/tmp/b.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_FindDocumentsByHash(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	mk := func(file, text string) *models.Document {
		d := &models.Document{Filename: "x", FilePath: "/x"}
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
		d.FileSHA256, d.NormalizedTextSHA256 = file, text
		if err := store.UpdateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
		return d
	}
	a := mk("f1", "t1")
	b := mk("f2", "t1")
	mk("f3", "")
	mk("", "")

	got, err := store.FindDocumentsByHash(ctx, "f9", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Errorf("text hash match: got %d docs", len(got))
	}

	got, err = store.FindDocumentsByHash(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty hashes should never match, got %d", len(got))
	}
}

func TestSQLiteStorage_ReplaceChunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{Filename: "a.pdf", FilePath: "/a.pdf"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	first := []*models.ChunkRecord{
		{ChunkIndex: 0, ChunkType: models.ChunkParagraph, Content: "one", Page: models.IntPtr(1)},
		{ChunkIndex: 1, ChunkType: models.ChunkTableRaw, Content: "| a |"},
	}
	if err := store.ReplaceChunks(ctx, doc.ID, first); err != nil {
		t.Fatal(err)
	}
	if first[0].ID == 0 || first[1].ID == 0 {
		t.Error("chunk IDs should be set")
	}

	second := []*models.ChunkRecord{{ChunkIndex: 0, ChunkType: models.ChunkParagraph, Content: "replaced"}}
	if err := store.ReplaceChunks(ctx, doc.ID, second); err != nil {
		t.Fatal(err)
	}
	chunks, err := store.GetChunksByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Content != "replaced" {
		t.Fatalf("chunks after replace: %+v", chunks)
	}
	if chunks[0].Page != nil {
		t.Error("page should be nil when unset")
	}
	n, _ := store.CountChunks(ctx)
	if n != 1 {
		t.Errorf("CountChunks = %d, want 1", n)
	}
}

func createDocs(t *testing.T, store *SQLiteStorage, n int) []int64 {
	t.Helper()
	var ids []int64
	for i := 0; i < n; i++ {
		d := &models.Document{Filename: "d", FilePath: "/d"}
		if err := store.CreateDocument(context.Background(), d); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}
	return ids
}

func TestSQLiteStorage_ApplyClusterChanges(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ids := createDocs(t, store, 3)

	cluster := &models.DedupCluster{Method: models.MethodMinHash, PrimaryDocID: ids[0], ThresholdUsed: `{"threshold":0.93}`}
	primary := ids[0]
	ch := &ClusterChange{
		Cluster: cluster,
		Members: []*models.DedupClusterMember{
			{DocID: ids[0], SimilarityScore: 1, IsPrimary: true},
			{DocID: ids[1], SimilarityScore: 0.95},
		},
		Refresh: []int64{ids[0], ids[1]},
		Audit:   []*models.DedupAuditLog{{Action: models.AuditAutoPrimary, Actor: "system", AfterPrimary: &primary}},
	}
	changed, err := store.ApplyClusterChanges(ctx, ch)
	if err != nil {
		t.Fatal(err)
	}
	if cluster.ID == 0 {
		t.Fatal("cluster ID should be set")
	}
	if len(changed) != 2 {
		t.Errorf("changed = %v, want both members", changed)
	}

	got, err := store.GetCluster(ctx, cluster.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Members) != 2 || !got.Members[0].IsPrimary {
		t.Errorf("members: %+v", got.Members)
	}
	doc, _ := store.GetDocument(ctx, ids[1])
	if doc.DedupStatus != models.DedupNearDup || doc.DedupClusterID == nil || *doc.DedupClusterID != cluster.ID ||
		doc.DedupPrimaryDocID == nil || *doc.DedupPrimaryDocID != ids[0] {
		t.Errorf("derived dedup fields not applied: %+v", doc)
	}
	head, _ := store.GetDocument(ctx, ids[0])
	if head.DedupStatus != models.DedupUnique || head.DedupPrimaryDocID == nil || *head.DedupPrimaryDocID != ids[0] {
		t.Errorf("primary fields: %+v", head)
	}

	logs, err := store.ListAuditLogs(ctx, &cluster.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].ClusterID == nil || *logs[0].ClusterID != cluster.ID {
		t.Errorf("audit logs: %+v", logs)
	}

	// Unchanged fields are not reported again.
	changed, err = store.ApplyClusterChanges(ctx, &ClusterChange{Refresh: []int64{ids[0], ids[1]}})
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 0 {
		t.Errorf("changed = %v, want none", changed)
	}

	// Replace membership wholesale; the dropped member reverts to unique.
	ch2 := &ClusterChange{
		Cluster: got,
		Members: []*models.DedupClusterMember{
			{DocID: ids[0], IsPrimary: true},
			{DocID: ids[2]},
		},
		Refresh: ids,
	}
	if _, err := store.ApplyClusterChanges(ctx, ch2); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetCluster(ctx, cluster.ID)
	if len(got.Members) != 2 || got.Members[1].DocID != ids[2] {
		t.Errorf("membership not replaced: %+v", got.Members)
	}
	dropped, _ := store.GetDocument(ctx, ids[1])
	if dropped.DedupStatus != models.DedupUnique || dropped.DedupClusterID != nil || dropped.DedupPrimaryDocID != nil {
		t.Errorf("dropped member fields: %+v", dropped)
	}

	if _, err := store.ApplyClusterChanges(ctx, &ClusterChange{Cluster: got, Delete: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetCluster(ctx, cluster.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted cluster: got %v", err)
	}
}

func TestSQLiteStorage_ApplyClusterChangesKeepsMethodsApart(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ids := createDocs(t, store, 3)

	near := &models.DedupCluster{Method: models.MethodMinHash, PrimaryDocID: ids[0]}
	exact := &models.DedupCluster{Method: models.MethodExact, PrimaryDocID: ids[1]}
	_, err := store.ApplyClusterChanges(ctx,
		&ClusterChange{Cluster: near, Members: []*models.DedupClusterMember{
			{DocID: ids[0], IsPrimary: true}, {DocID: ids[1]},
		}},
		&ClusterChange{Cluster: exact, Members: []*models.DedupClusterMember{
			{DocID: ids[1], IsPrimary: true}, {DocID: ids[2]},
		}, Refresh: ids},
	)
	if err != nil {
		t.Fatal(err)
	}

	middle, _ := store.GetDocument(ctx, ids[1])
	if middle.DedupStatus != models.DedupNearDup || *middle.DedupPrimaryDocID != ids[0] || *middle.DedupClusterID != near.ID {
		t.Errorf("exact primacy must not clear near membership: %+v", middle)
	}
	copyDoc, _ := store.GetDocument(ctx, ids[2])
	if copyDoc.DedupStatus != models.DedupExactDup || *copyDoc.DedupPrimaryDocID != ids[1] {
		t.Errorf("exact member fields: %+v", copyDoc)
	}
}

func TestSQLiteStorage_ApplyClusterChangesIsAtomic(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ids := createDocs(t, store, 2)

	if _, err := store.db.ExecContext(ctx, `CREATE TRIGGER reject_ignore BEFORE INSERT ON dedup_audit_logs
		WHEN NEW.action = 'ignore' BEGIN SELECT RAISE(ABORT, 'audit rejected'); END`); err != nil {
		t.Fatal(err)
	}

	cluster := &models.DedupCluster{Method: models.MethodExact, PrimaryDocID: ids[0]}
	_, err := store.ApplyClusterChanges(ctx,
		&ClusterChange{Cluster: cluster, Members: []*models.DedupClusterMember{
			{DocID: ids[0], IsPrimary: true}, {DocID: ids[1]},
		}, Refresh: ids},
		&ClusterChange{
			Documents: []DedupUpdate{{DocID: ids[1], Status: models.DedupIgnored}},
			Audit:     []*models.DedupAuditLog{{DocID: &ids[1], Action: models.AuditIgnore, Actor: "test"}},
		},
	)
	if err == nil {
		t.Fatal("expected the audit trigger to fail the batch")
	}

	clusters, err := store.ListClusters(ctx, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 0 {
		t.Errorf("cluster from a failed batch was kept: %+v", clusters)
	}
	doc, _ := store.GetDocument(ctx, ids[1])
	if doc.DedupStatus != models.DedupUnique {
		t.Errorf("document status = %s, want unique after rollback", doc.DedupStatus)
	}
}
