package dedup

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
)

func testDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		Mode:               string(ModeExactAndNear),
		IndexPolicy:        string(PolicyIndexPrimaryPrefer),
		Method:             string(models.MethodMinHash),
		ShingleSize:        5,
		MinHashPerms:       64,
		MinHashBands:       8,
		MinHashThreshold:   0.93,
		EmbeddingDims:      256,
		SimHashBands:       8,
		EmbeddingThreshold: 0.95,
		PreferPenalty:      0.2,
	}
}

type fixture struct {
	ctx   context.Context
	store *storage.SQLiteStorage
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{
		ctx:   context.Background(),
		store: store,
		svc:   NewService(store, testDedupConfig(), opts...),
	}
}

// addDoc stores a completed document with the given text and hashes derived from it.
func (f *fixture) addDoc(t *testing.T, text, fileHash string) *models.Document {
	t.Helper()
	doc := &models.Document{Filename: "doc.pdf", FilePath: "/docs/doc.pdf"}
	require.NoError(t, f.store.CreateDocument(f.ctx, doc))
	doc.ContentText = text
	doc.Status = models.StatusCompleted
	doc.FileSHA256 = fileHash
	doc.NormalizedTextSHA256 = TextSHA256(text)
	require.NoError(t, f.store.UpdateDocument(f.ctx, doc))
	return doc
}

func (f *fixture) doc(t *testing.T, id int64) *models.Document {
	t.Helper()
	d, err := f.store.GetDocument(f.ctx, id)
	require.NoError(t, err)
	return d
}

func nearVariant(base string, at int) string {
	tokens := strings.Fields(base)
	tokens[at] = "variant"
	return strings.Join(tokens, " ")
}

func TestService_ExactDuplicates(t *testing.T) {
	var mu sync.Mutex
	var hooked []int64
	f := newFixture(t, WithChangeHook(func(_ context.Context, ids []int64) {
		mu.Lock()
		defer mu.Unlock()
		hooked = append(hooked, ids...)
	}))

	text := wordText("exact", 80)
	a := f.addDoc(t, text, "file-a")
	_, err := f.svc.Evaluate(f.ctx, a)
	require.NoError(t, err)

	b := f.addDoc(t, "  "+strings.ToUpper(text)+"\n\n3\n", "file-b")
	got, err := f.svc.Evaluate(f.ctx, b)
	require.NoError(t, err)

	assert.Equal(t, models.DedupExactDup, got.DedupStatus)
	require.NotNil(t, got.DedupPrimaryDocID)
	assert.Equal(t, a.ID, *got.DedupPrimaryDocID)
	assert.False(t, f.svc.ShouldIndex(got))

	primary := f.doc(t, a.ID)
	assert.Equal(t, models.DedupUnique, primary.DedupStatus)
	require.NotNil(t, primary.DedupClusterID)
	assert.Equal(t, *got.DedupClusterID, *primary.DedupClusterID)

	clusters, err := f.svc.ListClusters(f.ctx, models.MethodExact, 0, 0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []int64{a.ID, b.ID}, clusters[0].MemberIDs())

	mu.Lock()
	assert.Equal(t, []int64{a.ID}, hooked, "hook reports side-effect documents only")
	mu.Unlock()
}

func TestService_SameFileHash(t *testing.T) {
	f := newFixture(t)
	a := f.addDoc(t, "first rendering of the file", "same")
	b := f.addDoc(t, "a different extraction", "same")
	_, err := f.svc.Evaluate(f.ctx, a)
	require.NoError(t, err)
	got, err := f.svc.Evaluate(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.DedupExactDup, got.DedupStatus)
}

func TestService_NearDuplicatesAndManualPrimary(t *testing.T) {
	f := newFixture(t)
	base := wordText("near", 200)
	a := f.addDoc(t, base, "fa")
	b := f.addDoc(t, nearVariant(base, 190), "fb")
	c := f.addDoc(t, wordText("unrelated", 200), "fc")

	report, err := f.svc.Rescan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.MethodMinHash, report.Method)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 1, report.Clusters)

	clusters, err := f.svc.ListClusters(f.ctx, models.MethodMinHash, 0, 0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	cluster := clusters[0]
	assert.Equal(t, a.ID, cluster.PrimaryDocID)
	assert.False(t, cluster.ManualPrimary)
	assert.Equal(t, models.DedupNearDup, f.doc(t, b.ID).DedupStatus)
	assert.Equal(t, models.DedupUnique, f.doc(t, c.ID).DedupStatus)

	updated, err := f.svc.SetClusterPrimary(f.ctx, cluster.ID, b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, b.ID, updated.PrimaryDocID)
	assert.True(t, updated.ManualPrimary)
	assert.Equal(t, models.DedupUnique, f.doc(t, b.ID).DedupStatus)
	assert.Equal(t, models.DedupNearDup, f.doc(t, a.ID).DedupStatus)

	// A later automatic scan keeps the manual choice.
	_, err = f.svc.Rescan(f.ctx)
	require.NoError(t, err)
	again, err := f.svc.GetCluster(f.ctx, cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.PrimaryDocID)
	assert.True(t, again.ManualPrimary)

	logs, err := f.svc.ListAuditLogs(f.ctx, &cluster.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.AuditSetPrimary, logs[0].Action)
	assert.Equal(t, "alice", logs[0].Actor)
	assert.Equal(t, a.ID, *logs[0].BeforePrimary)
	assert.Equal(t, b.ID, *logs[0].AfterPrimary)
}

func TestService_SetClusterPrimaryErrors(t *testing.T) {
	f := newFixture(t)
	base := wordText("near", 200)
	f.addDoc(t, base, "fa")
	f.addDoc(t, nearVariant(base, 195), "fb")
	outsider := f.addDoc(t, wordText("other", 200), "fc")
	_, err := f.svc.Rescan(f.ctx)
	require.NoError(t, err)
	clusters, err := f.svc.ListClusters(f.ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	_, err = f.svc.SetClusterPrimary(f.ctx, 999, outsider.ID, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SetClusterPrimary(f.ctx, clusters[0].ID, outsider.ID, "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_IgnorePrimary(t *testing.T) {
	f := newFixture(t)
	text := wordText("triple", 60)
	var docs []*models.Document
	for _, h := range []string{"h1", "h2", "h3"} {
		d := f.addDoc(t, text, h)
		_, err := f.svc.Evaluate(f.ctx, d)
		require.NoError(t, err)
		docs = append(docs, d)
	}

	ignored, err := f.svc.SetDocumentIgnored(f.ctx, docs[0].ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.DedupIgnored, ignored.DedupStatus)
	assert.Nil(t, ignored.DedupClusterID)
	assert.False(t, f.svc.ShouldIndex(ignored))

	second := f.doc(t, docs[1].ID)
	assert.Equal(t, models.DedupUnique, second.DedupStatus)
	third := f.doc(t, docs[2].ID)
	assert.Equal(t, models.DedupExactDup, third.DedupStatus)
	assert.Equal(t, docs[1].ID, *third.DedupPrimaryDocID)

	// Dropping to a single member dissolves the cluster.
	_, err = f.svc.SetDocumentIgnored(f.ctx, docs[2].ID, "carol")
	require.NoError(t, err)
	clusters, err := f.svc.ListClusters(f.ctx, models.MethodExact, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, clusters)
	last := f.doc(t, docs[1].ID)
	assert.Equal(t, models.DedupUnique, last.DedupStatus)
	assert.Nil(t, last.DedupClusterID)

	_, err = f.svc.SetDocumentIgnored(f.ctx, 12345, "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ExactCopyOfNearDuplicateKeepsNearState(t *testing.T) {
	f := newFixture(t)
	f.svc.policy = PolicyIndexPrimaryOnly
	base := wordText("harbour", 300)
	first := f.addDoc(t, base, "f1")
	_, err := f.svc.Evaluate(f.ctx, first)
	require.NoError(t, err)

	variant := nearVariant(base, 150)
	second := f.addDoc(t, variant, "f2")
	got, err := f.svc.Evaluate(f.ctx, second)
	require.NoError(t, err)
	require.Equal(t, models.DedupNearDup, got.DedupStatus)
	require.Equal(t, first.ID, *got.DedupPrimaryDocID)
	require.False(t, f.svc.ShouldIndex(got))
	nearCluster := *got.DedupClusterID

	third := f.addDoc(t, variant, "f3")
	copied, err := f.svc.Evaluate(f.ctx, third)
	require.NoError(t, err)
	assert.Equal(t, models.DedupExactDup, copied.DedupStatus)
	assert.Equal(t, second.ID, *copied.DedupPrimaryDocID)

	after := f.doc(t, second.ID)
	assert.Equal(t, models.DedupNearDup, after.DedupStatus)
	require.NotNil(t, after.DedupPrimaryDocID)
	assert.Equal(t, first.ID, *after.DedupPrimaryDocID)
	assert.Equal(t, nearCluster, *after.DedupClusterID)
	assert.False(t, f.svc.ShouldIndex(after))

	exact, err := f.svc.ListClusters(f.ctx, models.MethodExact, 0, 0)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, second.ID, exact[0].PrimaryDocID)
}

func TestService_SetExactPrimaryKeepsNearState(t *testing.T) {
	f := newFixture(t)
	base := wordText("pier", 300)
	first := f.addDoc(t, base, "f1")
	_, err := f.svc.Evaluate(f.ctx, first)
	require.NoError(t, err)
	variant := nearVariant(base, 100)
	second := f.addDoc(t, variant, "f2")
	_, err = f.svc.Evaluate(f.ctx, second)
	require.NoError(t, err)
	third := f.addDoc(t, variant, "f3")
	_, err = f.svc.Evaluate(f.ctx, third)
	require.NoError(t, err)

	exact, err := f.svc.ListClusters(f.ctx, models.MethodExact, 0, 0)
	require.NoError(t, err)
	require.Len(t, exact, 1)

	// Swap primacy inside the exact cluster and back again.
	_, err = f.svc.SetClusterPrimary(f.ctx, exact[0].ID, third.ID, "dana")
	require.NoError(t, err)
	assert.Equal(t, models.DedupExactDup, f.doc(t, second.ID).DedupStatus)
	assert.Equal(t, models.DedupUnique, f.doc(t, third.ID).DedupStatus)

	_, err = f.svc.SetClusterPrimary(f.ctx, exact[0].ID, second.ID, "dana")
	require.NoError(t, err)
	back := f.doc(t, second.ID)
	assert.Equal(t, models.DedupNearDup, back.DedupStatus)
	assert.Equal(t, first.ID, *back.DedupPrimaryDocID)
	assert.Equal(t, models.DedupExactDup, f.doc(t, third.ID).DedupStatus)
}

// failingStore rejects every cluster write and counts the attempts.
type failingStore struct {
	*storage.SQLiteStorage
	calls int
}

func (s *failingStore) ApplyClusterChanges(context.Context, ...*storage.ClusterChange) ([]int64, error) {
	s.calls++
	return nil, errors.New("disk full")
}

func TestService_IgnoreIsAtomic(t *testing.T) {
	f := newFixture(t)
	text := wordText("atomic", 60)
	var docs []*models.Document
	for _, h := range []string{"h1", "h2", "h3"} {
		d := f.addDoc(t, text, h)
		_, err := f.svc.Evaluate(f.ctx, d)
		require.NoError(t, err)
		docs = append(docs, d)
	}

	failing := &failingStore{SQLiteStorage: f.store}
	svc := NewService(failing, testDedupConfig())
	_, err := svc.SetDocumentIgnored(f.ctx, docs[0].ID, "erin")
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls, "cluster repairs and the ignore flag are written together")

	assert.Equal(t, models.DedupUnique, f.doc(t, docs[0].ID).DedupStatus)
	clusters, err := f.svc.ListClusters(f.ctx, models.MethodExact, 0, 0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 3)
	assert.Equal(t, docs[0].ID, clusters[0].PrimaryDocID)
	logs, err := f.svc.ListAuditLogs(f.ctx, nil, 10)
	require.NoError(t, err)
	for _, l := range logs {
		assert.NotEqual(t, models.AuditIgnore, l.Action)
	}
}

func TestService_ModeOff(t *testing.T) {
	f := newFixture(t)
	f.svc.mode = ModeOff
	text := wordText("off", 30)
	a := f.addDoc(t, text, "x")
	b := f.addDoc(t, text, "x")
	_, err := f.svc.Evaluate(f.ctx, a)
	require.NoError(t, err)
	got, err := f.svc.Evaluate(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.DedupUnique, got.DedupStatus)
}

func TestNewScheduler(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(f.svc, "@every 1h", nil)
	require.NoError(t, err)
	s.Start()
	s.Stop()

	_, err = NewScheduler(f.svc, "not a schedule", nil)
	assert.Error(t, err)
}
