package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
)

var (
	// ErrInvalidArgument is returned for admin requests that cannot be applied.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a cluster or document does not exist.
	ErrNotFound = errors.New("not found")
)

// SystemActor is recorded in audit entries written by automated scans.
const SystemActor = "system"

// ChangeHook is called after a write with the ids of documents whose dedup fields changed.
type ChangeHook func(ctx context.Context, docIDs []int64)

// Service owns cluster state. All mutations are serialized.
type Service struct {
	store    storage.Storage
	detector Detector
	mode     Mode
	policy   IndexPolicy
	penalty  float64
	logger   *zap.Logger
	onChange ChangeHook
	mu       sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChangeHook registers a callback for documents changed as a side effect of a write.
func WithChangeHook(h ChangeHook) Option {
	return func(s *Service) { s.onChange = h }
}

// WithDetector overrides the near-duplicate detector built from config.
func WithDetector(d Detector) Option {
	return func(s *Service) { s.detector = d }
}

// NewService creates the dedup service.
func NewService(store storage.Storage, cfg config.DedupConfig, opts ...Option) *Service {
	s := &Service{
		store: store,
		detector: NewDetector(cfg.Method, cfg.ShingleSize, cfg.MinHashPerms, cfg.MinHashBands,
			cfg.MinHashThreshold, cfg.EmbeddingDims, cfg.SimHashBands, cfg.EmbeddingThreshold),
		mode:    Mode(cfg.Mode),
		policy:  IndexPolicy(cfg.IndexPolicy),
		penalty: cfg.PreferPenalty,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetChangeHook replaces the change callback. Used when the hook's owner is built after the service.
func (s *Service) SetChangeHook(h ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = h
}

// Mode returns the configured dedup mode.
func (s *Service) Mode() Mode { return s.mode }

// Policy returns the configured index policy.
func (s *Service) Policy() IndexPolicy { return s.policy }

// Penalty returns the multiplicative score penalty fraction for penalized documents.
func (s *Service) Penalty() float64 { return s.penalty }

// ShouldIndex applies the configured policy to a document.
func (s *Service) ShouldIndex(doc *models.Document) bool {
	return ShouldIndexDocument(SubjectOf(doc), s.mode, s.policy)
}

// ScanReport summarizes one detection pass.
type ScanReport struct {
	Method     models.DedupMethod `json:"method"`
	Candidates int                `json:"candidates"`
	Pairs      int                `json:"pairs"`
	Clusters   int                `json:"clusters"`
	Changed    []int64            `json:"changed"`
}

// Evaluate runs exact detection for doc and, in exact_and_near mode, a near-duplicate
// pass that includes doc even though it is still processing. Returns the reloaded document.
func (s *Service) Evaluate(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if s.mode == ModeOff {
		return doc, nil
	}

	s.mu.Lock()
	changed, err := s.applyExact(ctx, doc)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("exact dedup: %w", err)
	}

	current, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if s.mode == ModeExactAndNear && current.DedupStatus != models.DedupExactDup && current.DedupStatus != models.DedupIgnored {
		report, err := s.scanNear(ctx, current)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("near dedup: %w", err)
		}
		changed = append(changed, report.Changed...)
		if current, err = s.store.GetDocument(ctx, doc.ID); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	hook := s.onChange
	s.mu.Unlock()

	s.notify(ctx, hook, changed, doc.ID)
	return current, nil
}

// Rescan runs a corpus-wide near-duplicate pass.
func (s *Service) Rescan(ctx context.Context) (*ScanReport, error) {
	if s.mode != ModeExactAndNear {
		return &ScanReport{Method: s.detector.Method()}, nil
	}
	s.mu.Lock()
	report, err := s.scanNear(ctx, nil)
	hook := s.onChange
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(ctx, hook, report.Changed, 0)
	return report, nil
}

func (s *Service) notify(ctx context.Context, hook ChangeHook, ids []int64, skip int64) {
	if hook == nil {
		return
	}
	seen := make(map[int64]bool)
	var out []int64
	for _, id := range ids {
		if id == skip || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) > 0 {
		hook(ctx, out)
	}
}

// applyExact groups doc with every non-ignored document sharing a file or text hash,
// plus the members of exact clusters those documents already belong to.
func (s *Service) applyExact(ctx context.Context, doc *models.Document) ([]int64, error) {
	if doc.DedupStatus == models.DedupIgnored {
		return nil, nil
	}
	scope := map[int64]*models.Document{doc.ID: doc}
	matches, err := s.store.FindDocumentsByHash(ctx, doc.FileSHA256, doc.NormalizedTextSHA256)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.ID != doc.ID {
			scope[m.ID] = m
		}
	}

	existing, err := s.store.ListClusters(ctx, models.MethodExact, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if !intersects(c, scope) {
			continue
		}
		for _, id := range c.MemberIDs() {
			if _, ok := scope[id]; ok {
				continue
			}
			m, err := s.store.GetDocument(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if m.DedupStatus != models.DedupIgnored {
				scope[id] = m
			}
		}
	}

	uf := NewUnionFind()
	byFile := make(map[string]int64)
	byText := make(map[string]int64)
	for _, id := range sortedIDs(scope) {
		d := scope[id]
		uf.Add(id)
		if d.FileSHA256 != "" {
			if first, ok := byFile[d.FileSHA256]; ok {
				uf.Union(first, id)
			} else {
				byFile[d.FileSHA256] = id
			}
		}
		if d.NormalizedTextSHA256 != "" {
			if first, ok := byText[d.NormalizedTextSHA256]; ok {
				uf.Union(first, id)
			} else {
				byText[d.NormalizedTextSHA256] = id
			}
		}
	}
	var comps []Component
	for _, g := range uf.Components(2) {
		c := Component{Members: g, Scores: make(map[int64]float64, len(g))}
		for _, id := range g {
			c.Scores[id] = 1
		}
		comps = append(comps, c)
	}

	params, _ := json.Marshal(map[string]any{"file_sha256": true, "normalized_text_sha256": true})
	return s.reconcile(ctx, models.MethodExact, string(params), comps, scope, existing)
}

// scanNear runs the configured detector over completed, non-ignored, non-exact-duplicate
// documents, plus extra when it is still processing.
func (s *Service) scanNear(ctx context.Context, extra *models.Document) (*ScanReport, error) {
	docs, err := s.store.ListDedupCandidates(ctx)
	if err != nil {
		return nil, err
	}
	scope := make(map[int64]*models.Document, len(docs)+1)
	for _, d := range docs {
		if d.DedupStatus != models.DedupExactDup {
			scope[d.ID] = d
		}
	}
	if extra != nil && extra.DedupStatus != models.DedupExactDup && extra.DedupStatus != models.DedupIgnored {
		scope[extra.ID] = extra
	}

	items := make([]Item, 0, len(scope))
	for _, id := range sortedIDs(scope) {
		if text := NormalizeTextForHash(scope[id].ContentText); text != "" {
			items = append(items, Item{ID: id, Text: text})
		}
	}

	pairs := s.detector.Pairs(items)
	comps := BuildComponents(pairs)

	method := s.detector.Method()
	existing, err := s.store.ListClusters(ctx, method, 0, 0)
	if err != nil {
		return nil, err
	}
	params, _ := json.Marshal(s.detector.Params())
	changed, err := s.reconcile(ctx, method, string(params), comps, scope, existing)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("near-duplicate scan finished",
		zap.String("method", string(method)),
		zap.Int("candidates", len(items)),
		zap.Int("pairs", len(pairs)),
		zap.Int("clusters", len(comps)),
		zap.Int("changed", len(changed)))

	return &ScanReport{
		Method:     method,
		Candidates: len(items),
		Pairs:      len(pairs),
		Clusters:   len(comps),
		Changed:    changed,
	}, nil
}

// reconcile maps freshly computed components onto existing clusters of the same method.
// Each component reuses the unclaimed cluster it overlaps most; a sticky manual primary
// survives when still a member. Clusters in scope that match no component are deleted.
// All writes land in one transaction and the dedup fields of every affected document
// are re-derived from its memberships across methods.
func (s *Service) reconcile(ctx context.Context, method models.DedupMethod, params string,
	comps []Component, scope map[int64]*models.Document, existing []*models.DedupCluster) ([]int64, error) {

	var changes []*storage.ClusterChange
	claimed := make(map[int64]bool)

	for _, comp := range comps {
		cluster := bestOverlap(comp, existing, claimed)
		var before *int64
		if cluster != nil {
			claimed[cluster.ID] = true
			p := cluster.PrimaryDocID
			before = &p
		} else {
			cluster = &models.DedupCluster{Method: method}
		}

		primary := comp.DefaultPrimary()
		manual := false
		if cluster.ManualPrimary && comp.Contains(cluster.PrimaryDocID) {
			primary = cluster.PrimaryDocID
			manual = true
		}

		refresh := append([]int64(nil), comp.Members...)
		if cluster.ID != 0 {
			refresh = append(refresh, cluster.MemberIDs()...)
		}
		sameMembers := cluster.ID != 0 && sameIDs(cluster.MemberIDs(), comp.Members)
		primaryChanged := before == nil || *before != primary
		if sameMembers && !primaryChanged {
			continue
		}

		members := make([]*models.DedupClusterMember, 0, len(comp.Members))
		for _, id := range comp.Members {
			members = append(members, &models.DedupClusterMember{
				DocID:           id,
				SimilarityScore: comp.Scores[id],
				IsPrimary:       id == primary,
			})
		}

		cluster.PrimaryDocID = primary
		cluster.ManualPrimary = manual
		cluster.ThresholdUsed = params
		ch := &storage.ClusterChange{Cluster: cluster, Members: members, Refresh: refresh}
		if primaryChanged {
			p := primary
			ch.Audit = append(ch.Audit, &models.DedupAuditLog{
				Action:        models.AuditAutoPrimary,
				Actor:         SystemActor,
				BeforePrimary: before,
				AfterPrimary:  &p,
				Detail:        fmt.Sprintf("%s cluster of %d documents", method, len(comp.Members)),
			})
		}
		changes = append(changes, ch)
	}

	for _, c := range existing {
		if claimed[c.ID] || !intersects(c, scope) {
			continue
		}
		changes = append(changes, &storage.ClusterChange{Cluster: c, Delete: true, Refresh: c.MemberIDs()})
	}

	if len(changes) == 0 {
		return nil, nil
	}
	changed, err := s.store.ApplyClusterChanges(ctx, changes...)
	if err != nil {
		return nil, fmt.Errorf("failed to save %s clusters: %w", method, err)
	}
	metrics.DedupClustersChangedTotal.WithLabelValues(string(method)).Add(float64(len(changes)))
	return changed, nil
}

func bestOverlap(comp Component, existing []*models.DedupCluster, claimed map[int64]bool) *models.DedupCluster {
	var best *models.DedupCluster
	bestN := 0
	for _, c := range existing {
		if claimed[c.ID] {
			continue
		}
		n := 0
		for _, id := range c.MemberIDs() {
			if comp.Contains(id) {
				n++
			}
		}
		if n > bestN || (n == bestN && n > 0 && c.ID < best.ID) {
			best, bestN = c, n
		}
	}
	return best
}

func intersects(c *models.DedupCluster, scope map[int64]*models.Document) bool {
	for _, id := range c.MemberIDs() {
		if _, ok := scope[id]; ok {
			return true
		}
	}
	return false
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]int64(nil), a...)
	y := append([]int64(nil), b...)
	sort.Slice(x, func(i, j int) bool { return x[i] < x[j] })
	sort.Slice(y, func(i, j int) bool { return y[i] < y[j] })
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func sortedIDs(m map[int64]*models.Document) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
