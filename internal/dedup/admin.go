package dedup

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
)

// SetClusterPrimary makes docID the primary of a cluster. The choice is sticky:
// later automatic scans keep it while docID remains a member.
func (s *Service) SetClusterPrimary(ctx context.Context, clusterID, docID int64, actor string) (*models.DedupCluster, error) {
	s.mu.Lock()
	cluster, changed, err := s.setClusterPrimary(ctx, clusterID, docID, actor)
	hook := s.onChange
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(ctx, hook, changed, 0)
	return cluster, nil
}

func (s *Service) setClusterPrimary(ctx context.Context, clusterID, docID int64, actor string) (*models.DedupCluster, []int64, error) {
	cluster, err := s.store.GetCluster(ctx, clusterID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("cluster %d: %w", clusterID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	if !cluster.HasMember(docID) {
		return nil, nil, fmt.Errorf("document %d is not a member of cluster %d: %w", docID, clusterID, ErrInvalidArgument)
	}
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	if doc.DedupStatus == models.DedupIgnored {
		return nil, nil, fmt.Errorf("document %d is ignored: %w", docID, ErrInvalidArgument)
	}

	before := cluster.PrimaryDocID
	after := docID
	for _, m := range cluster.Members {
		m.IsPrimary = m.DocID == docID
	}
	cluster.PrimaryDocID = docID
	cluster.ManualPrimary = true
	ch := &storage.ClusterChange{
		Cluster: cluster,
		Members: cluster.Members,
		Refresh: cluster.MemberIDs(),
		Audit: []*models.DedupAuditLog{{
			DocID:         &after,
			Action:        models.AuditSetPrimary,
			Actor:         actor,
			BeforePrimary: &before,
			AfterPrimary:  &after,
		}},
	}
	changed, err := s.store.ApplyClusterChanges(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set primary: %w", err)
	}
	s.logger.Info("cluster primary set",
		zap.Int64("cluster_id", clusterID),
		zap.Int64("before", before),
		zap.Int64("after", after),
		zap.String("actor", actor))
	return cluster, changed, nil
}

// SetDocumentIgnored excludes a document from all dedup decisions. It leaves every
// cluster; clusters reduced below two members are dissolved and a cluster that lost
// its primary gets the lowest remaining id.
func (s *Service) SetDocumentIgnored(ctx context.Context, docID int64, actor string) (*models.Document, error) {
	s.mu.Lock()
	doc, changed, err := s.setDocumentIgnored(ctx, docID, actor)
	hook := s.onChange
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(ctx, hook, changed, 0)
	return doc, nil
}

func (s *Service) setDocumentIgnored(ctx context.Context, docID int64, actor string) (*models.Document, []int64, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("document %d: %w", docID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	clusters, err := s.store.ListClusters(ctx, "", 0, 0)
	if err != nil {
		return nil, nil, err
	}

	ignore := &storage.ClusterChange{
		Documents: []storage.DedupUpdate{{DocID: docID, Status: models.DedupIgnored}},
		Audit: []*models.DedupAuditLog{{
			DocID:  &docID,
			Action: models.AuditIgnore,
			Actor:  actor,
			Detail: fmt.Sprintf("previous status %s", doc.DedupStatus),
		}},
	}
	changes := []*storage.ClusterChange{ignore}
	for _, c := range clusters {
		if c.HasMember(docID) {
			changes = append(changes, withoutMember(c, docID, actor))
		}
	}
	changed, err := s.store.ApplyClusterChanges(ctx, changes...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to ignore document: %w", err)
	}
	s.logger.Info("document ignored for dedup", zap.Int64("doc_id", docID), zap.String("actor", actor))

	doc, err = s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	return doc, changed, nil
}

// withoutMember builds the change that removes docID from c. A cluster left with fewer
// than two members is dissolved; one that lost its primary promotes the lowest remaining id.
func withoutMember(c *models.DedupCluster, docID int64, actor string) *storage.ClusterChange {
	var remaining []*models.DedupClusterMember
	var ids []int64
	for _, m := range c.Members {
		if m.DocID != docID {
			remaining = append(remaining, m)
			ids = append(ids, m.DocID)
		}
	}

	if len(remaining) < 2 {
		return &storage.ClusterChange{Cluster: c, Delete: true, Refresh: ids}
	}
	if c.PrimaryDocID != docID {
		return &storage.ClusterChange{Cluster: c, Members: remaining, Refresh: ids}
	}

	newPrimary := slices.Min(ids)
	for _, m := range remaining {
		m.IsPrimary = m.DocID == newPrimary
	}
	before := c.PrimaryDocID
	c.PrimaryDocID = newPrimary
	c.ManualPrimary = false
	return &storage.ClusterChange{
		Cluster: c,
		Members: remaining,
		Refresh: ids,
		Audit: []*models.DedupAuditLog{{
			Action:        models.AuditAutoPrimary,
			Actor:         actor,
			BeforePrimary: &before,
			AfterPrimary:  &newPrimary,
			Detail:        fmt.Sprintf("primary %d ignored", docID),
		}},
	}
}

// GetCluster returns one cluster with members.
func (s *Service) GetCluster(ctx context.Context, id int64) (*models.DedupCluster, error) {
	c, err := s.store.GetCluster(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("cluster %d: %w", id, ErrNotFound)
	}
	return c, err
}

// ListClusters lists clusters, optionally filtered by method.
func (s *Service) ListClusters(ctx context.Context, method models.DedupMethod, offset, limit int) ([]*models.DedupCluster, error) {
	return s.store.ListClusters(ctx, method, offset, limit)
}

// ListAuditLogs lists audit entries newest first.
func (s *Service) ListAuditLogs(ctx context.Context, clusterID *int64, limit int) ([]*models.DedupAuditLog, error) {
	return s.store.ListAuditLogs(ctx, clusterID, limit)
}
