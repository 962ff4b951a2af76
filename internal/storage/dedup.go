package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
)

const clusterColumns = `id, method, primary_doc_id, manual_primary, threshold_used, notes, created_at, updated_at`

func scanCluster(row rowScanner) (*models.DedupCluster, error) {
	var c models.DedupCluster
	err := row.Scan(&c.ID, &c.Method, &c.PrimaryDocID, &c.ManualPrimary, &c.ThresholdUsed, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCluster returns a cluster with its members.
func (s *SQLiteStorage) GetCluster(ctx context.Context, id int64) (*models.DedupCluster, error) {
	c, err := scanCluster(s.db.QueryRowContext(ctx,
		`SELECT `+clusterColumns+` FROM dedup_clusters WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if c.Members, err = s.clusterMembers(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// ListClusters returns clusters with members, optionally filtered by method (empty means all).
func (s *SQLiteStorage) ListClusters(ctx context.Context, method models.DedupMethod, offset, limit int) ([]*models.DedupCluster, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clusterColumns+` FROM dedup_clusters
		 WHERE (? = '' OR method = ?) ORDER BY id LIMIT ? OFFSET ?`,
		method, method, limit, offset)
	if err != nil {
		return nil, err
	}
	var clusters []*models.DedupCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		clusters = append(clusters, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range clusters {
		if c.Members, err = s.clusterMembers(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return clusters, nil
}

func (s *SQLiteStorage) clusterMembers(ctx context.Context, clusterID int64) ([]*models.DedupClusterMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cluster_id, doc_id, similarity_score, is_primary
		 FROM dedup_cluster_members WHERE cluster_id = ? ORDER BY doc_id`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.DedupClusterMember
	for rows.Next() {
		var m models.DedupClusterMember
		if err := rows.Scan(&m.ClusterID, &m.DocID, &m.SimilarityScore, &m.IsPrimary); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// ApplyClusterChanges writes clusters, memberships, document dedup fields and audit
// entries in one transaction, then re-derives the dedup fields of every refreshed
// document. Returns the ids of documents whose dedup fields changed.
func (s *SQLiteStorage) ApplyClusterChanges(ctx context.Context, changes ...*ClusterChange) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	var changed, refresh []int64
	for _, ch := range changes {
		if err := applyChange(ctx, tx, ch, now); err != nil {
			return nil, err
		}
		for _, u := range ch.Documents {
			changed = append(changed, u.DocID)
		}
		refresh = append(refresh, ch.Refresh...)
	}

	seen := make(map[int64]bool, len(refresh))
	for _, id := range refresh {
		if seen[id] {
			continue
		}
		seen[id] = true
		ok, err := refreshDedupFields(ctx, tx, id, now)
		if err != nil {
			return nil, err
		}
		if ok {
			changed = append(changed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return changed, nil
}

func applyChange(ctx context.Context, tx *sql.Tx, ch *ClusterChange, now time.Time) error {
	var clusterID *int64
	if c := ch.Cluster; c != nil {
		switch {
		case ch.Delete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM dedup_cluster_members WHERE cluster_id = ?`, c.ID); err != nil {
				return fmt.Errorf("failed to delete members: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM dedup_clusters WHERE id = ?`, c.ID); err != nil {
				return fmt.Errorf("failed to delete cluster: %w", err)
			}
		case c.ID == 0:
			c.CreatedAt, c.UpdatedAt = now, now
			res, err := tx.ExecContext(ctx,
				`INSERT INTO dedup_clusters (method, primary_doc_id, manual_primary, threshold_used, notes, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.Method, c.PrimaryDocID, c.ManualPrimary, c.ThresholdUsed, c.Notes, c.CreatedAt, c.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert cluster: %w", err)
			}
			if c.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		default:
			c.UpdatedAt = now
			if _, err := tx.ExecContext(ctx,
				`UPDATE dedup_clusters SET method = ?, primary_doc_id = ?, manual_primary = ?,
				 threshold_used = ?, notes = ?, updated_at = ? WHERE id = ?`,
				c.Method, c.PrimaryDocID, c.ManualPrimary, c.ThresholdUsed, c.Notes, c.UpdatedAt, c.ID); err != nil {
				return fmt.Errorf("failed to update cluster: %w", err)
			}
		}

		if !ch.Delete {
			id := c.ID
			clusterID = &id
			if _, err := tx.ExecContext(ctx, `DELETE FROM dedup_cluster_members WHERE cluster_id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete members: %w", err)
			}
			for _, m := range ch.Members {
				m.ClusterID = id
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO dedup_cluster_members (cluster_id, doc_id, similarity_score, is_primary)
					 VALUES (?, ?, ?, ?)`,
					m.ClusterID, m.DocID, m.SimilarityScore, m.IsPrimary); err != nil {
					return fmt.Errorf("failed to insert member %d: %w", m.DocID, err)
				}
			}
			c.Members = ch.Members
		}
	}

	for _, u := range ch.Documents {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET dedup_status = ?, dedup_primary_doc_id = ?, dedup_cluster_id = NULL, updated_at = ?
			 WHERE id = ?`,
			u.Status, toNull(u.PrimaryDocID), now, u.DocID); err != nil {
			return fmt.Errorf("failed to update dedup fields of document %d: %w", u.DocID, err)
		}
	}

	for _, a := range ch.Audit {
		if a.ClusterID == nil && clusterID != nil {
			a.ClusterID = clusterID
		}
		a.CreatedAt = now
		res, err := tx.ExecContext(ctx,
			`INSERT INTO dedup_audit_logs (cluster_id, doc_id, action, actor, before_primary, after_primary, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			toNull(a.ClusterID), toNull(a.DocID), a.Action, a.Actor, toNull(a.BeforePrimary), toNull(a.AfterPrimary),
			a.Detail, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append audit log: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// refreshDedupFields recomputes one document's dedup fields from its memberships.
// Reports whether the stored fields changed.
func refreshDedupFields(ctx context.Context, tx *sql.Tx, docID int64, now time.Time) (bool, error) {
	var status models.DedupStatus
	var primary, cluster sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT dedup_status, dedup_primary_doc_id, dedup_cluster_id FROM documents WHERE id = ?`, docID).
		Scan(&status, &primary, &cluster)
	if errors.Is(err, sql.ErrNoRows) || status == models.DedupIgnored {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT c.id, c.method, c.primary_doc_id
		 FROM dedup_cluster_members m JOIN dedup_clusters c ON c.id = m.cluster_id
		 WHERE m.doc_id = ? ORDER BY c.id`, docID)
	if err != nil {
		return false, err
	}
	var memberships []models.DedupMembership
	for rows.Next() {
		var m models.DedupMembership
		if err := rows.Scan(&m.ClusterID, &m.Method, &m.PrimaryDocID); err != nil {
			rows.Close()
			return false, err
		}
		memberships = append(memberships, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	wantStatus, wantPrimary, wantCluster := models.ResolveDedup(docID, memberships)
	if wantStatus == status && sameNull(wantPrimary, primary) && sameNull(wantCluster, cluster) {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET dedup_status = ?, dedup_primary_doc_id = ?, dedup_cluster_id = ?, updated_at = ?
		 WHERE id = ?`,
		wantStatus, toNull(wantPrimary), toNull(wantCluster), now, docID); err != nil {
		return false, fmt.Errorf("failed to update dedup fields of document %d: %w", docID, err)
	}
	return true, nil
}

func sameNull(v *int64, n sql.NullInt64) bool {
	if v == nil {
		return !n.Valid
	}
	return n.Valid && n.Int64 == *v
}

// ListAuditLogs returns audit entries newest first, optionally for one cluster.
func (s *SQLiteStorage) ListAuditLogs(ctx context.Context, clusterID *int64, limit int) ([]*models.DedupAuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cluster_id, doc_id, action, actor, before_primary, after_primary, detail, created_at
		 FROM dedup_audit_logs WHERE (? IS NULL OR cluster_id = ?) ORDER BY id DESC LIMIT ?`,
		toNull(clusterID), toNull(clusterID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.DedupAuditLog
	for rows.Next() {
		var a models.DedupAuditLog
		var cluster, doc, before, after sql.NullInt64
		if err := rows.Scan(&a.ID, &cluster, &doc, &a.Action, &a.Actor, &before, &after, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ClusterID, a.DocID = fromNull(cluster), fromNull(doc)
		a.BeforePrimary, a.AfterPrimary = fromNull(before), fromNull(after)
		logs = append(logs, &a)
	}
	return logs, rows.Err()
}
