package models

import "time"

// DedupMethod identifies the detector that produced a cluster.
type DedupMethod string

const (
	MethodExact        DedupMethod = "exact"
	MethodMinHash      DedupMethod = "minhash"
	MethodDocEmbedding DedupMethod = "doc_embedding"
	MethodHybrid       DedupMethod = "hybrid"
)

// DedupCluster is one connected component of duplicate documents under one method.
type DedupCluster struct {
	ID            int64                 `json:"id" db:"id"`
	Method        DedupMethod           `json:"method" db:"method"`
	PrimaryDocID  int64                 `json:"primary_doc_id" db:"primary_doc_id"`
	ManualPrimary bool                  `json:"manual_primary" db:"manual_primary"`
	ThresholdUsed string                `json:"threshold_used" db:"threshold_used"`
	Notes         string                `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at" db:"updated_at"`
	Members       []*DedupClusterMember `json:"members,omitempty" db:"-"`
}

// MemberIDs returns the doc ids of the cluster members.
func (c *DedupCluster) MemberIDs() []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.DocID)
	}
	return ids
}

// HasMember reports whether docID belongs to the cluster.
func (c *DedupCluster) HasMember(docID int64) bool {
	for _, m := range c.Members {
		if m.DocID == docID {
			return true
		}
	}
	return false
}

// DedupClusterMember links a document to a cluster.
type DedupClusterMember struct {
	ClusterID       int64   `json:"cluster_id" db:"cluster_id"`
	DocID           int64   `json:"doc_id" db:"doc_id"`
	SimilarityScore float64 `json:"similarity_score" db:"similarity_score"`
	IsPrimary       bool    `json:"is_primary" db:"is_primary"`
}

// Audit actions.
const (
	AuditSetPrimary  = "set_primary"
	AuditIgnore      = "ignore"
	AuditAutoPrimary = "auto_primary"
)

// DedupAuditLog is an append-only record of a primacy or ignore change.
type DedupAuditLog struct {
	ID            int64     `json:"id" db:"id"`
	ClusterID     *int64    `json:"cluster_id,omitempty" db:"cluster_id"`
	DocID         *int64    `json:"doc_id,omitempty" db:"doc_id"`
	Action        string    `json:"action" db:"action"`
	Actor         string    `json:"actor" db:"actor"`
	BeforePrimary *int64    `json:"before_primary,omitempty" db:"before_primary"`
	AfterPrimary  *int64    `json:"after_primary,omitempty" db:"after_primary"`
	Detail        string    `json:"detail,omitempty" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// DedupMembership is one cluster a document belongs to.
type DedupMembership struct {
	ClusterID    int64
	Method       DedupMethod
	PrimaryDocID int64
}

// ResolveDedup derives a document's dedup fields from all of its cluster memberships.
// A non-primary member of an exact cluster is exact_dup; otherwise a non-primary member
// of a near cluster is near_dup. A document that is primary everywhere is unique and
// points at its latest cluster. Ties go to the latest cluster.
func ResolveDedup(docID int64, memberships []DedupMembership) (DedupStatus, *int64, *int64) {
	var exact, near, latest *DedupMembership
	for i := range memberships {
		m := &memberships[i]
		if latest == nil || m.ClusterID > latest.ClusterID {
			latest = m
		}
		if m.PrimaryDocID == docID {
			continue
		}
		if m.Method == MethodExact {
			if exact == nil || m.ClusterID > exact.ClusterID {
				exact = m
			}
		} else if near == nil || m.ClusterID > near.ClusterID {
			near = m
		}
	}
	switch {
	case exact != nil:
		return DedupExactDup, &exact.PrimaryDocID, &exact.ClusterID
	case near != nil:
		return DedupNearDup, &near.PrimaryDocID, &near.ClusterID
	case latest != nil:
		self := docID
		return DedupUnique, &self, &latest.ClusterID
	}
	return DedupUnique, nil, nil
}
