// Package storage defines the persistence interface for documents, chunks and dedup clusters.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shiryo/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document, chunk and dedup persistence operations.
type Storage interface {
	// Document operations. UpdateDocument never touches dedup fields;
	// those change only through ApplyClusterChanges.
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, filePath string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	FindDocumentsByHash(ctx context.Context, fileSHA256, textSHA256 string) ([]*models.Document, error)
	ListDedupCandidates(ctx context.Context) ([]*models.Document, error)

	// Chunk operations
	ReplaceChunks(ctx context.Context, docID int64, chunks []*models.ChunkRecord) error
	GetChunksByDocumentID(ctx context.Context, docID int64) ([]*models.ChunkRecord, error)
	DeleteChunksByDocumentID(ctx context.Context, docID int64) error

	// Dedup operations
	GetCluster(ctx context.Context, id int64) (*models.DedupCluster, error)
	ListClusters(ctx context.Context, method models.DedupMethod, offset, limit int) ([]*models.DedupCluster, error)
	ApplyClusterChanges(ctx context.Context, changes ...*ClusterChange) ([]int64, error)
	ListAuditLogs(ctx context.Context, clusterID *int64, limit int) ([]*models.DedupAuditLog, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error)

	Close() error
}

// DedupUpdate sets the dedup fields of one document directly and clears its cluster id.
// Used for the terminal ignored state; cluster-derived fields go through Refresh.
type DedupUpdate struct {
	DocID        int64
	Status       models.DedupStatus
	PrimaryDocID *int64
}

// ClusterChange is one cluster write. ApplyClusterChanges lands a batch of them in a
// single transaction.
type ClusterChange struct {
	// Cluster is inserted when its ID is zero, updated otherwise. Nil for document-only changes.
	Cluster *models.DedupCluster
	// Delete removes Cluster and its members instead of saving them.
	Delete bool
	// Members replaces the cluster membership wholesale.
	Members   []*models.DedupClusterMember
	Documents []DedupUpdate
	Audit     []*models.DedupAuditLog
	// Refresh lists documents whose dedup fields are re-derived from their memberships
	// once every change in the batch is written. Ignored documents are left alone.
	Refresh []int64
}
