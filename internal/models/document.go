// Package models defines core data structures for documents, chunks, dedup clusters, queries, and search results.
package models

import "time"

// DocumentStatus is the pipeline state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// DedupStatus is the duplicate-detection state of a document.
type DedupStatus string

const (
	DedupUnique   DedupStatus = "unique"
	DedupExactDup DedupStatus = "exact_dup"
	DedupNearDup  DedupStatus = "near_dup"
	// DedupIgnored is terminal; automated scans never change it.
	DedupIgnored DedupStatus = "ignored"
)

// Document represents an uploaded file and its pipeline and dedup state.
type Document struct {
	ID                   int64          `json:"id" db:"id"`
	Filename             string         `json:"filename" db:"filename"`
	FilePath             string         `json:"file_path" db:"file_path"`
	ContentText          string         `json:"content_text,omitempty" db:"content_text"`
	AITitle              string         `json:"ai_title,omitempty" db:"ai_title"`
	AISummaryShort       string         `json:"ai_summary_short,omitempty" db:"ai_summary_short"`
	Status               DocumentStatus `json:"status" db:"status"`
	FileSHA256           string         `json:"file_sha256,omitempty" db:"file_sha256"`
	NormalizedTextSHA256 string         `json:"normalized_text_sha256,omitempty" db:"normalized_text_sha256"`
	DedupStatus          DedupStatus    `json:"dedup_status" db:"dedup_status"`
	DedupPrimaryDocID    *int64         `json:"dedup_primary_doc_id,omitempty" db:"dedup_primary_doc_id"`
	DedupClusterID       *int64         `json:"dedup_cluster_id,omitempty" db:"dedup_cluster_id"`
	Attempts             int            `json:"attempts" db:"attempts"`
	LastError            string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// IsPrimary reports whether the document is its own dedup primary (or has none).
func (d *Document) IsPrimary() bool {
	return d.DedupPrimaryDocID == nil || *d.DedupPrimaryDocID == d.ID
}

// DocumentInput is the input for registering a new document.
type DocumentInput struct {
	Filename string `json:"filename" validate:"required"`
	FilePath string `json:"file_path" validate:"required"`
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
