package models

import (
	"fmt"
	"time"
)

// ChunkType classifies the origin of a segment or chunk.
type ChunkType string

const (
	ChunkParagraph        ChunkType = "paragraph"
	ChunkTableRaw         ChunkType = "table_raw"
	ChunkTableRowSentence ChunkType = "table_row_sentence"
	ChunkParallelLeft     ChunkType = "parallel_columns_left"
	ChunkParallelRight    ChunkType = "parallel_columns_right"
)

// IsTable reports whether the type is emitted without sentence splitting.
func (t ChunkType) IsTable() bool {
	return t == ChunkTableRaw || t == ChunkTableRowSentence
}

// Segment is one unit of extracted text handed to the chunker.
type Segment struct {
	Type         ChunkType `json:"type"`
	Text         string    `json:"text"`
	Page         *int      `json:"page,omitempty"`
	SectionTitle string    `json:"section_title,omitempty"`
	// TableID groups row sentences of the same source table.
	TableID string `json:"table_id,omitempty"`
}

// ChunkRecord is a persisted chunk of a document.
type ChunkRecord struct {
	ID             int64     `json:"id" db:"id"`
	DocID          int64     `json:"doc_id" db:"doc_id"`
	ChunkIndex     int       `json:"chunk_index" db:"chunk_index"`
	ChunkType      ChunkType `json:"chunk_type" db:"chunk_type"`
	Content        string    `json:"content" db:"content"`
	RawText        string    `json:"raw_text,omitempty" db:"raw_text"`
	Page           *int      `json:"page,omitempty" db:"page"`
	SectionTitle   string    `json:"section_title,omitempty" db:"section_title"`
	QualityScore   float64   `json:"quality_score" db:"quality_score"`
	SchemaVersion  string    `json:"schema_version" db:"schema_version"`
	EmbeddingModel string    `json:"embedding_model" db:"embedding_model"`
	TableID        string    `json:"-" db:"-"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IndexedChunk is a chunk as stored in the hybrid index.
type IndexedChunk struct {
	ChunkRecord
	Embedding         []float32   `json:"-"`
	DedupStatus       DedupStatus `json:"dedup_status"`
	DedupPrimaryDocID *int64      `json:"dedup_primary_doc_id,omitempty"`
	DedupClusterID    *int64      `json:"dedup_cluster_id,omitempty"`
	DedupIsPrimary    bool        `json:"dedup_is_primary"`
	Filename          string      `json:"filename"`
	Title             string      `json:"title,omitempty"`
	Summary           string      `json:"summary,omitempty"`
}

// Key returns the index key "{doc_id}:{chunk_id}".
func (c *IndexedChunk) Key() string {
	return ChunkKey(c.DocID, c.ID)
}

// ChunkKey formats an index key.
func ChunkKey(docID, chunkID int64) string {
	return fmt.Sprintf("%d:%d", docID, chunkID)
}

// NewIndexedChunk copies the record and mirrors the document's dedup and ranking fields.
func NewIndexedChunk(doc *Document, rec *ChunkRecord, embedding []float32) *IndexedChunk {
	return &IndexedChunk{
		ChunkRecord:       *rec,
		Embedding:         embedding,
		DedupStatus:       doc.DedupStatus,
		DedupPrimaryDocID: doc.DedupPrimaryDocID,
		DedupClusterID:    doc.DedupClusterID,
		DedupIsPrimary:    doc.IsPrimary(),
		Filename:          doc.Filename,
		Title:             doc.AITitle,
		Summary:           doc.AISummaryShort,
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
