package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiryo/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content_text TEXT NOT NULL DEFAULT '',
		ai_title TEXT NOT NULL DEFAULT '',
		ai_summary_short TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		file_sha256 TEXT NOT NULL DEFAULT '',
		normalized_text_sha256 TEXT NOT NULL DEFAULT '',
		dedup_status TEXT NOT NULL DEFAULT 'unique',
		dedup_primary_doc_id INTEGER,
		dedup_cluster_id INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_file_sha ON documents(file_sha256);
	CREATE INDEX IF NOT EXISTS idx_documents_text_sha ON documents(normalized_text_sha256);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(file_path);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_type TEXT NOT NULL,
		content TEXT NOT NULL,
		raw_text TEXT NOT NULL DEFAULT '',
		page INTEGER,
		section_title TEXT NOT NULL DEFAULT '',
		quality_score REAL NOT NULL DEFAULT 0,
		schema_version TEXT NOT NULL DEFAULT '',
		embedding_model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_chunk ON document_chunks(doc_id, chunk_index);

	CREATE TABLE IF NOT EXISTS dedup_clusters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		method TEXT NOT NULL,
		primary_doc_id INTEGER NOT NULL,
		manual_primary INTEGER NOT NULL DEFAULT 0,
		threshold_used TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS dedup_cluster_members (
		cluster_id INTEGER NOT NULL,
		doc_id INTEGER NOT NULL,
		similarity_score REAL NOT NULL DEFAULT 0,
		is_primary INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (cluster_id, doc_id),
		FOREIGN KEY (cluster_id) REFERENCES dedup_clusters(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_members_doc ON dedup_cluster_members(doc_id);

	CREATE TABLE IF NOT EXISTS dedup_audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cluster_id INTEGER,
		doc_id INTEGER,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		before_primary INTEGER,
		after_primary INTEGER,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_cluster ON dedup_audit_logs(cluster_id);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, filename, file_path, content_text, ai_title, ai_summary_short, status,
	file_sha256, normalized_text_sha256, dedup_status, dedup_primary_doc_id, dedup_cluster_id,
	attempts, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var primary, cluster sql.NullInt64
	err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.ContentText, &doc.AITitle,
		&doc.AISummaryShort, &doc.Status, &doc.FileSHA256, &doc.NormalizedTextSHA256,
		&doc.DedupStatus, &primary, &cluster, &doc.Attempts, &doc.LastError, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.DedupPrimaryDocID = fromNull(primary)
	doc.DedupClusterID = fromNull(cluster)
	return &doc, nil
}

func fromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func toNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (s *SQLiteStorage) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CreateDocument inserts a document and sets its ID.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if doc.DedupStatus == "" {
		doc.DedupStatus = models.DedupUnique
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (filename, file_path, content_text, status, dedup_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Filename, doc.FilePath, doc.ContentText, doc.Status, doc.DedupStatus, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = id
	return nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocumentByPath returns the newest document registered for filePath.
func (s *SQLiteStorage) GetDocumentByPath(ctx context.Context, filePath string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE file_path = ? ORDER BY id DESC LIMIT 1`, filePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document at %s: %w", filePath, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument updates the pipeline-owned fields of an existing document.
func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET filename = ?, file_path = ?, content_text = ?, ai_title = ?,
		 ai_summary_short = ?, status = ?, file_sha256 = ?, normalized_text_sha256 = ?,
		 attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Filename, doc.FilePath, doc.ContentText, doc.AITitle, doc.AISummaryShort, doc.Status,
		doc.FileSHA256, doc.NormalizedTextSHA256, doc.Attempts, doc.LastError, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %d: %w", doc.ID, ErrNotFound)
	}
	return nil
}

// ListDocuments returns documents with offset and limit, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

// FindDocumentsByHash returns non-ignored documents sharing either hash. Empty hashes never match.
func (s *SQLiteStorage) FindDocumentsByHash(ctx context.Context, fileSHA256, textSHA256 string) ([]*models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE dedup_status != ?
		   AND ((? != '' AND file_sha256 = ?) OR (? != '' AND normalized_text_sha256 = ?))
		 ORDER BY id`,
		models.DedupIgnored, fileSHA256, fileSHA256, textSHA256, textSHA256)
}

// ListDedupCandidates returns completed, non-ignored documents with content, ordered by id.
func (s *SQLiteStorage) ListDedupCandidates(ctx context.Context) ([]*models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status = ? AND dedup_status != ? AND content_text != ''
		 ORDER BY id`,
		models.StatusCompleted, models.DedupIgnored)
}

// ReplaceChunks deletes a document's chunks and inserts the new set in one transaction.
// Chunk IDs are set from the inserted rows.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, docID int64, chunks []*models.ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (doc_id, chunk_index, chunk_type, content, raw_text, page,
		 section_title, quality_score, schema_version, embedding_model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		c.DocID = docID
		c.CreatedAt = now
		var page sql.NullInt64
		if c.Page != nil {
			page = sql.NullInt64{Int64: int64(*c.Page), Valid: true}
		}
		res, err := stmt.ExecContext(ctx, c.DocID, c.ChunkIndex, c.ChunkType, c.Content, c.RawText, page,
			c.SectionTitle, c.QualityScore, c.SchemaVersion, c.EmbeddingModel, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID int64) ([]*models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_id, chunk_index, chunk_type, content, raw_text, page, section_title,
		 quality_score, schema_version, embedding_model, created_at
		 FROM document_chunks WHERE doc_id = ? ORDER BY chunk_index`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.ChunkRecord
	for rows.Next() {
		var c models.ChunkRecord
		var page sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocID, &c.ChunkIndex, &c.ChunkType, &c.Content, &c.RawText, &page,
			&c.SectionTitle, &c.QualityScore, &c.SchemaVersion, &c.EmbeddingModel, &c.CreatedAt); err != nil {
			return nil, err
		}
		if page.Valid {
			c.Page = models.IntPtr(int(page.Int64))
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, docID)
	return err
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// CountByStatus returns document counts grouped by pipeline status.
func (s *SQLiteStorage) CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.DocumentStatus]int64)
	for rows.Next() {
		var status models.DocumentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
