// Package indexer runs the ingestion pipeline: extract, chunk, summarize, dedup,
// embed, persist and index, with retries and a bounded worker pool.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
)

const (
	defaultEmbedBatch = 32
	embedParallelism  = 4
	retryMarker       = "[PIPELINE RETRY %d/%d] %v"
)

// Extractor turns a file into segments. *extract.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, path string) (*extract.Result, error)
}

// Orchestrator drives one document at a time through the pipeline stages.
type Orchestrator struct {
	storage    storage.Storage
	extractor  Extractor
	chunker    *Chunker
	embedder   embedding.Embedder
	store      chunkstore.Store
	dedup      *dedup.Service
	config     config.PipelineConfig
	embedBatch int
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEmbedBatchSize sets how many chunks go into one embedding request.
func WithEmbedBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.embedBatch = n
		}
	}
}

// NewOrchestrator wires the pipeline. It registers itself as the dedup change hook
// so documents whose dedup state changes are reindexed.
func NewOrchestrator(
	store storage.Storage,
	extractor Extractor,
	embedder embedding.Embedder,
	index chunkstore.Store,
	dedupSvc *dedup.Service,
	cfg *config.Config,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		storage:    store,
		extractor:  extractor,
		chunker:    NewChunker(cfg.Chunking, embedder.Model()),
		embedder:   embedder,
		store:      index,
		dedup:      dedupSvc,
		config:     cfg.Pipeline,
		embedBatch: defaultEmbedBatch,
		logger:     zap.NewNop(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	dedupSvc.SetChangeHook(o.reindexChanged)
	return o
}

// Register creates a pending document for a local file, or resets the document
// already registered for the same path.
func (o *Orchestrator) Register(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	absPath, err := filepath.Abs(input.FilePath)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	filename := input.Filename
	if filename == "" {
		filename = filepath.Base(absPath)
	}

	// A file seen again (watcher write, repeated ingest) reuses its document.
	existing, err := o.storage.GetDocumentByPath(ctx, absPath)
	switch {
	case err == nil:
		existing.Filename = filename
		existing.Status = models.StatusPending
		existing.Attempts = 0
		existing.LastError = ""
		if err := o.storage.UpdateDocument(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to reset document: %w", err)
		}
		o.logger.Debug("document re-registered",
			zap.Int64("doc_id", existing.ID),
			zap.String("path", absPath))
		return existing, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup document: %w", err)
	}

	doc := &models.Document{
		Filename: filename,
		FilePath: absPath,
		Status:   models.StatusPending,
	}
	if err := o.storage.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	o.logger.Debug("document registered",
		zap.Int64("doc_id", doc.ID),
		zap.String("path", absPath))
	return doc, nil
}

// Process runs the pipeline for docID, retrying transient failures with linear
// backoff. Between attempts the content field carries a retry marker; after the
// final failure it carries the error.
func (o *Orchestrator) Process(ctx context.Context, docID int64) error {
	doc, err := o.storage.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %d: %w", docID, err)
	}
	runID := uuid.New().String()
	logger := o.logger.With(zap.Int64("doc_id", docID), zap.String("run_id", runID))
	maxAttempts := max(o.config.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		doc.Attempts = attempt
		err := o.attempt(ctx, doc, logger)
		if err == nil {
			metrics.PipelineAttemptsTotal.WithLabelValues("success").Inc()
			return nil
		}
		if !IsRetryable(err) || attempt >= maxAttempts {
			metrics.PipelineAttemptsTotal.WithLabelValues("failed").Inc()
			o.fail(ctx, doc, err, logger)
			return err
		}

		metrics.PipelineAttemptsTotal.WithLabelValues("retry").Inc()
		logger.Warn("pipeline attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
		doc.Status = models.StatusPending
		doc.ContentText = fmt.Sprintf(retryMarker, attempt, maxAttempts, err)
		doc.LastError = err.Error()
		if uerr := o.storage.UpdateDocument(ctx, doc); uerr != nil {
			logger.Error("failed to record retry", zap.Error(uerr))
		}
		if serr := o.sleep(ctx, time.Duration(attempt)*o.config.Backoff()); serr != nil {
			o.fail(ctx, doc, serr, logger)
			return serr
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, doc *models.Document, err error, logger *zap.Logger) {
	metrics.DocumentsProcessedTotal.WithLabelValues("failed").Inc()
	logger.Error("document processing failed", zap.Int("attempts", doc.Attempts), zap.Error(err))
	doc.Status = models.StatusFailed
	doc.ContentText = err.Error()
	doc.LastError = err.Error()
	// The caller's context may be done; the failure must still be recorded.
	if uerr := o.storage.UpdateDocument(context.WithoutCancel(ctx), doc); uerr != nil {
		logger.Error("failed to record failure", zap.Error(uerr))
	}
}

// attempt runs every stage once.
func (o *Orchestrator) attempt(ctx context.Context, doc *models.Document, logger *zap.Logger) error {
	doc.Status = models.StatusProcessing
	if err := o.storage.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	var res *extract.Result
	err := stage("extract", func() error {
		var err error
		res, err = o.extractor.Extract(ctx, doc.FilePath)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		if strings.TrimSpace(res.Text) == "" && len(res.Segments) == 0 {
			return ErrExtraction
		}
		return nil
	})
	if err != nil {
		return err
	}
	if res.OCRUsed {
		logger.Info("ocr text used", zap.String("reason", res.OCRReason))
	}

	var chunks []*models.ChunkRecord
	_ = stage("chunk", func() error {
		chunks = o.chunker.Chunk(res.Segments)
		return nil
	})
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	doc.AITitle, doc.AISummaryShort = Summarize(res.Segments, doc.Filename)
	doc.ContentText = res.Text
	doc.LastError = ""
	doc.NormalizedTextSHA256 = dedup.TextSHA256(res.Text)
	fileHash, err := dedup.FileSHA256(doc.FilePath)
	if err != nil {
		return fmt.Errorf("hash file: %w", err)
	}
	doc.FileSHA256 = fileHash
	if err := o.storage.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("save extracted text: %w", err)
	}
	if err := o.storage.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	err = stage("dedup", func() error {
		evaluated, err := o.dedup.Evaluate(ctx, doc)
		if err != nil {
			return err
		}
		evaluated.Attempts = doc.Attempts
		*doc = *evaluated
		return nil
	})
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}

	if !o.dedup.ShouldIndex(doc) {
		if err := o.store.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("remove from index: %w", err)
		}
		logger.Info("document not indexed by dedup policy",
			zap.String("dedup_status", string(doc.DedupStatus)))
		return o.complete(ctx, doc, "skipped")
	}

	if err := o.index(ctx, doc, chunks); err != nil {
		return err
	}
	logger.Info("document indexed",
		zap.Int("chunks", len(chunks)),
		zap.String("dedup_status", string(doc.DedupStatus)))
	return o.complete(ctx, doc, "indexed")
}

func (o *Orchestrator) complete(ctx context.Context, doc *models.Document, outcome string) error {
	doc.Status = models.StatusCompleted
	doc.LastError = ""
	if err := o.storage.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	metrics.DocumentsProcessedTotal.WithLabelValues(outcome).Inc()
	return nil
}

// index embeds the chunks and replaces the document's index entries.
func (o *Orchestrator) index(ctx context.Context, doc *models.Document, chunks []*models.ChunkRecord) error {
	var vectors [][]float32
	err := stage("embed", func() error {
		var err error
		vectors, err = o.embed(ctx, chunks)
		return err
	})
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	indexed := make([]*models.IndexedChunk, len(chunks))
	for i, c := range chunks {
		indexed[i] = models.NewIndexedChunk(doc, c, vectors[i])
	}
	err = stage("index", func() error {
		return o.store.Replace(ctx, doc.ID, indexed)
	})
	if err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// embed calls the embedder in batches, a few batches at a time.
func (o *Orchestrator) embed(ctx context.Context, chunks []*models.ChunkRecord) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	for start := 0; start < len(chunks); start += o.embedBatch {
		end := min(start+o.embedBatch, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			out, err := o.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(out), len(texts))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Reindex rebuilds the index entries of a completed document from its stored chunk
// records, or removes them when dedup policy now excludes it.
func (o *Orchestrator) Reindex(ctx context.Context, docID int64) error {
	doc, err := o.storage.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusCompleted {
		return nil
	}
	if !o.dedup.ShouldIndex(doc) {
		return o.store.DeleteDocument(ctx, docID)
	}
	chunks, err := o.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return o.store.DeleteDocument(ctx, docID)
	}
	return o.index(ctx, doc, chunks)
}

// reindexChanged is the dedup change hook.
func (o *Orchestrator) reindexChanged(ctx context.Context, docIDs []int64) {
	for _, id := range docIDs {
		if err := o.Reindex(ctx, id); err != nil {
			o.logger.Warn("reindex after dedup change failed",
				zap.Int64("doc_id", id),
				zap.Error(err))
		}
	}
}

// Delete removes a document's index entries and chunk records. The document row
// stays.
func (o *Orchestrator) Delete(ctx context.Context, docID int64) error {
	if err := o.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete from index: %w", err)
	}
	if err := o.storage.DeleteChunksByDocumentID(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// CollectFiles returns the regular files under path (or path itself) whose extension
// is in allowedExts. An empty allowedExts accepts every file.
func CollectFiles(path string, allowedExts []string) ([]string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("not a regular file: %s", absPath)
		}
		return []string{absPath}, nil
	}

	var files []string
	err = filepath.WalkDir(absPath, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !ExtensionAllowed(filepath.Ext(p), allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(p)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// ExtensionAllowed reports whether ext (with or without the dot) is in allowed,
// ignoring case. An empty allowed list accepts everything.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// stage times fn into the stage histogram.
func stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
