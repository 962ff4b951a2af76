package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
)

const (
	defaultAuditLimit = 100
	defaultListLimit  = 50
	multipartMemory   = 32 << 20
	ocrHealthTimeout  = 3 * time.Second
)

type ingestPathRequest struct {
	Path string `json:"path" validate:"required"`
}

type setPrimaryRequest struct {
	DocID int64  `json:"doc_id" validate:"required,gt=0"`
	Actor string `json:"actor"`
}

type ignoreRequest struct {
	Actor string `json:"actor"`
}

type enqueueResponse struct {
	Document *models.Document `json:"document"`
	Queued   bool             `json:"queued"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	docs, err := s.storage.CountDocuments(r.Context())
	if err != nil {
		s.logger.Error("health: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	resp := map[string]any{
		"status":     "ok",
		"index_mode": s.indexMode(),
		"documents":  docs,
	}
	if s.ocr != nil {
		resp["ocr"] = s.ocrHealth(r.Context())
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// ocrHealth reports the OCR worker without failing the health check; OCR is optional.
func (s *Server) ocrHealth(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, ocrHealthTimeout)
	defer cancel()
	h, err := s.ocr.Health(ctx)
	if err != nil {
		s.logger.Warn("health: OCR worker unavailable", zap.Error(err))
		return map[string]any{"status": "unavailable", "error": err.Error()}
	}
	return map[string]any{"status": h.Status, "engines": h.Engines}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byStatus, err := s.storage.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("status: count by status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"documents":  docCount,
		"chunks":     chunkCount,
		"by_status":  byStatus,
		"index_mode": s.indexMode(),
	}
	if n, err := s.index.Count(ctx); err == nil {
		resp["indexed_chunks"] = n
	} else {
		s.logger.Warn("status: index count failed", zap.Error(err))
	}
	resp["config"] = map[string]any{
		"embedding_provider":   s.config.Embedding.Provider,
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"index_backend":        s.config.Index.Backend,
		"dedup_mode":           s.config.Dedup.Mode,
		"dedup_index_policy":   s.config.Dedup.IndexPolicy,
		"dedup_method":         s.config.Dedup.Method,
	}
	if usage, err := storage.MeasureUsage(s.config.Storage.DatabasePath, s.config.Storage.UploadDir); err == nil {
		resp["disk_usage_bytes"] = usage.Total()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if limit := s.config.Server.MaxUploadSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !indexer.ExtensionAllowed(filepath.Ext(filename), s.config.Watch.Extensions) {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", filepath.Ext(filename)))
		return
	}
	if err := os.MkdirAll(s.config.Storage.UploadDir, 0755); err != nil {
		s.logger.Error("create upload dir failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	dest := filepath.Join(s.config.Storage.UploadDir, uuid.New().String()+"_"+filename)
	if err := saveUpload(dest, file); err != nil {
		s.logger.Error("save upload failed", zap.String("path", dest), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	s.logger.Debug("upload stored", zap.String("filename", filename), zap.String("path", dest))
	s.registerAndEnqueue(w, r, &models.DocumentInput{Filename: filename, FilePath: dest})
}

func saveUpload(dest string, src io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

func (s *Server) handleIngestPath(w http.ResponseWriter, r *http.Request) {
	var req ingestPathRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.registerAndEnqueue(w, r, &models.DocumentInput{FilePath: req.Path})
}

func (s *Server) registerAndEnqueue(w http.ResponseWriter, r *http.Request, input *models.DocumentInput) {
	doc, err := s.pipeline.Register(r.Context(), input)
	if err != nil {
		s.logger.Warn("register document failed", zap.String("path", input.FilePath), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.TryEnqueue(doc.ID); err != nil {
		s.logger.Warn("enqueue failed", zap.Int64("doc_id", doc.ID), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{Document: doc, Queued: true})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, statusFor(err), "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.storage.GetDocument(r.Context(), id); err != nil {
		s.respondError(w, statusFor(err), "document not found")
		return
	}
	chunks, err := s.storage.GetChunksByDocumentID(r.Context(), id)
	if err != nil {
		s.logger.Error("list chunks failed", zap.Int64("doc_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chunks == nil {
		chunks = []*models.ChunkRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"doc_id": id, "chunks": chunks})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, statusFor(err), "document not found")
		return
	}
	if doc.Status == models.StatusProcessing {
		s.respondError(w, http.StatusConflict, "document is being processed")
		return
	}
	doc.Status = models.StatusPending
	doc.Attempts = 0
	doc.LastError = ""
	if err := s.storage.UpdateDocument(r.Context(), doc); err != nil {
		s.logger.Error("reset document failed", zap.Int64("doc_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.queue.TryEnqueue(id); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("document requeued", zap.Int64("doc_id", id))
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{Document: doc, Queued: true})
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req ignoreRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	doc, err := s.dedup.SetDocumentIgnored(r.Context(), id, actorOrDefault(req.Actor))
	if err != nil {
		s.respondDedupError(w, "ignore document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, false)
}

func (s *Server) handleSearchChunks(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, true)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, chunkLevel bool) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	query.ChunkLevel = chunkLevel
	s.logger.Debug("search request",
		zap.String("query", query.Query),
		zap.Int("limit", query.Limit),
		zap.Bool("chunk_level", chunkLevel))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := s.page(w, r)
	if !ok {
		return
	}
	method := models.DedupMethod(r.URL.Query().Get("method"))
	clusters, err := s.dedup.ListClusters(r.Context(), method, offset, limit)
	if err != nil {
		s.respondDedupError(w, "list clusters", err)
		return
	}
	if clusters == nil {
		clusters = []*models.DedupCluster{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	cluster, err := s.dedup.GetCluster(r.Context(), id)
	if err != nil {
		s.respondDedupError(w, "get cluster", err)
		return
	}
	s.respondJSON(w, http.StatusOK, cluster)
}

func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req setPrimaryRequest
	if !s.decode(w, r, &req) {
		return
	}
	cluster, err := s.dedup.SetClusterPrimary(r.Context(), id, req.DocID, actorOrDefault(req.Actor))
	if err != nil {
		s.respondDedupError(w, "set primary", err)
		return
	}
	s.respondJSON(w, http.StatusOK, cluster)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var clusterID *int64
	if v := r.URL.Query().Get("cluster_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid cluster_id")
			return
		}
		clusterID = &n
	}
	logs, err := s.dedup.ListAuditLogs(r.Context(), clusterID, limit)
	if err != nil {
		s.respondDedupError(w, "list audit logs", err)
		return
	}
	if logs == nil {
		logs = []*models.DedupAuditLog{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"audit": logs})
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	report, err := s.dedup.Rescan(r.Context())
	if err != nil {
		s.respondDedupError(w, "rescan", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path" validate:"required"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	limit = defaultListLimit
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	return offset, limit, true
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return "api"
	}
	return actor
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dedup.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dedup.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrQueueFull), errors.Is(err, indexer.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondDedupError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
