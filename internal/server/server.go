// Package server provides the HTTP API for shiryo.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/ocr"
	"github.com/hyperjump/shiryo/internal/search"
	"github.com/hyperjump/shiryo/internal/storage"
)

// Queue accepts documents for background processing. *indexer.Pool implements it.
type Queue interface {
	TryEnqueue(docID int64) error
}

// Pipeline registers local files as documents. *indexer.Orchestrator implements it.
type Pipeline interface {
	Register(ctx context.Context, input *models.DocumentInput) (*models.Document, error)
}

// WatchService manages watched directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// OCRHealth reports the OCR worker's state. *ocr.Client implements it.
type OCRHealth interface {
	Health(ctx context.Context) (*ocr.Health, error)
}

// Server is the HTTP server for the shiryo API.
type Server struct {
	engine     *search.Engine
	pipeline   Pipeline
	queue      Queue
	storage    storage.Storage
	dedup      *dedup.Service
	index      chunkstore.Store
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	watch      WatchService
	ocr        OCRHealth
	validate   *validator.Validate
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory endpoints. When configPath is set, directory
// changes are persisted to the config file.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// WithOCRHealth adds the OCR worker's state to /health.
func WithOCRHealth(h OCRHealth) Option {
	return func(s *Server) { s.ocr = h }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	pipeline Pipeline,
	queue Queue,
	store storage.Storage,
	dedupSvc *dedup.Service,
	index chunkstore.Store,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		pipeline: pipeline,
		queue:    queue,
		storage:  store,
		dedup:    dedupSvc,
		index:    index,
		config:   cfg,
		validate: validator.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/documents", s.handleUpload)
		r.Post("/documents/path", s.handleIngestPath)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/documents/{id}/chunks", s.handleGetChunks)
		r.Post("/documents/{id}/reprocess", s.handleReprocess)
		r.Post("/documents/{id}/ignore", s.handleIgnore)

		r.Post("/search", s.handleSearch)
		r.Post("/search/chunks", s.handleSearchChunks)

		r.Get("/dedup/clusters", s.handleListClusters)
		r.Get("/dedup/clusters/{id}", s.handleGetCluster)
		r.Post("/dedup/clusters/{id}/primary", s.handleSetPrimary)
		r.Get("/dedup/audit", s.handleAudit)
		r.Post("/dedup/rescan", s.handleRescan)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) indexMode() chunkstore.Mode {
	if m, ok := s.index.(interface{ Mode() chunkstore.Mode }); ok {
		return m.Mode()
	}
	return chunkstore.ModeMemory
}
