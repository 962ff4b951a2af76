package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/ocr"
	"github.com/hyperjump/shiryo/internal/search"
	"github.com/hyperjump/shiryo/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Embedder embedding.Embedder
	Index    *chunkstore.DualStore
	Dedup    *dedup.Service
	Pipeline *indexer.Orchestrator
	Pool     *indexer.Pool
	Engine   *search.Engine
	// OCR is nil when no OCR worker is configured.
	OCR      *ocr.Client
}

// Close releases storage, index and embedder resources.
func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	memory, err := chunkstore.NewMemoryStore(embedder.Dimensions())
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize memory index: %w", err)
	}
	var engine chunkstore.Store
	if cfg.Index.Backend == "engine" {
		engine = connectEngine(ctx, cfg, embedder.Dimensions(), logger)
	}
	index := chunkstore.NewDualStore(engine, memory,
		chunkstore.WithLogger(logger),
		chunkstore.WithMirrorWrites(cfg.Index.MirrorWritesOrDefault()))
	logger.Info("chunk index initialized",
		zap.String("backend", cfg.Index.Backend),
		zap.String("mode", string(index.Mode())),
		zap.String("embedding_model", embedder.Model()),
		zap.Int("dimensions", embedder.Dimensions()))

	dedupSvc := dedup.NewService(store, cfg.Dedup, dedup.WithLogger(logger))

	extractOpts := []extract.Option{extract.WithLogger(logger)}
	var ocrClient *ocr.Client
	if cfg.OCR.Enabled && cfg.OCR.URL != "" {
		ocrClient = ocr.NewClient(cfg.OCR, ocr.WithLogger(logger))
		extractOpts = append(extractOpts, extract.WithOCR(ocrClient))
	}
	extractor := extract.NewExtractor(cfg, extractOpts...)

	orch := indexer.NewOrchestrator(store, extractor, embedder, index, dedupSvc, cfg,
		indexer.WithLogger(logger),
		indexer.WithEmbedBatchSize(cfg.Embedding.BatchSize))
	pool := indexer.NewPool(orch.Process, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)

	engineSearch := search.NewEngine(index, embedder, &cfg.Search,
		search.WithLogger(logger),
		search.WithPenaltyPolicy(dedupSvc))

	return &Components{
		Storage:  store,
		Embedder: embedder,
		Index:    index,
		Dedup:    dedupSvc,
		Pipeline: orch,
		Pool:     pool,
		Engine:   engineSearch,
		OCR:      ocrClient,
	}, nil
}

// connectEngine opens the search engine backend. Failures leave the index in memory
// mode rather than aborting startup.
func connectEngine(ctx context.Context, cfg *config.Config, dims int, logger *zap.Logger) chunkstore.Store {
	rs, err := chunkstore.NewRedisStore(cfg.Index, dims)
	if err != nil {
		logger.Warn("search engine unavailable, serving from memory", zap.Strings("addrs", cfg.Index.Addrs), zap.Error(err))
		return nil
	}
	if err := rs.EnsureIndex(ctx); err != nil {
		logger.Warn("search engine index setup failed, serving from memory", zap.Error(err))
		_ = rs.Close()
		return nil
	}
	return rs
}
