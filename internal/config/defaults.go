package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 64 << 20
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shiryo/data/db/documents.db"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "/usr/local/var/shiryo/data/uploads"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		case "onnx":
			cfg.Embedding.Model = "all-MiniLM-L6-v2"
		default:
			cfg.Embedding.Model = "hashed-bow-v1"
		}
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/shiryo/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}

	if cfg.Index.Backend == "" {
		if len(cfg.Index.Addrs) > 0 {
			cfg.Index.Backend = "engine"
		} else {
			cfg.Index.Backend = "memory"
		}
	}
	if cfg.Index.Name == "" {
		cfg.Index.Name = "shiryo_chunks"
	}
	if cfg.Index.KeyPrefix == "" {
		cfg.Index.KeyPrefix = "shiryo:chunk:"
	}
	if cfg.Index.TimeoutMS == 0 {
		cfg.Index.TimeoutMS = 5000
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if !cfg.Search.DefaultKeywordEnabled && !cfg.Search.DefaultSemanticEnabled {
		cfg.Search.DefaultKeywordEnabled = true
		cfg.Search.DefaultSemanticEnabled = true
	}
	if cfg.Search.CandidateMultiplier == 0 {
		cfg.Search.CandidateMultiplier = 5
	}
	if cfg.Search.MinCandidates == 0 {
		cfg.Search.MinCandidates = 50
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = 60
	}

	if cfg.Reflow.MinBlocksForColumns == 0 {
		cfg.Reflow.MinBlocksForColumns = 6
	}
	if cfg.Reflow.GutterRatio == 0 {
		cfg.Reflow.GutterRatio = 0.04
	}
	if cfg.Reflow.SidebarAreaRatio == 0 {
		cfg.Reflow.SidebarAreaRatio = 0.2
	}
	if cfg.Reflow.SidebarMinBlocks == 0 {
		cfg.Reflow.SidebarMinBlocks = 3
	}
	if cfg.Reflow.RowTolerance == 0 {
		cfg.Reflow.RowTolerance = 3.0
	}
	if cfg.Reflow.CellGapFactor == 0 {
		cfg.Reflow.CellGapFactor = 2.0
	}
	if cfg.Reflow.ParallelMinMatchRatio == 0 {
		cfg.Reflow.ParallelMinMatchRatio = 0.8
	}
	if cfg.Reflow.ParallelMaxOffset == 0 {
		cfg.Reflow.ParallelMaxOffset = 2.0
	}
	if cfg.Reflow.ParallelMinLineLen == 0 {
		cfg.Reflow.ParallelMinLineLen = 20
	}

	if cfg.Cleaner.EdgeLines == 0 {
		cfg.Cleaner.EdgeLines = 2
	}
	if cfg.Cleaner.RepeatRatio == 0 {
		cfg.Cleaner.RepeatRatio = 0.6
	}
	if cfg.Cleaner.MinPages == 0 {
		cfg.Cleaner.MinPages = 3
	}

	if cfg.OCR.URL == "" {
		cfg.OCR.URL = "http://localhost:8090"
	}
	if cfg.OCR.TimeoutSec == 0 {
		cfg.OCR.TimeoutSec = 180
	}
	if cfg.OCR.MinTextLength == 0 {
		cfg.OCR.MinTextLength = 200
	}
	if cfg.OCR.SkipThreshold == 0 {
		cfg.OCR.SkipThreshold = 50
	}
	if cfg.OCR.MaxPages == 0 {
		cfg.OCR.MaxPages = 30
	}
	if cfg.OCR.RenderDPI == 0 {
		cfg.OCR.RenderDPI = 200
	}
	if cfg.OCR.RequestsPerSecond == 0 {
		cfg.OCR.RequestsPerSecond = 2
	}

	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = 800
	}
	if cfg.Chunking.OverlapSentences == 0 {
		cfg.Chunking.OverlapSentences = 1
	}
	if cfg.Chunking.MinChars == 0 {
		cfg.Chunking.MinChars = 20
	}
	if cfg.Chunking.NoiseThreshold == 0 {
		cfg.Chunking.NoiseThreshold = 0.5
	}
	if cfg.Chunking.TableRowGroupSize == 0 {
		cfg.Chunking.TableRowGroupSize = 5
	}
	if cfg.Chunking.MaxTableRowChunks == 0 {
		cfg.Chunking.MaxTableRowChunks = 40
	}
	if cfg.Chunking.MaxChunks == 0 {
		cfg.Chunking.MaxChunks = 400
	}
	if cfg.Chunking.DedupMinChars == 0 {
		cfg.Chunking.DedupMinChars = 30
	}
	if cfg.Chunking.SchemaVersion == "" {
		cfg.Chunking.SchemaVersion = "chunk-v3"
	}

	if cfg.Dedup.Mode == "" {
		cfg.Dedup.Mode = "exact_and_near"
	}
	if cfg.Dedup.IndexPolicy == "" {
		cfg.Dedup.IndexPolicy = "index_primary_prefer"
	}
	if cfg.Dedup.Method == "" {
		cfg.Dedup.Method = "hybrid"
	}
	if cfg.Dedup.ShingleSize == 0 {
		cfg.Dedup.ShingleSize = 5
	}
	if cfg.Dedup.MinHashPerms == 0 {
		cfg.Dedup.MinHashPerms = 64
	}
	if cfg.Dedup.MinHashBands == 0 {
		cfg.Dedup.MinHashBands = 8
	}
	if cfg.Dedup.MinHashThreshold == 0 {
		cfg.Dedup.MinHashThreshold = 0.93
	}
	if cfg.Dedup.EmbeddingDims == 0 {
		cfg.Dedup.EmbeddingDims = 256
	}
	if cfg.Dedup.SimHashBands == 0 {
		cfg.Dedup.SimHashBands = 8
	}
	if cfg.Dedup.EmbeddingThreshold == 0 {
		cfg.Dedup.EmbeddingThreshold = 0.95
	}
	if cfg.Dedup.PreferPenalty == 0 {
		cfg.Dedup.PreferPenalty = 0.2
	}

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 64
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.BackoffMS == 0 {
		cfg.Pipeline.BackoffMS = 2000
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".xlsx", ".txt", ".md"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
