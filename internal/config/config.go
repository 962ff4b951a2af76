// Package config provides configuration loading and structs for the shiryo server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Reflow    ReflowConfig    `yaml:"reflow"`
	Cleaner   CleanerConfig   `yaml:"cleaner"`
	OCR       OCRConfig       `yaml:"ocr"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

// StorageConfig holds paths for the database and uploaded files.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "hash", "openai" or "onnx".
	Provider   string       `yaml:"provider"`
	Model      string       `yaml:"model"`
	ModelPath  string       `yaml:"model_path"`
	Dimensions int          `yaml:"dimensions"`
	MaxTokens  int          `yaml:"max_tokens"`
	CacheSize  int          `yaml:"cache_size"`
	BatchSize  int          `yaml:"batch_size"`
	OpenAI     OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// IndexConfig holds hybrid chunk store settings.
type IndexConfig struct {
	// Backend is "engine" (Redis/Valkey Search with memory fallback) or "memory".
	Backend      string   `yaml:"backend"`
	Addrs        []string `yaml:"addrs"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Name         string   `yaml:"name"`
	KeyPrefix    string   `yaml:"key_prefix"`
	TimeoutMS    int      `yaml:"timeout_ms"`
	MirrorWrites *bool    `yaml:"mirror_writes"`
}

// Timeout returns the per-call engine timeout.
func (c *IndexConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MirrorWritesOrDefault reports whether engine writes are mirrored into memory; defaults to true.
func (c *IndexConfig) MirrorWritesOrDefault() bool {
	if c.MirrorWrites != nil {
		return *c.MirrorWrites
	}
	return true
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultLimit           int  `yaml:"default_limit"`
	MaxLimit               int  `yaml:"max_limit"`
	DefaultKeywordEnabled  bool `yaml:"default_keyword_enabled"`
	DefaultSemanticEnabled bool `yaml:"default_semantic_enabled"`
	CandidateMultiplier    int  `yaml:"candidate_multiplier"`
	MinCandidates          int  `yaml:"min_candidates"`
	RRFK                   int  `yaml:"rrf_k"`
	// RequireKeywordMatch drops vector-only hits from document-level results.
	RequireKeywordMatch *bool `yaml:"require_keyword_match"`
}

// RequireKeywordMatchOrDefault returns the keyword gate setting; defaults to true.
func (c *SearchConfig) RequireKeywordMatchOrDefault() bool {
	if c.RequireKeywordMatch != nil {
		return *c.RequireKeywordMatch
	}
	return true
}

// ReflowConfig tunes layout reconstruction of PDF pages.
type ReflowConfig struct {
	MinBlocksForColumns   int     `yaml:"min_blocks_for_columns"`
	GutterRatio           float64 `yaml:"gutter_ratio"`
	SidebarAreaRatio      float64 `yaml:"sidebar_area_ratio"`
	SidebarMinBlocks      int     `yaml:"sidebar_min_blocks"`
	RowTolerance          float64 `yaml:"row_tolerance"`
	CellGapFactor         float64 `yaml:"cell_gap_factor"`
	ParallelMinMatchRatio float64 `yaml:"parallel_min_match_ratio"`
	ParallelMaxOffset     float64 `yaml:"parallel_max_offset"`
	ParallelMinLineLen    int     `yaml:"parallel_min_line_len"`
}

// CleanerConfig tunes header/footer removal.
type CleanerConfig struct {
	EdgeLines   int     `yaml:"edge_lines"`
	RepeatRatio float64 `yaml:"repeat_ratio"`
	MinPages    int     `yaml:"min_pages"`
}

// OCRConfig holds settings for the external OCR worker.
type OCRConfig struct {
	Enabled           bool    `yaml:"enabled"`
	URL               string  `yaml:"url"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	MinTextLength     int     `yaml:"min_text_length"`
	SkipThreshold     int     `yaml:"skip_threshold"`
	MaxPages          int     `yaml:"max_pages"`
	RenderDPI         int     `yaml:"render_dpi"`
	FastMode          bool    `yaml:"fast_mode"`
	ForceRenderPDF    bool    `yaml:"force_render_pdf"`
	PypdfPreflight    bool    `yaml:"pypdf_preflight"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Timeout returns the OCR request timeout.
func (c *OCRConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ChunkingConfig tunes the sentence/table-aware chunker.
type ChunkingConfig struct {
	MaxChars          int     `yaml:"max_chars"`
	OverlapSentences  int     `yaml:"overlap_sentences"`
	MinChars          int     `yaml:"min_chars"`
	NoiseThreshold    float64 `yaml:"noise_threshold"`
	TableRowGroupSize int     `yaml:"table_row_group_size"`
	MaxTableRowChunks int     `yaml:"max_table_row_chunks"`
	MaxChunks         int     `yaml:"max_chunks"`
	DedupExact        *bool   `yaml:"dedup_exact"`
	DedupMinChars     int     `yaml:"dedup_min_chars"`
	SchemaVersion     string  `yaml:"schema_version"`
}

// DedupExactOrDefault reports whether exact chunk suppression is on; defaults to true.
func (c *ChunkingConfig) DedupExactOrDefault() bool {
	if c.DedupExact != nil {
		return *c.DedupExact
	}
	return true
}

// DedupConfig holds duplicate detection and indexing policy settings.
type DedupConfig struct {
	// Mode is one of off, exact_only, exact_and_near.
	Mode string `yaml:"mode"`
	// IndexPolicy is one of index_all, index_primary_only, index_primary_prefer.
	IndexPolicy string `yaml:"index_policy"`
	// Method is the near-duplicate detector: minhash, doc_embedding or hybrid.
	Method             string  `yaml:"method"`
	ShingleSize        int     `yaml:"shingle_size"`
	MinHashPerms       int     `yaml:"minhash_perms"`
	MinHashBands       int     `yaml:"minhash_bands"`
	MinHashThreshold   float64 `yaml:"minhash_threshold"`
	EmbeddingDims      int     `yaml:"embedding_dims"`
	SimHashBands       int     `yaml:"simhash_bands"`
	EmbeddingThreshold float64 `yaml:"embedding_threshold"`
	PreferPenalty      float64 `yaml:"prefer_penalty"`
	RescanSchedule     string  `yaml:"rescan_schedule"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	Workers     int `yaml:"workers"`
	QueueSize   int `yaml:"queue_size"`
	MaxAttempts int `yaml:"max_attempts"`
	BackoffMS   int `yaml:"backoff_ms"`
}

// Backoff returns the base retry delay.
func (c *PipelineConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Embedding.Provider {
	case "hash", "openai", "onnx":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	switch c.Index.Backend {
	case "engine":
		if len(c.Index.Addrs) == 0 {
			errs = append(errs, errors.New("index.addrs: required for engine backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("index.backend: unknown backend %q", c.Index.Backend))
	}
	switch c.Dedup.Mode {
	case "off", "exact_only", "exact_and_near":
	default:
		errs = append(errs, fmt.Errorf("dedup.mode: unknown mode %q", c.Dedup.Mode))
	}
	switch c.Dedup.IndexPolicy {
	case "index_all", "index_primary_only", "index_primary_prefer":
	default:
		errs = append(errs, fmt.Errorf("dedup.index_policy: unknown policy %q", c.Dedup.IndexPolicy))
	}
	switch c.Dedup.Method {
	case "minhash", "doc_embedding", "hybrid":
	default:
		errs = append(errs, fmt.Errorf("dedup.method: unknown method %q", c.Dedup.Method))
	}
	if c.Dedup.MinHashBands <= 0 || c.Dedup.MinHashPerms%c.Dedup.MinHashBands != 0 {
		errs = append(errs, errors.New("dedup.minhash_bands: must divide minhash_perms"))
	}
	if c.Dedup.SimHashBands <= 0 || 64%c.Dedup.SimHashBands != 0 {
		errs = append(errs, errors.New("dedup.simhash_bands: must divide 64"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions: must be positive"))
	}
	return errors.Join(errs...)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
