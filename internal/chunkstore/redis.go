package chunkstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
)

const (
	deleteBatch    = 1000
	distanceField  = "vector_distance"
	// titleSeparator splits section_title tags. Titles often contain commas, so the
	// default separator would index "Scope, terms" as two tags.
	titleSeparator = "\x1f"
)

// returnFields lists the hash fields fetched with every hit. The embedding stays
// server side.
var returnFields = []string{
	"doc_id", "chunk_id", "chunk_index", "page", "chunk_type", "section_title",
	"quality_score", "dedup_status", "dedup_primary_doc_id", "dedup_cluster_id",
	"dedup_is_primary", "content", "filename", "title", "summary",
	"schema_version", "embedding_model",
}

// RedisStore implements Store on Redis or Valkey with the search module, storing
// chunks as hashes under "{prefix}{doc_id}:{chunk_id}".
type RedisStore struct {
	client  rueidis.Client
	index   string
	prefix  string
	dims    int
	timeout time.Duration
}

// NewRedisStore connects to the configured engine. It does not create the index;
// call EnsureIndex.
func NewRedisStore(cfg config.IndexConfig, dims int) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("index addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableCache: true,
		// FT.SEARCH parsing expects RESP2 arrays.
		AlwaysRESP2: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}
	return newRedisStore(client, cfg, dims), nil
}

func newRedisStore(client rueidis.Client, cfg config.IndexConfig, dims int) *RedisStore {
	return &RedisStore{
		client:  client,
		index:   cfg.Name,
		prefix:  cfg.KeyPrefix,
		dims:    dims,
		timeout: cfg.Timeout(),
	}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) search(ctx context.Context, op string, args ...string) ([]rueidis.RedisMessage, error) {
	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(append([]string{s.index}, args...)...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &EngineError{Op: op, Err: err}
	}
	return raw, nil
}

// EnsureIndex creates the search index unless it already exists.
func (s *RedisStore) EnsureIndex(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cmd := s.client.B().Arbitrary("FT.CREATE").Args(s.createArgs()...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if re, ok := rueidis.IsRedisErr(err); ok && strings.Contains(strings.ToLower(re.Error()), "already exists") {
			return nil
		}
		return &EngineError{Op: OpCreateIndex, Err: err}
	}
	return nil
}

func (s *RedisStore) createArgs() []string {
	return []string{
		s.index, "ON", "HASH", "PREFIX", "1", s.prefix, "SCHEMA",
		"doc_id", "NUMERIC",
		"chunk_id", "NUMERIC",
		"chunk_index", "NUMERIC",
		"page", "NUMERIC",
		"chunk_type", "TAG",
		"section_title", "TAG", "SEPARATOR", titleSeparator,
		"quality_score", "NUMERIC",
		"dedup_status", "TAG",
		"dedup_primary_doc_id", "NUMERIC",
		"dedup_cluster_id", "NUMERIC",
		"dedup_is_primary", "TAG",
		"content", "TEXT",
		"filename", "TEXT", "WEIGHT", "8",
		"title", "TEXT", "WEIGHT", "2",
		"summary", "TEXT", "WEIGHT", "2",
		"embedding", "VECTOR", "FLAT", "6",
		"TYPE", "FLOAT32", "DIM", strconv.Itoa(s.dims), "DISTANCE_METRIC", "COSINE",
	}
}

// Replace deletes the document's hashes and writes the new chunks in one round trip.
func (s *RedisStore) Replace(ctx context.Context, docID int64, chunks []*models.IndexedChunk) error {
	if err := s.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cmds := make(rueidis.Commands, 0, len(chunks))
	for _, c := range chunks {
		cmd := s.client.B().Hset().Key(s.prefix + c.Key()).FieldValue()
		for _, kv := range chunkFields(c) {
			cmd = cmd.FieldValue(kv[0], kv[1])
		}
		cmds = append(cmds, cmd.Build())
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &EngineError{Op: OpReplace, Err: fmt.Errorf("chunk %s: %w", chunks[i].Key(), err)}
		}
	}
	return nil
}

// DeleteDocument removes every hash of docID, found through the doc_id field.
func (s *RedisStore) DeleteDocument(ctx context.Context, docID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := strconv.FormatInt(docID, 10)
	for {
		raw, err := s.search(ctx, OpDelete,
			fmt.Sprintf("@doc_id:[%s %s]", id, id), "NOCONTENT", "LIMIT", "0", strconv.Itoa(deleteBatch), "DIALECT", "2")
		if err != nil {
			return err
		}
		keys := parseKeys(raw)
		if len(keys) == 0 {
			return nil
		}
		// One DEL per key keeps cluster deployments free of cross-slot errors.
		cmds := make(rueidis.Commands, 0, len(keys))
		for _, key := range keys {
			cmds = append(cmds, s.client.B().Del().Key(key).Build())
		}
		for _, res := range s.client.DoMulti(ctx, cmds...) {
			if err := res.Error(); err != nil {
				return &EngineError{Op: OpDelete, Err: err}
			}
		}
		if len(keys) < deleteBatch {
			return nil
		}
	}
}

// KeywordSearch runs the weighted boolean query: filename, content phrase, title and
// summary, then loose content terms.
func (s *RedisStore) KeywordSearch(ctx context.Context, text string, k int) ([]Hit, error) {
	q := keywordQuery(text)
	if q == "" || k <= 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := []string{q, "WITHSCORES", "RETURN", strconv.Itoa(len(returnFields))}
	args = append(args, returnFields...)
	args = append(args, "LIMIT", "0", strconv.Itoa(k), "DIALECT", "2")
	raw, err := s.search(ctx, OpKeywordSearch, args...)
	if err != nil {
		return nil, err
	}
	return s.parseScored(raw)
}

// VectorSearch runs a KNN query; similarity is 1 - cosine distance.
func (s *RedisStore) VectorSearch(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	fields := append(append([]string{}, returnFields...), distanceField)
	args := []string{
		fmt.Sprintf("*=>[KNN %d @embedding $BLOB AS %s]", k, distanceField),
		"SORTBY", distanceField, "RETURN", strconv.Itoa(len(fields)),
	}
	args = append(args, fields...)
	args = append(args, "PARAMS", "2", "BLOB", rueidis.VectorString32(vec), "LIMIT", "0", strconv.Itoa(k), "DIALECT", "2")
	raw, err := s.search(ctx, OpVectorSearch, args...)
	if err != nil {
		return nil, err
	}
	return s.parseKNN(raw)
}

// Count returns the number of indexed chunks.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.search(ctx, OpCount, "*", "LIMIT", "0", "0")
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, err := raw[0].AsInt64()
	if err != nil {
		return 0, &EngineError{Op: OpCount, Err: err}
	}
	return n, nil
}

// Close shuts down the client.
func (s *RedisStore) Close() error {
	s.client.Close()
	return nil
}
