package chunkstore

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/redis/rueidis"

	"github.com/hyperjump/shiryo/internal/models"
)

// chunkFields flattens a chunk into hash field pairs. Missing page and dedup ids are
// written as -1 and 0 so numeric fields always parse.
func chunkFields(c *models.IndexedChunk) [][2]string {
	page := int64(-1)
	if c.Page != nil {
		page = int64(*c.Page)
	}
	isPrimary := "0"
	if c.DedupIsPrimary {
		isPrimary = "1"
	}
	fields := [][2]string{
		{"doc_id", strconv.FormatInt(c.DocID, 10)},
		{"chunk_id", strconv.FormatInt(c.ID, 10)},
		{"chunk_index", strconv.Itoa(c.ChunkIndex)},
		{"page", strconv.FormatInt(page, 10)},
		{"chunk_type", string(c.ChunkType)},
		{"section_title", strings.ReplaceAll(c.SectionTitle, titleSeparator, " ")},
		{"quality_score", strconv.FormatFloat(c.QualityScore, 'f', -1, 64)},
		{"dedup_status", string(c.DedupStatus)},
		{"dedup_primary_doc_id", optionalID(c.DedupPrimaryDocID)},
		{"dedup_cluster_id", optionalID(c.DedupClusterID)},
		{"dedup_is_primary", isPrimary},
		{"content", c.Content},
		{"filename", c.Filename},
		{"title", c.Title},
		{"summary", c.Summary},
		{"schema_version", c.SchemaVersion},
		{"embedding_model", c.EmbeddingModel},
	}
	if len(c.Embedding) > 0 {
		fields = append(fields, [2]string{"embedding", rueidis.VectorString32(c.Embedding)})
	}
	return fields
}

func optionalID(v *int64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatInt(*v, 10)
}

// chunkFromFields rebuilds a chunk from returned hash fields.
func chunkFromFields(f map[string]string) (*models.IndexedChunk, error) {
	docID, err := strconv.ParseInt(f["doc_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse doc_id: %w", err)
	}
	chunkID, err := strconv.ParseInt(f["chunk_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse chunk_id: %w", err)
	}
	c := &models.IndexedChunk{
		ChunkRecord: models.ChunkRecord{
			ID:             chunkID,
			DocID:          docID,
			ChunkType:      models.ChunkType(f["chunk_type"]),
			Content:        f["content"],
			SectionTitle:   f["section_title"],
			SchemaVersion:  f["schema_version"],
			EmbeddingModel: f["embedding_model"],
		},
		DedupStatus:    models.DedupStatus(f["dedup_status"]),
		DedupIsPrimary: f["dedup_is_primary"] == "1",
		Filename:       f["filename"],
		Title:          f["title"],
		Summary:        f["summary"],
	}
	c.ChunkIndex, _ = strconv.Atoi(f["chunk_index"])
	c.QualityScore, _ = strconv.ParseFloat(f["quality_score"], 64)
	if p, err := strconv.Atoi(f["page"]); err == nil && p >= 0 {
		c.Page = models.IntPtr(p)
	}
	if v, err := strconv.ParseInt(f["dedup_primary_doc_id"], 10, 64); err == nil && v > 0 {
		c.DedupPrimaryDocID = models.Int64Ptr(v)
	}
	if v, err := strconv.ParseInt(f["dedup_cluster_id"], 10, 64); err == nil && v > 0 {
		c.DedupClusterID = models.Int64Ptr(v)
	}
	if c.DedupStatus == "" {
		c.DedupStatus = models.DedupUnique
	}
	return c, nil
}

// keywordQuery builds the weighted boolean query. Terms are reduced to letters and
// digits so no query syntax reaches the engine.
func keywordQuery(text string) string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return ""
	}
	all := strings.Join(terms, " ")
	return fmt.Sprintf(
		`(@filename:(%s)) => {$weight: 8.0;} | (@content:"%s") => {$weight: 4.0;} | (@title|summary:(%s)) => {$weight: 2.0;} | @content:(%s)`,
		all, all, all, strings.Join(terms, "|"))
}

// parseKeys reads a NOCONTENT reply: [total, key1, key2, ...].
func parseKeys(raw []rueidis.RedisMessage) []string {
	var keys []string
	for i := 1; i < len(raw); i++ {
		if k, err := raw[i].ToString(); err == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// parseScored reads a WITHSCORES reply: [total, key1, score1, fields1, ...].
func (s *RedisStore) parseScored(raw []rueidis.RedisMessage) ([]Hit, error) {
	var hits []Hit
	for i := 1; i+2 < len(raw); i += 3 {
		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}
		c, err := chunkFromFields(fieldMap(fields))
		if err != nil {
			return nil, &EngineError{Op: OpKeywordSearch, Err: err}
		}
		hits = append(hits, Hit{Chunk: c, Score: score})
	}
	return hits, nil
}

// parseKNN reads a KNN reply: [total, key1, fields1, ...], converting cosine distance
// to similarity.
func (s *RedisStore) parseKNN(raw []rueidis.RedisMessage) ([]Hit, error) {
	var hits []Hit
	for i := 1; i+1 < len(raw); i += 2 {
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		m := fieldMap(fields)
		c, err := chunkFromFields(m)
		if err != nil {
			return nil, &EngineError{Op: OpVectorSearch, Err: err}
		}
		dist, err := strconv.ParseFloat(m[distanceField], 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: max(0, min(1, 1-dist))})
	}
	return hits, nil
}

func fieldMap(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		k, err := fields[j].ToString()
		if err != nil {
			continue
		}
		v, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[k] = v
	}
	return m
}
