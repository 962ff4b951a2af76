package models

// SearchHit is one fused result.
type SearchHit struct {
	Key          string      `json:"key"`
	DocID        int64       `json:"doc_id"`
	ChunkID      int64       `json:"chunk_id"`
	ChunkIndex   int         `json:"chunk_index"`
	ChunkType    ChunkType   `json:"chunk_type"`
	Content      string      `json:"content"`
	Snippet      string      `json:"snippet,omitempty"`
	Page         *int        `json:"page,omitempty"`
	SectionTitle string      `json:"section_title,omitempty"`
	Filename     string      `json:"filename"`
	Title        string      `json:"title,omitempty"`
	Score        float64     `json:"score"`
	KeywordRank  int         `json:"keyword_rank,omitempty"`
	VectorRank   int         `json:"vector_rank,omitempty"`
	KeywordScore float64     `json:"keyword_score,omitempty"`
	VectorScore  float64     `json:"vector_score,omitempty"`
	DedupStatus  DedupStatus `json:"dedup_status"`
	Penalized    bool        `json:"penalized,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
	Query     string       `json:"query"`
	// IndexMode is "engine" or "memory" at the time the query ran.
	IndexMode string `json:"index_mode"`
}
