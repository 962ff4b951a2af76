package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/models"
)

// DefaultServerURL is where the CLI looks for a running server.
const DefaultServerURL = "http://localhost:8080"

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a running shiryo server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Ping reports whether the server answers its health check.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// Search runs a document-level or chunk-level search.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	path := "/api/v1/search"
	if query.ChunkLevel {
		path = "/api/v1/search/chunks"
	}
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, path, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the server status document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestPath asks the server to ingest a local file.
func (c *Client) IngestPath(ctx context.Context, path string) (*models.Document, error) {
	var out struct {
		Document *models.Document `json:"document"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents/path", map[string]string{"path": path}, &out); err != nil {
		return nil, err
	}
	return out.Document, nil
}

// ListClusters lists dedup clusters, optionally filtered by method.
func (c *Client) ListClusters(ctx context.Context, method string, offset, limit int) ([]*models.DedupCluster, error) {
	q := url.Values{}
	if method != "" {
		q.Set("method", method)
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/dedup/clusters"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Clusters []*models.DedupCluster `json:"clusters"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

// Rescan triggers a corpus-wide dedup scan.
func (c *Client) Rescan(ctx context.Context) (*dedup.ScanReport, error) {
	var out dedup.ScanReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/dedup/rescan", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPrimary makes docID the primary of clusterID.
func (c *Client) SetPrimary(ctx context.Context, clusterID, docID int64, actor string) (*models.DedupCluster, error) {
	body := map[string]any{"doc_id": docID, "actor": actor}
	var out models.DedupCluster
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/dedup/clusters/%d/primary", clusterID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ignore excludes docID from dedup decisions.
func (c *Client) Ignore(ctx context.Context, docID int64, actor string) (*models.Document, error) {
	var out models.Document
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/documents/%d/ignore", docID), map[string]string{"actor": actor}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchDirectories lists the server's watched directories.
func (c *Client) WatchDirectories(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// AddWatchDirectory adds a watched directory and ingests its existing files.
func (c *Client) AddWatchDirectory(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/watch/directories", map[string]any{"path": path, "sync": true}, nil)
}

// RemoveWatchDirectory stops watching path.
func (c *Client) RemoveWatchDirectory(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
