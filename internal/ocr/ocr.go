// Package ocr decides when extracted text is too thin and calls the external OCR worker.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/metrics"
)

// Decision reasons.
const (
	ReasonDisabled      = "disabled"
	ReasonNoSegments    = "no_segments"
	ReasonShortText     = "short_text"
	ReasonSkipThreshold = "below_skip_threshold"
	ReasonEnoughText    = "enough_text"
)

// NeedsOCR reports whether extraction should fall back to OCR, with the reason.
func NeedsOCR(textLen, segments int, cfg config.OCRConfig) (bool, string) {
	switch {
	case !cfg.Enabled:
		return false, ReasonDisabled
	case segments == 0:
		return true, ReasonNoSegments
	case textLen < cfg.MinTextLength:
		return true, ReasonShortText
	case textLen < cfg.SkipThreshold:
		return true, ReasonSkipThreshold
	default:
		return false, ReasonEnoughText
	}
}

// Request is the body posted to the worker's /ocr endpoint.
type Request struct {
	FilePath       string `json:"file_path"`
	MaxPages       int    `json:"max_pages"`
	RenderDPI      int    `json:"render_dpi"`
	FastMode       bool   `json:"fast_mode"`
	ForceRenderPDF bool   `json:"force_render_pdf"`
	PypdfPreflight bool   `json:"pypdf_preflight"`
}

// Response is the worker's reply.
type Response struct {
	Text         string `json:"text"`
	Engine       string `json:"engine"`
	Pages        int    `json:"pages"`
	UsedFallback bool   `json:"used_fallback"`
	Error        string `json:"error,omitempty"`
}

// Hints tailor one request to the document being read.
type Hints struct {
	// Pages is the document's page count when known. It caps max_pages.
	Pages       int
	// ForceRender asks the worker to rasterize pages instead of trusting a text layer.
	ForceRender bool
}

// Health is the worker's capability report.
type Health struct {
	Status  string   `json:"status"`
	Engines []string `json:"engines,omitempty"`
}

// Client talks to the OCR worker over HTTP.
type Client struct {
	baseURL    string
	cfg        config.OCRConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a worker client from config.
func NewClient(cfg config.OCRConfig, opts ...Option) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		limiter:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract asks the worker to OCR the file. Failures are logged and yield empty text;
// they never fail the caller.
func (c *Client) Extract(ctx context.Context, filePath string, hints Hints) *Response {
	resp, err := c.extract(ctx, filePath, hints)
	if err != nil {
		metrics.OCRRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("OCR request failed", zap.String("file", filePath), zap.Error(err))
		return &Response{}
	}
	if strings.TrimSpace(resp.Text) == "" {
		metrics.OCRRequestsTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.OCRRequestsTotal.WithLabelValues("ok").Inc()
	}
	c.logger.Debug("OCR finished",
		zap.String("file", filePath),
		zap.String("engine", resp.Engine),
		zap.Int("pages", resp.Pages),
		zap.Bool("used_fallback", resp.UsedFallback),
		zap.Int("chars", len(resp.Text)))
	return resp
}

func (c *Client) extract(ctx context.Context, filePath string, hints Hints) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(c.request(filePath, hints))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("OCR worker returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("OCR worker error after %s: %s", time.Since(start).Round(time.Millisecond), out.Error)
	}
	return &out, nil
}

func (c *Client) request(filePath string, hints Hints) Request {
	maxPages := c.cfg.MaxPages
	if hints.Pages > 0 && (maxPages <= 0 || hints.Pages < maxPages) {
		maxPages = hints.Pages
	}
	return Request{
		FilePath:       filePath,
		MaxPages:       maxPages,
		RenderDPI:      c.cfg.RenderDPI,
		FastMode:       c.cfg.FastMode,
		ForceRenderPDF: c.cfg.ForceRenderPDF || hints.ForceRender,
		PypdfPreflight: c.cfg.PypdfPreflight,
	}
}

// Health probes the worker's capabilities.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR worker health returned status %d", resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &h, nil
}
