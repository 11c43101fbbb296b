// Package ocrservice is the HTTP client of the remote OCR microservice.
package ocrservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

const providerName = "ocr"

// Config for the OCR service client.
type Config struct {
	BaseURL       string        // empty disables the client
	APIKey        string        // optional, sent as X-API-Key
	HealthTimeout time.Duration // default 3s
	Timeout       time.Duration // default 60s
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

func (c *Client) Name() string { return providerName }

// IsConfigured reports whether a service URL is set.
func (c *Client) IsConfigured() bool { return c.cfg.BaseURL != "" }

// HealthCheck returns true only if GET /health answers 2xx within the short
// health timeout. It never returns an error; a cold service is just unhealthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.IsConfigured() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ocr.health.unreachable", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	ok := resp.StatusCode/100 == 2
	c.logger.Debug("ocr.health", "status", resp.StatusCode, "ok", ok, "elapsed_ms", time.Since(start).Milliseconds())
	return ok
}

type extractResponse struct {
	Text  string `json:"text"`
	Pages []struct {
		PageNumber int    `json:"pageNumber"`
		Text       string `json:"text"`
	} `json:"pages"`
	Tables     []string `json:"tables,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Method     string   `json:"method,omitempty"`
}

// ExtractByPage posts the document and returns its text with per-page texts
// in page order.
func (c *Client) ExtractByPage(ctx context.Context, file []byte, filename string) (entity.TextExtraction, error) {
	var out extractResponse
	if err := c.postFile(ctx, "/extract", file, filename, &out); err != nil {
		return entity.TextExtraction{}, err
	}
	res := entity.TextExtraction{Text: strings.TrimSpace(out.Text), Tables: out.Tables, Method: out.Method}
	if res.Method == "" {
		res.Method = "ocr-service"
	}
	if out.Confidence != nil {
		res.Confidence = *out.Confidence
		if res.Confidence > 1 {
			res.Confidence /= 100
		}
	}
	for i, p := range out.Pages {
		n := p.PageNumber
		if n <= 0 {
			n = i + 1
		}
		res.Pages = append(res.Pages, entity.PageText{PageNumber: n, Text: strings.TrimSpace(p.Text)})
	}
	sortPages(res.Pages)
	res.PageCount = len(res.Pages)
	if res.Text == "" && len(res.Pages) > 0 {
		parts := make([]string, 0, len(res.Pages))
		for _, p := range res.Pages {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		res.Text = strings.Join(parts, "\n\n")
	}
	if res.PageCount == 0 && res.Text != "" {
		res.PageCount = 1
	}
	return res, nil
}

// ExtractAsImages asks the service to rasterize the document; images are
// returned base64 encoded in page order.
func (c *Client) ExtractAsImages(ctx context.Context, file []byte, filename string) ([][]byte, error) {
	var out struct {
		Images []string `json:"images"`
	}
	if err := c.postFile(ctx, "/extract-images", file, filename, &out); err != nil {
		return nil, err
	}
	images := make([][]byte, 0, len(out.Images))
	for i, s := range out.Images {
		if j := strings.Index(s, ";base64,"); j >= 0 {
			s = s[j+len(";base64,"):]
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i+1, err)
		}
		images = append(images, b)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("ocr service returned no images")
	}
	return images, nil
}

func (c *Client) postFile(ctx context.Context, path string, file []byte, filename string, into any) error {
	if !c.IsConfigured() {
		return fmt.Errorf("ocr service url not set")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, reqID := common.EnsureRequestID(ctx)
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if _, err := fw.Write(file); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", reqID)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("ocr.http.send_error", "req_id", reqID, "path", path, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("ocr.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Info("ocr.http.response",
		"req_id", reqID,
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return ratelimit.NewStatusError(providerName, resp, raw)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode ocr response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}

func sortPages(pages []entity.PageText) {
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
}
