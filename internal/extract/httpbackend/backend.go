// Package httpbackend calls a remote extraction service over JSON/HTTP.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawler-edge/internal/extract"
)

const maxResponseBytes = 16 << 20

// ErrRemoteFailure is returned when the service reports success=false.
var ErrRemoteFailure = errors.New("httpbackend: remote extraction failed")

// Config points the backend at a service.
type Config struct {
	Endpoint  string
	APIKey    string
	UserAgent string
	Client    *http.Client
}

// Backend implements extract.Backend.
type Backend struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

type renderRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

type renderResponse struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
	Title    string `json:"title,omitempty"`
	HTML     string `json:"html,omitempty"`
	Error    string `json:"error,omitempty"`
}

// New returns a Backend. A nil client gets one with a 30s ceiling; the
// gateway deadline is normally tighter.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("extraction endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Backend{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		client:    client,
	}, nil
}

// Name implements extract.Backend.
func (b *Backend) Name() string { return "http" }

// Extract implements extract.Backend.
func (b *Backend) Extract(ctx context.Context, url string) (extract.Rendering, error) {
	body, err := json.Marshal(renderRequest{URL: url, Format: "markdown"})
	if err != nil {
		return extract.Rendering{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return extract.Rendering{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return extract.Rendering{}, fmt.Errorf("call extraction service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return extract.Rendering{}, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return extract.Rendering{}, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out renderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return extract.Rendering{}, fmt.Errorf("decode extraction response: %w", err)
	}
	if !out.Success {
		return extract.Rendering{}, fmt.Errorf("%w: %s", ErrRemoteFailure, out.Error)
	}
	rendering := extract.Rendering{
		Content:     out.Markdown,
		Title:       out.Title,
		ContentType: extract.MarkdownContentType,
	}
	if out.HTML != "" {
		rendering.Original = []byte(out.HTML)
	}
	return rendering, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
