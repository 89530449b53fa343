package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"html2pdf-proxy/internal/config"
	"html2pdf-proxy/internal/domain"
	log "html2pdf-proxy/internal/infra/logging"
)

// UpstreamError is a non-2xx reply from the render backend.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("render backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("render backend returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the render backend: liveness probes at its base URL and
// HTML to PDF conversion at its render endpoint. It never retries.
type Client struct {
	baseURL       string
	renderURL     string
	maxErrorBytes int64
	http          *http.Client
}

// NewClient builds a client whose per-call deadline is cfg.Timeout.
func NewClient(cfg config.BackendConfig) *Client {
	maxErr := cfg.MaxErrorBytes
	if maxErr <= 0 {
		maxErr = 64 * 1024
	}
	return &Client{
		baseURL:       cfg.URL,
		renderURL:     cfg.RenderURL(),
		maxErrorBytes: maxErr,
		http:          &http.Client{Timeout: cfg.Timeout},
	}
}

// Render posts html as text/html and returns the PDF body. A non-2xx reply
// yields *UpstreamError; transport failures are returned wrapped.
func (c *Client) Render(ctx context.Context, html string) (*domain.RenderResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.renderURL, strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html")

	log.Info("Sending render request", "url", c.renderURL, "html_bytes", len(html))
	resp, err := c.http.Do(req)
	if err != nil {
		observe(outcomeTransport, start)
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Info("Render backend responded", "status", resp.StatusCode, "status_text", http.StatusText(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observe(outcomeUpstream, start)
		// The diagnostic body is best-effort; a failed read leaves it empty.
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrorBytes))
		log.Error("Render backend error response", "status", resp.StatusCode, "body", string(diag))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(diag))}
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		observe(outcomeTransport, start)
		return nil, fmt.Errorf("read render response: %w", err)
	}
	observe(outcomeOK, start)
	renderedBytes.Add(float64(len(pdf)))
	return &domain.RenderResult{PDF: pdf}, nil
}

// Probe issues a plain GET against the backend base URL and returns the
// status code.
func (c *Client) Probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxErrorBytes))
	return resp.StatusCode, nil
}
