// Package engine wraps the external crawl engine's HTTP contract behind
// the crawl.EngineClient interface. The engine discovers, fetches, and
// renders pages; this client only submits crawls and normalizes status
// responses into crawl.Outcome values.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pagefinder/pagefinder/internal/crawl"
)

// maxFollowPages bounds how many pagination links one Poll will chase, as
// a guard against an engine that keeps returning next links.
const maxFollowPages = 50

// Config controls the engine HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to a Firecrawl-compatible crawl engine.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New constructs a Client. A zero Timeout falls back to 15s.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine.base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse engine base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
	}, nil
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status string       `json:"status"`
	Data   []statusPage `json:"data"`
	Next   string       `json:"next"`
	Error  string       `json:"error"`
}

type statusPage struct {
	Markdown string `json:"markdown"`
	Metadata struct {
		SourceURL string `json:"sourceURL"`
		Title     string `json:"title"`
	} `json:"metadata"`
}

// Submit asks the engine to start crawling url.
func (c *Client) Submit(ctx context.Context, rawURL string) (string, error) {
	body, err := json.Marshal(submitRequest{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/crawl", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: submit response missing id", crawl.ErrEngineUnavailable)
	}
	return resp.ID, nil
}

// Poll fetches the engine's view of a crawl and normalizes it. Pagination
// (the engine's next links) is followed here, so callers see at most one
// outcome per poll with all currently available pages.
func (c *Client) Poll(ctx context.Context, engineJobRef string) (crawl.Outcome, error) {
	next := c.baseURL + "/v1/crawl/" + url.PathEscape(engineJobRef)
	var (
		pages  []crawl.Page
		status string
		reason string
	)
	for i := 0; next != "" && i < maxFollowPages; i++ {
		var resp statusResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &resp); err != nil {
			return crawl.Outcome{}, err
		}
		status = resp.Status
		reason = resp.Error
		for _, p := range resp.Data {
			if p.Metadata.SourceURL == "" {
				return crawl.Outcome{}, fmt.Errorf("%w: page missing source url", crawl.ErrEngineUnavailable)
			}
			pages = append(pages, crawl.Page{
				URL:   p.Metadata.SourceURL,
				Title: p.Metadata.Title,
				Text:  p.Markdown,
			})
		}
		next = resp.Next
	}
	if next != "" {
		// A truncated page set must never settle a job; surface the
		// overrun as retryable so the next tick can try again.
		return crawl.Outcome{}, fmt.Errorf("%w: pagination exceeded %d pages", crawl.ErrEngineUnavailable, maxFollowPages)
	}

	switch status {
	case "completed":
		return crawl.Outcome{State: crawl.OutcomeDone, Pages: pages}, nil
	case "failed", "cancelled":
		if reason == "" {
			reason = "engine reported " + status
		}
		return crawl.Outcome{State: crawl.OutcomeFailed, Reason: reason}, nil
	case "scraping", "pending", "queued":
		if len(pages) > 0 {
			return crawl.Outcome{State: crawl.OutcomePageBatch, Pages: pages}, nil
		}
		return crawl.Outcome{State: crawl.OutcomePending}, nil
	default:
		return crawl.Outcome{}, fmt.Errorf("%w: unknown engine status %q", crawl.ErrEngineUnavailable, status)
	}
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", crawl.ErrEngineUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: engine returned %d", crawl.ErrEngineUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode engine response: %v", crawl.ErrEngineUnavailable, err)
	}
	return nil
}
