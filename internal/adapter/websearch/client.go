// Package websearch is the web-search call site: a SearxNG-style JSON
// search client that supplies InvokeFuncs to the cascade. Provider Model
// values name the upstream engine to query.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	obsctx "github.com/fairyhunter13/provider-cascade/internal/observability"
)

// Result is one search hit in the adapter's normalized output.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Client queries a SearxNG-compatible JSON search API.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a web-search client with the configured timeout.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.SearchTimeout},
	}
}

// InvokeFunc returns the cascade invoke function for one query. The raw
// output handed to the quality gate is the normalized result list as a JSON
// array.
func (c *Client) InvokeFunc(query string) domain.InvokeFunc {
	return func(ctx context.Context, p domain.Provider) (string, error) {
		return c.search(ctx, p, query)
	}
}

func (c *Client) search(ctx context.Context, p domain.Provider, query string) (string, error) {
	lg := obsctx.LoggerFromContext(ctx)

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	if p.Model != "" {
		q.Set("engines", p.Model)
	}
	endpoint := c.cfg.SearchBaseURL + "/search?" + q.Encode()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("op=websearch.search: new request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=websearch.search: engine %s: %w", p.Model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=websearch.search: engine %s status %d", p.Model, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=websearch.search: read body: %w", err)
	}

	var upstream struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &upstream); err != nil {
		return "", fmt.Errorf("op=websearch.search: decode response: %w", err)
	}

	results := make([]Result, 0, len(upstream.Results))
	for _, r := range upstream.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	lg.Debug("search completed",
		slog.String("engine", p.Model),
		slog.Int("results", len(results)),
		slog.Duration("latency", time.Since(start)))

	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("op=websearch.search: marshal results: %w", err)
	}
	return string(out), nil
}
