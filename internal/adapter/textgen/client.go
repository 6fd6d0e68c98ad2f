// Package textgen is the text-generation call site: an OpenAI-compatible
// chat completions client that supplies InvokeFuncs to the cascade.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	obsctx "github.com/fairyhunter13/provider-cascade/internal/observability"
)

// Client calls an OpenAI-compatible chat completions endpoint. The
// provider's Model field selects the backend model per attempt.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a text-generation client with the configured timeout and
// an otelhttp transport so outbound calls join the cascade trace.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("TextGen %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.TextGenTimeout, Transport: transport},
	}
}

// InvokeFunc returns the cascade invoke function for one prompt pair. Each
// attempt is retried with exponential backoff on transient failures; 4xx
// responses other than 429 are permanent.
func (c *Client) InvokeFunc(systemPrompt, userPrompt string) domain.InvokeFunc {
	return func(ctx context.Context, p domain.Provider) (string, error) {
		return c.chat(ctx, p, systemPrompt, userPrompt)
	}
}

func (c *Client) chat(ctx context.Context, p domain.Provider, systemPrompt, userPrompt string) (string, error) {
	if c.cfg.TextGenAPIKey == "" {
		return "", fmt.Errorf("op=textgen.chat: TEXTGEN_API_KEY missing: %w", domain.ErrConfig)
	}
	lg := obsctx.LoggerFromContext(ctx)

	body := map[string]any{
		"model":       p.Model,
		"temperature": 0.2,
		"max_tokens":  c.cfg.TextGenMaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("op=textgen.chat: marshal request: %w", err)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	op := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TextGenBaseURL+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.TextGenAPIKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		lg.Debug("chat completion response",
			slog.String("model", p.Model),
			slog.Int("status", resp.StatusCode),
			slog.Duration("latency", time.Since(start)))

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.TextGenBackoffBase
	expo.MaxElapsedTime = c.cfg.TextGenBackoffMax
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", fmt.Errorf("op=textgen.chat: model %s: %w", p.Model, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=textgen.chat: model %s returned empty choices", p.Model)
	}
	return out.Choices[0].Message.Content, nil
}
