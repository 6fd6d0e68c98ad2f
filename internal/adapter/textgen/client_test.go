package textgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		TextGenBaseURL:     baseURL,
		TextGenAPIKey:      "sk-test",
		TextGenTimeout:     5 * time.Second,
		TextGenMaxTokens:   256,
		TextGenBackoffBase: 10 * time.Millisecond,
		TextGenBackoffMax:  200 * time.Millisecond,
	}
}

func textgenProvider() domain.Provider {
	return domain.Provider{
		ID:          "openrouter-primary",
		Capability:  domain.CapTextGeneration,
		Priority:    1,
		Model:       "meta-llama/llama-3-8b",
		BaseQuality: 0.85,
		MaxFailures: 3,
	}
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func TestClient_Chat(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "meta-llama/llama-3-8b", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("generated text")))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	invoke := c.InvokeFunc("be helpful", "summarize this")
	out, err := invoke(context.Background(), textgenProvider())
	require.NoError(t, err)
	assert.Equal(t, "generated text", out)
}

func TestClient_MissingAPIKey(t *testing.T) {
	t.Parallel()
	cfg := testConfig("http://localhost:0")
	cfg.TextGenAPIKey = ""
	c := New(cfg)

	_, err := c.InvokeFunc("s", "u")(context.Background(), textgenProvider())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.InvokeFunc("s", "u")(context.Background(), textgenProvider())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestClient_ServerErrorRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(completionBody("recovered")))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	out, err := c.InvokeFunc("s", "u")(context.Background(), textgenProvider())
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestClient_RateLimitRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(completionBody("after 429")))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	out, err := c.InvokeFunc("s", "u")(context.Background(), textgenProvider())
	require.NoError(t, err)
	assert.Equal(t, "after 429", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_EmptyChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.InvokeFunc("s", "u")(context.Background(), textgenProvider())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}
