package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/provider-cascade/internal/adapter/extract"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/textgen"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/websearch"
	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	"github.com/fairyhunter13/provider-cascade/internal/engine"
	"github.com/fairyhunter13/provider-cascade/internal/quality"
)

// newTestServer wires a full server whose adapters point at the given
// backends. The gate has no bindings, so anything a backend returns is
// accepted at full score.
func newTestServer(t *testing.T, textgenURL, searchURL string) *Server {
	t.Helper()
	cfg := config.Config{
		TextGenBaseURL:     textgenURL,
		TextGenAPIKey:      "sk-test",
		TextGenTimeout:     5 * time.Second,
		TextGenMaxTokens:   128,
		TextGenBackoffBase: 10 * time.Millisecond,
		TextGenBackoffMax:  100 * time.Millisecond,
		SearchBaseURL:      searchURL,
		SearchTimeout:      5 * time.Second,
		ExtractTimeout:     5 * time.Second,
		ExtractUserAgent:   "test/1.0",
		ExtractMaxBody:     1 << 20,
	}

	reg := engine.NewRegistry()
	for _, p := range []domain.Provider{
		{ID: "tg-1", Capability: domain.CapTextGeneration, Priority: 1, Model: "test-model", BaseQuality: 0.9, MaxFailures: 3},
		{ID: "ws-1", Capability: domain.CapWebSearch, Priority: 1, Model: "duckduckgo", BaseQuality: 0.8, MaxFailures: 2},
		{ID: "ex-1", Capability: domain.CapContentExtraction, Priority: 1, Model: extract.StrategyBody, BaseQuality: 0.9, MaxFailures: 2},
	} {
		_, err := reg.Register(p)
		require.NoError(t, err)
	}

	health := engine.NewTracker(reg)
	sel := engine.NewSelector(reg, health)
	gate := quality.NewGate(quality.DefaultThreshold)
	ccfg := engine.CascadeConfig{OverallTimeout: 10 * time.Second}
	cache := engine.NewResultCache(16)

	return NewServer(cfg, reg, health,
		engine.NewCascade(sel, health, gate, ccfg),
		engine.NewCascade(sel, health, gate, ccfg),
		engine.NewCachedCascade(engine.NewCascade(sel, health, gate, ccfg), cache),
		textgen.New(cfg), websearch.New(cfg), extract.New(cfg))
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) resultResponse {
	t.Helper()
	var res resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestGenerateHandler(t *testing.T) {
	t.Parallel()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"generated answer"}}]}`))
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate",
		strings.NewReader(`{"system_prompt":"sys","user_prompt":"hello"}`))
	s.GenerateHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "generated answer", res.Payload)
	assert.Equal(t, "tg-1", res.Provider)
	assert.Equal(t, 100, res.Quality)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, string(domain.OutcomeSuccess), res.Attempts[0].Outcome)
}

func TestGenerateHandler_MissingPrompt(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "http://127.0.0.1:0", "")
	for _, body := range []string{`{}`, `{"user_prompt":"  "}`, `not json`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
		s.GenerateHandler()(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGenerateHandler_BackendDown(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "http://127.0.0.1:1", "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate",
		strings.NewReader(`{"user_prompt":"hello"}`))
	s.GenerateHandler()(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "ALL_PROVIDERS_EXHAUSTED", env.Error.Code)
	assert.NotNil(t, env.Error.Details)
}

func TestSearchHandler(t *testing.T) {
	t.Parallel()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "chi router", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"results":[{"title":"Docs","url":"https://go-chi.io","content":"router"}]}`))
	}))
	defer backend.Close()

	s := newTestServer(t, "", backend.URL)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=chi+router", nil)
	s.SearchHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "ws-1", res.Provider)

	var results []websearch.Result
	require.NoError(t, json.Unmarshal([]byte(res.Payload), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "https://go-chi.io", results[0].URL)
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", "http://127.0.0.1:0")
	rec := httptest.NewRecorder()
	s.SearchHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractHandler(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>Extractable article body text here.</p></body></html>`))
	}))
	defer backend.Close()

	s := newTestServer(t, "", "")
	body := `{"url":"` + backend.URL + `"}`

	rec := httptest.NewRecorder()
	s.ExtractHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/extract", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Contains(t, res.Payload, "Extractable article body text")

	// Second identical request is served from the result cache.
	rec = httptest.NewRecorder()
	s.ExtractHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/extract", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestExtractHandler_InvalidURL(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", "")
	for _, body := range []string{`{}`, `{"url":"not a url"}`, `{"url":"ftp://example.com"}`, `{"url":"/relative"}`} {
		rec := httptest.NewRecorder()
		s.ExtractHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/extract", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestProvidersHandler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.ProvidersHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snaps map[string]engine.ProviderHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 3)
	assert.Equal(t, domain.StatusAvailable, snaps["tg-1"].Status)
}

func TestReadyzHandler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	empty := &Server{Registry: engine.NewRegistry()}
	rec = httptest.NewRecorder()
	empty.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
