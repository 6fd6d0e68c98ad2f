package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fairyhunter13/provider-cascade/internal/adapter/extract"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/textgen"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/websearch"
	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	"github.com/fairyhunter13/provider-cascade/internal/engine"
)

// Server bundles the per-capability cascades and their invoke adapters.
type Server struct {
	Cfg       config.Config
	Registry  *engine.Registry
	Health    *engine.Tracker
	TextGen   *engine.Cascade
	Search    *engine.Cascade
	Extract   *engine.CachedCascade
	TGClient  *textgen.Client
	WSClient  *websearch.Client
	Extractor *extract.Extractor
}

// NewServer constructs the handler set.
func NewServer(cfg config.Config, reg *engine.Registry, health *engine.Tracker,
	textGen, search *engine.Cascade, extractC *engine.CachedCascade,
	tg *textgen.Client, ws *websearch.Client, ex *extract.Extractor) *Server {
	return &Server{
		Cfg:       cfg,
		Registry:  reg,
		Health:    health,
		TextGen:   textGen,
		Search:    search,
		Extract:   extractC,
		TGClient:  tg,
		WSClient:  ws,
		Extractor: ex,
	}
}

// resultResponse is a ValidatedResult shaped for JSON responses.
type resultResponse struct {
	Payload      string        `json:"payload"`
	Quality      int           `json:"quality"`
	Provider     string        `json:"provider"`
	Attempts     []attemptView `json:"attempts"`
	TotalLatency string        `json:"total_latency"`
	Degraded     bool          `json:"degraded"`
}

type attemptView struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
	Latency  string `json:"latency"`
}

func toResponse(res domain.ValidatedResult) resultResponse {
	attempts := make([]attemptView, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		attempts = append(attempts, attemptView{
			Provider: a.ProviderID,
			Outcome:  string(a.Outcome),
			Error:    a.Err,
			Latency:  a.Latency.Round(time.Millisecond).String(),
		})
	}
	return resultResponse{
		Payload:      res.Payload,
		Quality:      res.Quality,
		Provider:     res.ProviderID,
		Attempts:     attempts,
		TotalLatency: res.TotalLatency.Round(time.Millisecond).String(),
		Degraded:     res.Degraded,
	}
}

// exhaustionDetails extracts the attempt trail from a terminal cascade error
// so callers can see what was tried.
func exhaustionDetails(err error) interface{} {
	var ex *domain.ExhaustedError
	if !errors.As(err, &ex) {
		return nil
	}
	attempts := make([]attemptView, 0, len(ex.Attempts))
	for _, a := range ex.Attempts {
		attempts = append(attempts, attemptView{
			Provider: a.ProviderID,
			Outcome:  string(a.Outcome),
			Error:    a.Err,
			Latency:  a.Latency.Round(time.Millisecond).String(),
		})
	}
	return map[string]interface{}{"attempts": attempts}
}

// GenerateHandler runs the text-generation cascade for a prompt pair.
func (s *Server) GenerateHandler() http.HandlerFunc {
	type request struct {
		SystemPrompt string `json:"system_prompt"`
		UserPrompt   string `json:"user_prompt"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserPrompt) == "" {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "user_prompt is required"}})
			return
		}
		res, err := s.TextGen.Execute(r.Context(), domain.CapTextGeneration, s.TGClient.InvokeFunc(req.SystemPrompt, req.UserPrompt))
		if err != nil {
			writeError(w, r, err, exhaustionDetails(err))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res))
	}
}

// SearchHandler runs the web-search cascade for a query.
func (s *Server) SearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "q is required"}})
			return
		}
		res, err := s.Search.Execute(r.Context(), domain.CapWebSearch, s.WSClient.InvokeFunc(q))
		if err != nil {
			writeError(w, r, err, exhaustionDetails(err))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res))
	}
}

// ExtractHandler runs the cached content-extraction cascade for a URL.
func (s *Server) ExtractHandler() http.HandlerFunc {
	type request struct {
		URL string `json:"url"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "url is required"}})
			return
		}
		u, err := url.ParseRequestURI(strings.TrimSpace(req.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "url must be absolute http(s)"}})
			return
		}
		res, err := s.Extract.Execute(r.Context(), domain.CapContentExtraction, extract.Fingerprint(u.String()), s.Extractor.InvokeFunc(u.String()))
		if err != nil {
			writeError(w, r, err, exhaustionDetails(err))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res))
	}
}

// ProvidersHandler returns the health snapshot of every registered provider.
func (s *Server) ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Health.SnapshotAll())
	}
}

// ReadyzHandler reports readiness: at least one provider registered.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.Registry.All()) == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no providers registered"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
