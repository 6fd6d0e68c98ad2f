package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

// Default composite score weights: adaptive quality, configured priority,
// and recent failure pressure.
const (
	DefaultQualityWeight  = 0.4
	DefaultPriorityWeight = 0.3
	DefaultFailureWeight  = 0.3
)

// scoredCandidate pairs a provider with its transient composite score.
type scoredCandidate struct {
	provider domain.Provider
	score    float64
}

// Selector ranks currently-available providers for a capability using a
// composite score over health state. Safe for concurrent use.
type Selector struct {
	reg    *Registry
	health *Tracker

	qualityWeight  float64
	priorityWeight float64
	failureWeight  float64
}

// SelectorOption tunes the score weights per call site.
type SelectorOption func(*Selector)

// WithWeights overrides the quality/priority/failure score weights.
func WithWeights(quality, priority, failure float64) SelectorOption {
	return func(s *Selector) {
		s.qualityWeight = quality
		s.priorityWeight = priority
		s.failureWeight = failure
	}
}

// NewSelector creates a selector over the given registry and tracker.
func NewSelector(reg *Registry, health *Tracker, opts ...SelectorOption) *Selector {
	s := &Selector{
		reg:            reg,
		health:         health,
		qualityWeight:  DefaultQualityWeight,
		priorityWeight: DefaultPriorityWeight,
		failureWeight:  DefaultFailureWeight,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the providers for a capability ordered best-first.
// Unavailable providers are excluded; when every provider is unavailable the
// tracker failsafe resets them so the candidate list is never empty for a
// registered capability. Returns domain.ErrNoProviders when nothing at all
// is registered for the capability.
//
// For identical health-state snapshots the ordering is deterministic: score
// descending, ties broken by priority ascending, then id ascending.
func (s *Selector) Select(cap domain.Capability) ([]domain.Provider, error) {
	ids := s.reg.ListByCapability(cap)
	if len(ids) == 0 {
		return nil, fmt.Errorf("op=selector.Select: capability %s: %w", cap, domain.ErrNoProviders)
	}

	candidates := s.available(ids)
	if len(candidates) == 0 {
		// All unavailable with pending cooldowns; force the failsafe
		// reset and re-filter.
		if s.health.EnsureCandidates(cap) {
			candidates = s.available(ids)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.provider.Priority != b.provider.Priority {
			return a.provider.Priority < b.provider.Priority
		}
		return a.provider.ID < b.provider.ID
	})

	out := make([]domain.Provider, len(candidates))
	for i, c := range candidates {
		out[i] = c.provider
	}
	slog.Debug("providers selected",
		slog.String("capability", string(cap)),
		slog.Int("registered", len(ids)),
		slog.Int("candidates", len(out)))
	return out, nil
}

// available filters the id list down to attemptable providers and scores them.
func (s *Selector) available(ids []string) []scoredCandidate {
	candidates := make([]scoredCandidate, 0, len(ids))
	for _, id := range ids {
		if !s.health.IsAvailable(id) {
			continue
		}
		p, err := s.reg.Get(id)
		if err != nil {
			continue
		}
		quality, consecutive, ok := s.health.scoreInputs(id)
		if !ok {
			continue
		}
		score := s.qualityWeight*quality +
			s.priorityWeight*(1/float64(p.Priority)) +
			s.failureWeight*(1/float64(consecutive+1))
		candidates = append(candidates, scoredCandidate{provider: p, score: score})
	}
	return candidates
}
