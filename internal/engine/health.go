package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/provider-cascade/internal/adapter/observability"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

// DefaultCooldown is how long an unavailable provider sits out before an
// optimistic reset is allowed.
const DefaultCooldown = 600 * time.Second

// Quality score EWMA parameters. The score moves toward qualityCeiling on
// success and toward zero on failure, so it provably stays in
// [0, qualityCeiling] for any event sequence.
const (
	qualityCeiling = 0.99
	upGain         = 0.01
	downGain       = 0.02
)

// providerState is the mutable health record for one provider. All access
// goes through Tracker's lock.
type providerState struct {
	provider      domain.Provider
	status        domain.ProviderStatus
	consecutive   int
	totalErrors   int
	lastSuccess   time.Time
	lastFailure   time.Time
	cooldownUntil time.Time
	quality       float64
}

// ProviderHealth is an immutable snapshot of one provider's health, exposed
// on status surfaces and structured logs.
type ProviderHealth struct {
	ProviderID          string                `json:"provider_id"`
	Capability          domain.Capability     `json:"capability"`
	Status              domain.ProviderStatus `json:"status"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	TotalErrors         int                   `json:"total_errors"`
	LastSuccess         time.Time             `json:"last_success"`
	LastFailure         time.Time             `json:"last_failure"`
	CooldownUntil       time.Time             `json:"cooldown_until"`
	QualityScore        float64               `json:"quality_score"`
}

// Tracker owns per-provider health state for the process lifetime. It is
// safe for concurrent use by any number of cascades.
type Tracker struct {
	mu       sync.RWMutex
	states   map[string]*providerState
	byCap    map[domain.Capability][]string
	cooldown time.Duration
	now      func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithCooldown overrides the unavailable-provider cooldown duration.
func WithCooldown(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

// WithClock injects a clock; tests use this for deterministic cooldowns.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker seeded with every provider in the registry.
// Providers start Available with their configured base quality.
func NewTracker(reg *Registry, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		states:   make(map[string]*providerState),
		byCap:    make(map[domain.Capability][]string),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, p := range reg.All() {
		t.states[p.ID] = &providerState{
			provider: p,
			status:   domain.StatusAvailable,
			quality:  p.BaseQuality,
		}
		t.byCap[p.Capability] = append(t.byCap[p.Capability], p.ID)
	}
	return t
}

// RecordSuccess resets the consecutive-failure count, returns the provider
// to Available, and nudges the quality score upward.
func (t *Tracker) RecordSuccess(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return
	}
	prev := st.status
	st.consecutive = 0
	st.status = domain.StatusAvailable
	st.lastSuccess = t.now()
	st.cooldownUntil = time.Time{}
	st.quality = ewmaUp(st.quality)
	if prev != domain.StatusAvailable {
		observability.HealthTransitionsTotal.WithLabelValues(id, string(domain.StatusAvailable)).Inc()
		slog.Info("provider recovered",
			slog.String("provider", id),
			slog.String("previous_status", string(prev)),
			slog.Float64("quality_score", st.quality))
	}
}

// RecordFailure bumps the failure counters and degrades the provider; at
// the configured threshold the provider becomes Unavailable and enters
// cooldown. Quality-gate rejections must not be reported here.
func (t *Tracker) RecordFailure(id string, reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return
	}
	st.consecutive++
	st.totalErrors++
	st.lastFailure = t.now()
	st.quality = ewmaDown(st.quality)
	if st.consecutive >= st.provider.MaxFailures {
		st.status = domain.StatusUnavailable
		st.cooldownUntil = t.now().Add(t.cooldown)
		observability.HealthTransitionsTotal.WithLabelValues(id, string(domain.StatusUnavailable)).Inc()
		slog.Warn("provider marked unavailable",
			slog.String("provider", id),
			slog.Int("consecutive_failures", st.consecutive),
			slog.Int("threshold", st.provider.MaxFailures),
			slog.Time("cooldown_until", st.cooldownUntil),
			slog.Any("error", reason))
		return
	}
	st.status = domain.StatusDegraded
	observability.HealthTransitionsTotal.WithLabelValues(id, string(domain.StatusDegraded)).Inc()
	slog.Warn("provider degraded",
		slog.String("provider", id),
		slog.Int("consecutive_failures", st.consecutive),
		slog.Int("threshold", st.provider.MaxFailures),
		slog.Any("error", reason))
}

// IsAvailable reports whether the provider may be attempted. An unavailable
// provider whose cooldown has elapsed is optimistically reset to Available.
func (t *Tracker) IsAvailable(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return false
	}
	if st.status == domain.StatusUnavailable {
		if !t.now().Before(st.cooldownUntil) {
			st.status = domain.StatusAvailable
			st.consecutive = 0
			st.cooldownUntil = time.Time{}
			slog.Info("provider cooldown elapsed, optimistic reset",
				slog.String("provider", id))
			return true
		}
		return false
	}
	return true
}

// EnsureCandidates applies the availability failsafe: when every provider of
// a capability is Unavailable with its cooldown still pending, all of them
// are force reset to Available so a cascade always has at least one
// candidate. The reset fires at most once per collapse because it leaves
// everything Available; re-arming requires fresh failures. Returns true when
// the failsafe fired. This is a deliberate availability-over-correctness
// tradeoff.
func (t *Tracker) EnsureCandidates(cap domain.Capability) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.byCap[cap]
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		st := t.states[id]
		if st.status != domain.StatusUnavailable || !t.now().Before(st.cooldownUntil) {
			return false
		}
	}
	for _, id := range ids {
		st := t.states[id]
		st.status = domain.StatusAvailable
		st.consecutive = 0
		st.cooldownUntil = time.Time{}
	}
	observability.FailsafeActivationsTotal.WithLabelValues(string(cap)).Inc()
	slog.Warn("degraded mode activated: all providers unavailable, forced reset",
		slog.String("capability", string(cap)),
		slog.Int("providers", len(ids)))
	return true
}

// Snapshot returns the current health of one provider.
func (t *Tracker) Snapshot(id string) (ProviderHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return ProviderHealth{}, fmt.Errorf("op=tracker.Snapshot: id %s: %w", id, domain.ErrNotFound)
	}
	return snapshotLocked(st), nil
}

// SnapshotAll returns the health of every tracked provider, keyed by id.
func (t *Tracker) SnapshotAll() map[string]ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ProviderHealth, len(t.states))
	for id, st := range t.states {
		out[id] = snapshotLocked(st)
	}
	return out
}

func snapshotLocked(st *providerState) ProviderHealth {
	return ProviderHealth{
		ProviderID:          st.provider.ID,
		Capability:          st.provider.Capability,
		Status:              st.status,
		ConsecutiveFailures: st.consecutive,
		TotalErrors:         st.totalErrors,
		LastSuccess:         st.lastSuccess,
		LastFailure:         st.lastFailure,
		CooldownUntil:       st.cooldownUntil,
		QualityScore:        st.quality,
	}
}

// quality returns selector inputs under a read lock.
func (t *Tracker) scoreInputs(id string) (quality float64, consecutive int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, found := t.states[id]
	if !found {
		return 0, 0, false
	}
	return st.quality, st.consecutive, true
}

// ewmaUp moves q toward the ceiling with a small gain. Equivalent to the
// classic "multiply by ~1.01, cap at 0.99" reputation bump but with bounds
// that hold by construction.
func ewmaUp(q float64) float64 {
	return q + upGain*(qualityCeiling-q)
}

// ewmaDown decays q toward zero; equivalent to multiplying by ~0.98.
func ewmaDown(q float64) float64 {
	return q - downGain*q
}
