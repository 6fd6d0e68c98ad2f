// Package quality implements the pluggable quality gate: capability-specific
// validators with bounded point contributions whose sum decides whether raw
// provider output is accepted.
package quality

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/provider-cascade/internal/domain"
	obsctx "github.com/fairyhunter13/provider-cascade/internal/observability"
)

// DefaultThreshold is the minimum 0-100 score for acceptance.
const DefaultThreshold = 50

// Validator scores one aspect of raw output with a bounded contribution.
type Validator interface {
	// Name identifies the check in failure reports.
	Name() string
	// MaxPoints is the bounded contribution of this check.
	MaxPoints() int
	// Check awards points in [0, MaxPoints] and reports whether the
	// check passed.
	Check(raw string) (points int, passed bool)
}

// Gate validates raw provider output against the validators bound to a
// capability. Which validators apply to which capability is configuration
// supplied via Bind, not hardcoded. Safe for concurrent use; bindings are
// expected to be set up before cascades run.
type Gate struct {
	mu        sync.RWMutex
	threshold int
	bindings  map[domain.Capability][]Validator
}

// NewGate creates a gate with the given acceptance threshold (0-100).
// Out-of-range thresholds fall back to DefaultThreshold.
func NewGate(threshold int) *Gate {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	return &Gate{
		threshold: threshold,
		bindings:  make(map[domain.Capability][]Validator),
	}
}

// Bind attaches validators to a capability, appending to any already bound.
func (g *Gate) Bind(cap domain.Capability, vs ...Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bindings[cap] = append(g.bindings[cap], vs...)
}

// Validate scores raw output with the capability's validators. The score is
// the awarded share of the total available points normalized to 0-100;
// accepted means score >= threshold. A capability with no bound validators
// accepts everything at full score.
func (g *Gate) Validate(ctx context.Context, raw string, cap domain.Capability) domain.GateReport {
	g.mu.RLock()
	vs := g.bindings[cap]
	threshold := g.threshold
	g.mu.RUnlock()

	if len(vs) == 0 {
		return domain.GateReport{Accepted: true, Score: 100}
	}

	totalMax := 0
	awarded := 0
	var failed []string
	for _, v := range vs {
		totalMax += v.MaxPoints()
		points, passed := v.Check(raw)
		if points < 0 {
			points = 0
		}
		if points > v.MaxPoints() {
			points = v.MaxPoints()
		}
		awarded += points
		if !passed {
			failed = append(failed, v.Name())
		}
	}

	score := 0
	if totalMax > 0 {
		score = awarded * 100 / totalMax
	}
	report := domain.GateReport{
		Accepted:     score >= threshold,
		Score:        score,
		FailedChecks: failed,
	}
	obsctx.LoggerFromContext(ctx).Debug("quality gate verdict",
		slog.String("capability", string(cap)),
		slog.Int("score", score),
		slog.Int("threshold", threshold),
		slog.Bool("accepted", report.Accepted),
		slog.Any("failed_checks", failed))
	return report
}
