package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/provider-cascade/internal/adapter/observability"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	obsctx "github.com/fairyhunter13/provider-cascade/internal/observability"
)

// MaxAttemptCap bounds the attempt budget regardless of candidate count.
const MaxAttemptCap = 5

// CascadeConfig carries the tunable knobs of a cascade.
type CascadeConfig struct {
	// MaxAttempts bounds attempts per execute call. Zero means "as many
	// as there are candidates", capped at MaxAttemptCap either way.
	MaxAttempts int
	// OverallTimeout is the elapsed-time ceiling checked between
	// attempts. Zero disables the check; in-flight invokes are never
	// preempted by the cascade.
	OverallTimeout time.Duration
	// AllowDegradedAccept returns the best quality-rejected result,
	// flagged degraded, when no candidate passes the gate.
	AllowDegradedAccept bool
}

// Cascade orchestrates the ordered attempt sequence for one capability:
// select candidates, invoke each at most once, gate the raw output, and
// report outcomes to the health tracker. Safe for concurrent use.
type Cascade struct {
	selector *Selector
	health   *Tracker
	gate     domain.Gate
	cfg      CascadeConfig
	now      func() time.Time
	tracer   trace.Tracer
}

// NewCascade wires a cascade over its three collaborators.
func NewCascade(selector *Selector, health *Tracker, gate domain.Gate, cfg CascadeConfig) *Cascade {
	c := &Cascade{
		selector: selector,
		health:   health,
		gate:     gate,
		cfg:      cfg,
		now:      time.Now,
		tracer:   otel.Tracer("engine/cascade"),
	}
	return c
}

// withClock injects a clock for deterministic timeout tests.
func (c *Cascade) withClock(now func() time.Time) *Cascade {
	c.now = now
	return c
}

// Execute runs the fallback cascade for a capability. Callers get either an
// accepted ValidatedResult (possibly degraded) or a typed terminal error;
// per-attempt errors are absorbed here and never surface individually. The
// engine fabricates no placeholder content on exhaustion.
func (c *Cascade) Execute(ctx context.Context, cap domain.Capability, invoke domain.InvokeFunc) (domain.ValidatedResult, error) {
	runID := uuid.NewString()
	lg := obsctx.LoggerFromContext(ctx).With(
		slog.String("cascade_id", runID),
		slog.String("capability", string(cap)))

	ctx, span := c.tracer.Start(ctx, "cascade.execute",
		trace.WithAttributes(attribute.String("capability", string(cap))))
	defer span.End()

	candidates, err := c.selector.Select(cap)
	if err != nil {
		return domain.ValidatedResult{}, fmt.Errorf("op=cascade.Execute: %w", err)
	}
	if len(candidates) == 0 {
		// Registered but nothing attemptable even after the failsafe;
		// treat as exhaustion with an empty trail.
		observability.CascadesTotal.WithLabelValues(string(cap), "exhausted").Inc()
		return domain.ValidatedResult{}, &domain.ExhaustedError{Capability: cap}
	}

	budget := c.cfg.MaxAttempts
	if budget <= 0 || budget > len(candidates) {
		budget = len(candidates)
	}
	if budget > MaxAttemptCap {
		budget = MaxAttemptCap
	}

	start := c.now()
	attempts := make([]domain.Attempt, 0, budget)
	var bestRejected *domain.ValidatedResult

	for i := 0; i < budget; i++ {
		p := candidates[i]
		if c.cfg.OverallTimeout > 0 && c.now().Sub(start) >= c.cfg.OverallTimeout {
			lg.Warn("cascade timeout exhausted",
				slog.Int("attempts", len(attempts)),
				slog.Duration("elapsed", c.now().Sub(start)),
				slog.Duration("overall_timeout", c.cfg.OverallTimeout))
			observability.CascadesTotal.WithLabelValues(string(cap), "timeout").Inc()
			return domain.ValidatedResult{}, &domain.ExhaustedError{Capability: cap, Attempts: attempts, Timeout: true}
		}

		attempt := c.attempt(ctx, lg, cap, p, invoke)
		attempts = append(attempts, attempt.Attempt)
		observability.AttemptsTotal.WithLabelValues(string(cap), p.ID, string(attempt.Outcome)).Inc()
		observability.AttemptDuration.WithLabelValues(string(cap), p.ID).Observe(attempt.Latency.Seconds())

		switch attempt.Outcome {
		case domain.OutcomeSuccess:
			c.health.RecordSuccess(p.ID)
			res := *attempt.result
			res.Attempts = attempts
			res.TotalLatency = c.now().Sub(start)
			lg.Info("cascade succeeded",
				slog.String("provider", p.ID),
				slog.Int("attempts", len(attempts)),
				slog.Int("quality", res.Quality),
				slog.Duration("total_latency", res.TotalLatency))
			observability.CascadesTotal.WithLabelValues(string(cap), "success").Inc()
			observability.QualityScore.WithLabelValues(string(cap)).Observe(float64(res.Quality))
			return res, nil
		case domain.OutcomeInvokeFailure:
			c.health.RecordFailure(p.ID, fmt.Errorf("%s: %w", attempt.Err, domain.ErrInvoke))
		case domain.OutcomeQualityRejected:
			// Tracked separately; a reachable but low-quality provider
			// keeps its health untouched.
			if c.cfg.AllowDegradedAccept {
				if bestRejected == nil || attempt.result.Quality > bestRejected.Quality {
					bestRejected = attempt.result
				}
			}
		}
	}

	if c.cfg.AllowDegradedAccept && bestRejected != nil {
		res := *bestRejected
		res.Degraded = true
		res.Attempts = attempts
		res.TotalLatency = c.now().Sub(start)
		lg.Warn("cascade accepting degraded result",
			slog.String("provider", res.ProviderID),
			slog.Int("quality", res.Quality),
			slog.Int("attempts", len(attempts)))
		observability.CascadesTotal.WithLabelValues(string(cap), "degraded").Inc()
		return res, nil
	}

	lg.Warn("cascade exhausted", slog.Int("attempts", len(attempts)))
	observability.CascadesTotal.WithLabelValues(string(cap), "exhausted").Inc()
	return domain.ValidatedResult{}, &domain.ExhaustedError{Capability: cap, Attempts: attempts}
}

// cascadeAttempt extends the domain attempt with the candidate result so the
// degraded-accept path can keep the best rejected payload.
type cascadeAttempt struct {
	domain.Attempt
	result *domain.ValidatedResult
}

// attempt invokes a single provider and gates its output.
func (c *Cascade) attempt(ctx context.Context, lg *slog.Logger, cap domain.Capability, p domain.Provider, invoke domain.InvokeFunc) cascadeAttempt {
	ctx, span := c.tracer.Start(ctx, "cascade.attempt",
		trace.WithAttributes(
			attribute.String("provider", p.ID),
			attribute.String("model", p.Model)))
	defer span.End()

	lg.Debug("attempting provider",
		slog.String("provider", p.ID),
		slog.String("model", p.Model),
		slog.Int("priority", p.Priority))

	invokeStart := c.now()
	raw, err := invoke(ctx, p)
	latency := c.now().Sub(invokeStart)
	if err != nil {
		lg.Warn("provider invocation failed",
			slog.String("provider", p.ID),
			slog.Duration("latency", latency),
			slog.Any("error", err))
		return cascadeAttempt{Attempt: domain.Attempt{
			ProviderID: p.ID,
			Outcome:    domain.OutcomeInvokeFailure,
			Err:        err.Error(),
			Latency:    latency,
		}}
	}

	report := c.gate.Validate(ctx, raw, cap)
	result := &domain.ValidatedResult{
		Payload:    raw,
		Quality:    report.Score,
		ProviderID: p.ID,
	}
	if !report.Accepted {
		lg.Info("output rejected by quality gate",
			slog.String("provider", p.ID),
			slog.Int("score", report.Score),
			slog.Any("failed_checks", report.FailedChecks))
		return cascadeAttempt{
			Attempt: domain.Attempt{
				ProviderID: p.ID,
				Outcome:    domain.OutcomeQualityRejected,
				Err:        domain.ErrQualityRejected.Error(),
				Latency:    latency,
			},
			result: result,
		}
	}
	return cascadeAttempt{
		Attempt: domain.Attempt{
			ProviderID: p.ID,
			Outcome:    domain.OutcomeSuccess,
			Latency:    latency,
		},
		result: result,
	}
}
