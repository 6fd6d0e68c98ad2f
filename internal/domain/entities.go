// Package domain defines the core entities and ports of the orchestration
// engine: providers, capabilities, attempt records, validated results, and
// the error taxonomy shared by every layer.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	// ErrConfig indicates invalid startup configuration; never recovered at runtime.
	ErrConfig = errors.New("invalid configuration")
	// ErrNotFound indicates a lookup for an unknown provider id.
	ErrNotFound = errors.New("provider not found")
	// ErrInvoke indicates a provider invocation failed; recovered by advancing the cascade.
	ErrInvoke = errors.New("provider invocation failed")
	// ErrQualityRejected indicates raw output failed the quality gate; recovered by advancing the cascade.
	ErrQualityRejected = errors.New("output rejected by quality gate")
	// ErrNoProviders indicates no provider is registered for a capability.
	ErrNoProviders = errors.New("no providers registered for capability")
	// ErrTimeoutExhausted indicates the overall cascade deadline elapsed between attempts.
	ErrTimeoutExhausted = errors.New("cascade timeout exhausted")
	// ErrAllProvidersExhausted indicates every candidate was attempted without an accepted result.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// Capability is a category of operation satisfiable by multiple providers.
type Capability string

// Built-in capabilities served by the bundled adapters. Callers may define
// their own; the engine treats capabilities as opaque tags.
const (
	CapTextGeneration    Capability = "text-generation"
	CapWebSearch         Capability = "web-search"
	CapContentExtraction Capability = "content-extraction"
)

// Provider describes one interchangeable backend for a capability.
// Immutable after registration.
type Provider struct {
	// ID uniquely identifies the provider within the registry.
	ID string
	// Capability is the category of operation this provider serves.
	Capability Capability
	// Priority orders providers; lower is preferred. Must be >= 1.
	Priority int
	// Model is the backend/model identifier passed to invoke adapters.
	Model string
	// BaseQuality seeds the adaptive quality score, in [0,1].
	BaseQuality float64
	// MaxFailures is the consecutive-failure threshold before the
	// provider is marked unavailable.
	MaxFailures int
}

// ProviderStatus is the health state of a provider.
type ProviderStatus string

// Health states driven by success/failure events and cooldowns.
const (
	StatusAvailable   ProviderStatus = "available"
	StatusDegraded    ProviderStatus = "degraded"
	StatusUnavailable ProviderStatus = "unavailable"
)

// AttemptOutcome classifies a single cascade attempt.
type AttemptOutcome string

// Attempt outcomes. Quality rejections are tracked separately from invoke
// failures and never reported to the health tracker as hard failures.
const (
	OutcomeSuccess         AttemptOutcome = "success"
	OutcomeInvokeFailure   AttemptOutcome = "invoke_failure"
	OutcomeQualityRejected AttemptOutcome = "quality_rejected"
)

// Attempt is the ephemeral per-invocation record kept only for the duration
// of one cascade call and returned on the final result or terminal error.
type Attempt struct {
	ProviderID string
	Outcome    AttemptOutcome
	Err        string
	Latency    time.Duration
}

// ValidatedResult is the accepted output of a cascade.
type ValidatedResult struct {
	// Payload is the raw provider output that passed the quality gate.
	Payload string
	// Quality is the gate score in [0,100].
	Quality int
	// ProviderID identifies the producing provider.
	ProviderID string
	// Attempts is the full attempt trail for this cascade call.
	Attempts []Attempt
	// TotalLatency is the elapsed time across all attempts.
	TotalLatency time.Duration
	// Degraded marks a quality-rejected result accepted because no
	// candidate passed the gate and degraded acceptance was enabled.
	Degraded bool
}

// GateReport is the quality gate verdict for one raw output.
type GateReport struct {
	Accepted     bool
	Score        int
	FailedChecks []string
}

// InvokeFunc performs the actual outbound call against one provider. The
// engine never preempts a running InvokeFunc; per-attempt timeouts are the
// caller's responsibility via the context.
type InvokeFunc func(ctx context.Context, p Provider) (string, error)

// Gate decides whether raw provider output is acceptable.
type Gate interface {
	Validate(ctx context.Context, raw string, cap Capability) GateReport
}

// ExhaustedError is the terminal cascade error carrying the attempt trail.
// It unwraps to ErrTimeoutExhausted or ErrAllProvidersExhausted.
type ExhaustedError struct {
	Capability Capability
	Attempts   []Attempt
	Timeout    bool
}

func (e *ExhaustedError) Error() string {
	if e.Timeout {
		return "cascade timeout exhausted for " + string(e.Capability)
	}
	return "all providers exhausted for " + string(e.Capability)
}

// Unwrap maps the error onto the sentinel taxonomy so callers can use errors.Is.
func (e *ExhaustedError) Unwrap() error {
	if e.Timeout {
		return ErrTimeoutExhausted
	}
	return ErrAllProvidersExhausted
}
