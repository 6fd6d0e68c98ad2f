package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

func defaultTestConfig() config.Config {
	return config.Config{
		QualityThreshold:      50,
		HealthCooldown:        600 * time.Second,
		CascadeOverallTimeout: 60 * time.Second,
		CacheMaxEntries:       100,
	}
}

func TestBuildEngine(t *testing.T) {
	t.Parallel()
	eng, err := BuildEngine(defaultTestConfig(), []domain.Provider{
		{ID: "tg-1", Capability: domain.CapTextGeneration, Priority: 1, Model: "m", BaseQuality: 0.9, MaxFailures: 3},
		{ID: "ws-1", Capability: domain.CapWebSearch, Priority: 1, Model: "d", BaseQuality: 0.8, MaxFailures: 2},
	})
	require.NoError(t, err)

	assert.Len(t, eng.Registry.All(), 2)
	assert.NotNil(t, eng.TextGen)
	assert.NotNil(t, eng.Search)
	assert.NotNil(t, eng.Extract)

	snap, err := eng.Health.Snapshot("tg-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, snap.Status)
}

func TestBuildEngine_InvalidProvider(t *testing.T) {
	t.Parallel()
	_, err := BuildEngine(defaultTestConfig(), []domain.Provider{
		{ID: "", Capability: domain.CapWebSearch, Priority: 1, MaxFailures: 2},
	})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestBuildGate_TextGeneration(t *testing.T) {
	t.Parallel()
	gate := BuildGate(defaultTestConfig())

	// A substantial, diverse JSON answer passes.
	good := `{"summary": "The cascade pattern routes each request through ranked providers, falling back whenever invocation fails or output quality drops below threshold, keeping overall availability high across flaky upstream services and transient network conditions."}`
	report := gate.Validate(context.Background(), good, domain.CapTextGeneration)
	assert.True(t, report.Accepted, "score %d, failed %v", report.Score, report.FailedChecks)

	// A refusal fails the marker check and loses length points.
	refusal := `I cannot assist with that request.`
	report = gate.Validate(context.Background(), refusal, domain.CapTextGeneration)
	assert.False(t, report.Accepted)
	assert.Contains(t, report.FailedChecks, "refusal_markers")
}

func TestBuildGate_WebSearch(t *testing.T) {
	t.Parallel()
	gate := BuildGate(defaultTestConfig())

	good := `[{"title":"Go blog","url":"https://go.dev/blog","snippet":"release notes"},` +
		`{"title":"Chi router","url":"https://go-chi.io","snippet":"lightweight router"},` +
		`{"title":"Testify","url":"https://github.com/stretchr/testify","snippet":"assertions"}]`
	report := gate.Validate(context.Background(), good, domain.CapWebSearch)
	assert.True(t, report.Accepted, "score %d, failed %v", report.Score, report.FailedChecks)

	report = gate.Validate(context.Background(), `[]`, domain.CapWebSearch)
	assert.False(t, report.Accepted)
}

func TestBuildGate_ContentExtraction(t *testing.T) {
	t.Parallel()
	gate := BuildGate(defaultTestConfig())

	good := strings.Repeat("Each sentence in this extracted article contributes different vocabulary and holds genuine prose content. ", 16)
	report := gate.Validate(context.Background(), good, domain.CapContentExtraction)
	assert.True(t, report.Accepted, "score %d, failed %v", report.Score, report.FailedChecks)

	errorPage := "<html><body>404 Not Found</body></html>"
	report = gate.Validate(context.Background(), errorPage, domain.CapContentExtraction)
	assert.False(t, report.Accepted)
}
