package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testRegistry(t *testing.T, providers ...domain.Provider) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, p := range providers {
		_, err := reg.Register(p)
		require.NoError(t, err)
	}
	return reg
}

func provider(id string, priority int) domain.Provider {
	return domain.Provider{
		ID:          id,
		Capability:  domain.CapWebSearch,
		Priority:    priority,
		Model:       "engine-" + id,
		BaseQuality: 0.8,
		MaxFailures: 2,
	}
}

func TestTracker_FailureThreshold(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, provider("p1", 1))
	tr := NewTracker(reg, WithClock(clock.Now))

	require.True(t, tr.IsAvailable("p1"))

	tr.RecordFailure("p1", errors.New("boom"))
	assert.True(t, tr.IsAvailable("p1"), "degraded providers are still attemptable")
	snap, err := tr.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDegraded, snap.Status)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	tr.RecordFailure("p1", errors.New("boom"))
	assert.False(t, tr.IsAvailable("p1"))
	snap, err = tr.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnavailable, snap.Status)
	assert.Equal(t, 2, snap.TotalErrors)
	assert.Equal(t, clock.Now().Add(DefaultCooldown), snap.CooldownUntil)
}

func TestTracker_CooldownOptimisticReset(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, provider("p1", 1))
	tr := NewTracker(reg, WithClock(clock.Now), WithCooldown(10*time.Minute))

	tr.RecordFailure("p1", errors.New("boom"))
	tr.RecordFailure("p1", errors.New("boom"))
	require.False(t, tr.IsAvailable("p1"))

	clock.Advance(9 * time.Minute)
	assert.False(t, tr.IsAvailable("p1"), "cooldown not yet elapsed")

	clock.Advance(1 * time.Minute)
	assert.True(t, tr.IsAvailable("p1"), "cooldown elapsed resets optimistically")
	snap, err := tr.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestTracker_SuccessResetsConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, provider("p1", 1))
	tr := NewTracker(reg, WithClock(clock.Now))

	tr.RecordFailure("p1", errors.New("boom"))
	tr.RecordSuccess("p1")

	snap, err := tr.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 1, snap.TotalErrors, "total errors are cumulative")
	assert.Equal(t, clock.Now(), snap.LastSuccess)
}

func TestTracker_QualityEWMA(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, provider("p1", 1))
	tr := NewTracker(reg, WithClock(clock.Now))

	snap, err := tr.Snapshot("p1")
	require.NoError(t, err)
	start := snap.QualityScore
	assert.InDelta(t, 0.8, start, 1e-9)

	tr.RecordSuccess("p1")
	snap, _ = tr.Snapshot("p1")
	assert.Greater(t, snap.QualityScore, start)
	assert.LessOrEqual(t, snap.QualityScore, qualityCeiling)

	beforeFailure := snap.QualityScore
	tr.RecordFailure("p1", errors.New("boom"))
	snap, _ = tr.Snapshot("p1")
	assert.Less(t, snap.QualityScore, beforeFailure)
	assert.GreaterOrEqual(t, snap.QualityScore, 0.0)
}

func TestTracker_QualityBoundsUnderRepeatedEvents(t *testing.T) {
	reg := testRegistry(t, provider("p1", 1))
	tr := NewTracker(reg)

	for i := 0; i < 10000; i++ {
		tr.RecordSuccess("p1")
	}
	snap, _ := tr.Snapshot("p1")
	assert.LessOrEqual(t, snap.QualityScore, qualityCeiling)

	for i := 0; i < 10000; i++ {
		tr.RecordFailure("p1", errors.New("boom"))
	}
	snap, _ = tr.Snapshot("p1")
	assert.GreaterOrEqual(t, snap.QualityScore, 0.0)
}

func TestTracker_FailsafeResetsAllOnce(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, provider("p1", 1), provider("p2", 2), provider("p3", 3))
	tr := NewTracker(reg, WithClock(clock.Now))

	for _, id := range []string{"p1", "p2", "p3"} {
		tr.RecordFailure(id, errors.New("boom"))
		tr.RecordFailure(id, errors.New("boom"))
		require.False(t, tr.IsAvailable(id))
	}

	assert.True(t, tr.EnsureCandidates(domain.CapWebSearch), "failsafe fires when all are down")
	for _, id := range []string{"p1", "p2", "p3"} {
		assert.True(t, tr.IsAvailable(id))
	}

	// Everything is available again; a second call is a no-op.
	assert.False(t, tr.EnsureCandidates(domain.CapWebSearch))
}

func TestTracker_FailsafeSkipsWhenAnyAvailable(t *testing.T) {
	reg := testRegistry(t, provider("p1", 1), provider("p2", 2))
	tr := NewTracker(reg)

	tr.RecordFailure("p1", errors.New("boom"))
	tr.RecordFailure("p1", errors.New("boom"))
	assert.False(t, tr.EnsureCandidates(domain.CapWebSearch))
}

func TestTracker_UnknownProvider(t *testing.T) {
	reg := testRegistry(t)
	tr := NewTracker(reg)

	assert.False(t, tr.IsAvailable("ghost"))
	_, err := tr.Snapshot("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, tr.EnsureCandidates(domain.CapWebSearch))
}
