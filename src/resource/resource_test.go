package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	r := New(Seed{ID: "r1"})
	assert.Equal(t, StatusActive, r.Status())
	assert.Equal(t, 1, r.MaxConcurrentUses)
	assert.Equal(t, SpeedUnknown, r.SpeedTier())
	assert.Equal(t, 100.0, r.SuccessRate(), "no samples means fully healthy")
	assert.True(t, r.Selectable(time.Now(), time.Hour, 50), "zero lastUsedAt ignores cooldown")
}

func TestUseRespectsConcurrencyCap(t *testing.T) {
	r := New(Seed{ID: "r1", MaxConcurrentUses: 2})
	now := time.Now()

	require.True(t, r.Use(now))
	require.True(t, r.Use(now))
	assert.False(t, r.Use(now), "third use exceeds the cap")
	assert.Equal(t, 2, r.CurrentUses())
	assert.Equal(t, int64(2), r.Usages(), "refused use does not count as a session")

	r.Release()
	assert.True(t, r.Use(now))

	r.Release()
	r.Release()
	r.Release() // extra release must not underflow
	assert.Equal(t, 0, r.CurrentUses())
}

func TestUseConsumesRateLimiterToken(t *testing.T) {
	r := New(Seed{ID: "r1", MaxConcurrentUses: 10, RatePerSec: 1, Burst: 2})
	now := time.Now()

	assert.True(t, r.Use(now))
	assert.True(t, r.Use(now))
	assert.False(t, r.Use(now), "burst exhausted")
}

func TestCooldownBlocksSelection(t *testing.T) {
	r := New(Seed{ID: "r1", MaxConcurrentUses: 5})
	now := time.Now()

	require.True(t, r.Use(now))
	assert.False(t, r.Selectable(now.Add(30*time.Second), time.Minute, 50))
	assert.True(t, r.Selectable(now.Add(61*time.Second), time.Minute, 50))
}

func TestOutcomeTransitions(t *testing.T) {
	r := New(Seed{ID: "r1"})

	assert.False(t, r.RecordOutcome(false, 100, 3))
	assert.Equal(t, StatusInactive, r.Status())

	assert.False(t, r.RecordOutcome(true, 100, 3))
	assert.Equal(t, StatusActive, r.Status(), "success reactivates INACTIVE")

	// three consecutive failures escalate; only the escalating call returns true
	assert.False(t, r.RecordOutcome(false, 0, 3))
	assert.False(t, r.RecordOutcome(false, 0, 3))
	assert.True(t, r.RecordOutcome(false, 0, 3))
	assert.Equal(t, StatusFailed, r.Status())

	// FAILED is sticky against success, only a manual reset recovers it
	r.RecordOutcome(true, 100, 3)
	assert.Equal(t, StatusFailed, r.Status())
	assert.True(t, r.ResetFailed())
	assert.False(t, r.ResetFailed(), "already recovered")
	assert.Equal(t, StatusActive, r.Status())
}

func TestRateLimitedRecovery(t *testing.T) {
	r := New(Seed{ID: "r1"})

	r.MarkRateLimited(50 * time.Millisecond)
	assert.Equal(t, StatusRateLimited, r.Status())
	assert.False(t, r.Selectable(time.Now(), 0, 0))

	// a success inside the window does not recover it
	r.RecordOutcome(true, 100, 5)
	assert.Equal(t, StatusRateLimited, r.Status())

	time.Sleep(60 * time.Millisecond)
	r.RecordOutcome(true, 100, 5)
	assert.Equal(t, StatusActive, r.Status())
}

func TestMaintenanceToggle(t *testing.T) {
	r := New(Seed{ID: "r1"})

	r.SetMaintenance(true)
	assert.Equal(t, StatusMaintenance, r.Status())
	assert.False(t, r.Use(time.Now()))
	assert.False(t, r.BeginProbe(), "maintenance is not probed")

	r.SetMaintenance(false)
	assert.Equal(t, StatusActive, r.Status())
}

func TestProbing(t *testing.T) {
	r := New(Seed{ID: "r1"})

	require.True(t, r.BeginProbe())
	assert.Equal(t, StatusTesting, r.Status())
	assert.False(t, r.BeginProbe(), "one probe in flight at a time")
	assert.False(t, r.Selectable(time.Now(), 0, 0))

	r.RecordOutcome(true, 120, 5)
	assert.Equal(t, StatusActive, r.Status(), "probe result clears TESTING")

	require.True(t, r.BeginProbe())
	r.DiscardProbe()
	assert.Equal(t, StatusActive, r.Status())
	assert.False(t, r.HasSamples() && r.SuccessRate() != 100, "discard applies nothing")
}

func TestSpeedTiers(t *testing.T) {
	r := New(Seed{ID: "r1"})

	r.RecordOutcome(true, 120, 5)
	assert.Equal(t, SpeedFast, r.SpeedTier())
	r.RecordOutcome(true, 600, 5)
	assert.Equal(t, SpeedMedium, r.SpeedTier())
	r.RecordOutcome(true, 2500, 5)
	assert.Equal(t, SpeedSlow, r.SpeedTier())
	assert.Equal(t, int64(2500), r.LastLatencyMs())
}

func TestSuccessRateAndThreshold(t *testing.T) {
	r := New(Seed{ID: "r1", MaxConcurrentUses: 5})

	// 2 of 5 = 40%, interleaved so it never escalates
	outcomes := []bool{false, true, false, true, false}
	for _, ok := range outcomes {
		r.RecordOutcome(ok, 10, 50)
	}
	// last outcome was a failure, bring it back to ACTIVE
	r.RecordOutcome(true, 10, 50)
	assert.InDelta(t, 50.0, r.SuccessRate(), 0.01)
	assert.True(t, r.Selectable(time.Now(), 0, 50))
	assert.False(t, r.Selectable(time.Now(), 0, 51))
}

func TestViewRoundTrip(t *testing.T) {
	r := New(Seed{
		ID:                "r1",
		Name:              "edge-1",
		Attributes:        map[string]string{"region": "eu"},
		MaxConcurrentUses: 3,
		Cost:              1.5,
		RatePerSec:        2,
		Burst:             4,
	})
	require.True(t, r.Use(time.Now()))
	r.RecordOutcome(true, 200, 5)

	v := r.View()
	assert.Equal(t, "r1", v.ID)
	assert.Equal(t, int64(1), v.Usages)
	assert.Equal(t, 1, v.CurrentUses)
	assert.Equal(t, SpeedFast, v.SpeedTier)
	assert.Equal(t, 2.0, v.RatePerSec)
	assert.Equal(t, 4, v.Burst)

	restored := New(SeedFromView(v))
	restored.Restore(v)
	assert.Equal(t, int64(1), restored.Usages())
	assert.Equal(t, 0, restored.CurrentUses(), "checkouts do not survive a restart")
	assert.Equal(t, SpeedFast, restored.SpeedTier())
	assert.Equal(t, "eu", restored.Attr("region"))
	assert.Equal(t, StatusActive, restored.Status())

	// terminal statuses do survive
	v.Status = StatusFailed
	failed := New(SeedFromView(v))
	failed.Restore(v)
	assert.Equal(t, StatusFailed, failed.Status())
}
