package healthcheck

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/crypto_project/core/resourcepool_service/src/events"
	"gitlab.com/crypto_project/core/resourcepool_service/src/pool"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
	"gitlab.com/crypto_project/core/resourcepool_service/src/strategy"
)

type fakeProber struct {
	mu      sync.Mutex
	ok      bool
	latency int64
	err     error
	probed  []string
}

func (f *fakeProber) Probe(r *resource.Resource) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, r.ID)
	return f.ok, f.latency, f.err
}

func (f *fakeProber) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probed)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(message, source string) {
	f.mu.Lock()
	f.messages = append(f.messages, message)
	f.mu.Unlock()
}

func setupScheduler(t *testing.T, prober Prober, memberIDs ...string) (*pool.Manager, *Scheduler) {
	t.Helper()
	mgr := pool.NewManager(pool.NewRegistry(), events.NewLog(100), nil)
	for _, id := range memberIDs {
		_, err := mgr.AddResource(resource.Seed{ID: id, MaxConcurrentUses: 10})
		require.NoError(t, err)
	}
	return mgr, NewScheduler(mgr, prober)
}

func TestStartStopPoolIdempotent(t *testing.T) {
	mgr, s := setupScheduler(t, &fakeProber{ok: true}, "a")
	p, err := mgr.CreatePool(pool.Spec{
		ID:          "p1",
		Strategy:    strategy.Params{Type: strategy.RoundRobin},
		ResourceIDs: []string{"a"},
	})
	require.NoError(t, err)

	assert.False(t, s.Running("p1"))
	s.StartPool(p)
	assert.True(t, s.Running("p1"))
	s.StartPool(p) // repeat start is a no-op

	s.StopPool("p1")
	assert.False(t, s.Running("p1"))
	s.StopPool("p1") // repeat stop is a no-op
}

func TestAttachStartsActivePools(t *testing.T) {
	mgr, s := setupScheduler(t, &fakeProber{ok: true}, "a")
	_, err := mgr.CreatePool(pool.Spec{
		ID:          "active",
		Strategy:    strategy.Params{Type: strategy.RoundRobin},
		ResourceIDs: []string{"a"},
		IsActive:    true,
	})
	require.NoError(t, err)
	_, err = mgr.CreatePool(pool.Spec{
		ID:       "dormant",
		Strategy: strategy.Params{Type: strategy.RoundRobin},
	})
	require.NoError(t, err)

	s.Attach()
	defer s.StopPool("active")

	assert.True(t, s.Running("active"))
	assert.False(t, s.Running("dormant"))

	// once attached, activation flows through the manager
	require.NoError(t, mgr.SetPoolActive("dormant", true))
	assert.True(t, s.Running("dormant"))
	require.NoError(t, mgr.SetPoolActive("dormant", false))
	assert.False(t, s.Running("dormant"))
}

func TestRemovalEvictsProberClientCache(t *testing.T) {
	hp := testProber("http://probe-target.invalid/")
	mgr := pool.NewManager(pool.NewRegistry(), events.NewLog(100), nil)
	s := NewScheduler(mgr, hp)
	s.Attach()

	r, err := mgr.AddResource(resource.Seed{ID: "a"})
	require.NoError(t, err)
	_, err = hp.clientFor(r)
	require.NoError(t, err)
	require.Len(t, hp.clients, 1)

	require.True(t, mgr.RemoveResource("a"))
	assert.Empty(t, hp.clients, "removed resource leaves no cached client behind")
}

func TestProbeCycleAppliesOutcomes(t *testing.T) {
	prober := &fakeProber{ok: true, latency: 120}
	mgr, s := setupScheduler(t, prober, "a", "b")
	p, err := mgr.CreatePool(pool.Spec{
		ID:          "p1",
		Strategy:    strategy.Params{Type: strategy.RoundRobin},
		ResourceIDs: []string{"a", "b"},
	})
	require.NoError(t, err)

	s.runProbeCycle(p, &poolTimers{})

	assert.Equal(t, 2, prober.probeCount())
	for _, id := range []string{"a", "b"} {
		r, found := mgr.Registry().Get(id)
		require.True(t, found)
		assert.Equal(t, resource.StatusActive, r.Status())
		assert.Equal(t, 100.0, r.SuccessRate())
		assert.Equal(t, int64(120), r.LastLatencyMs())
		assert.True(t, r.HasSamples())
	}
}

func TestProbeCycleSkipsUnprobeableResources(t *testing.T) {
	prober := &fakeProber{ok: true}
	mgr, s := setupScheduler(t, prober, "a", "b")
	p, err := mgr.CreatePool(pool.Spec{
		ID:          "p1",
		Strategy:    strategy.Params{Type: strategy.RoundRobin},
		ResourceIDs: []string{"a", "b"},
	})
	require.NoError(t, err)

	down, _ := mgr.Registry().Get("b")
	down.SetMaintenance(true)

	s.runProbeCycle(p, &poolTimers{})
	assert.Equal(t, []string{"a"}, prober.probed)
}

func TestZeroHealthyTriggersNotifier(t *testing.T) {
	prober := &fakeProber{ok: false, err: errors.New("connect refused")}
	mgr, s := setupScheduler(t, prober, "a")
	notifier := &fakeNotifier{}
	s.SetNotifier(notifier)
	p, err := mgr.CreatePool(pool.Spec{
		ID:          "p1",
		Strategy:    strategy.Params{Type: strategy.RoundRobin},
		ResourceIDs: []string{"a"},
	})
	require.NoError(t, err)

	s.runProbeCycle(p, &poolTimers{})

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "p1")
	assert.Contains(t, notifier.messages[0], "zero healthy")
}

func TestProbeLoopFiresOnInterval(t *testing.T) {
	prober := &fakeProber{ok: true}
	mgr, s := setupScheduler(t, prober, "a")
	p, err := mgr.CreatePool(pool.Spec{
		ID:                     "p1",
		Strategy:               strategy.Params{Type: strategy.RoundRobin},
		ResourceIDs:            []string{"a"},
		HealthCheckIntervalSec: 1,
	})
	require.NoError(t, err)

	s.StartPool(p)
	time.Sleep(1500 * time.Millisecond)
	s.StopPool("p1")

	count := prober.probeCount()
	assert.True(t, count >= 1, "expected at least one probe, got %d", count)

	// after StopPool the loop can no longer fire
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, count, prober.probeCount())
}

func TestRotateLoopKeepsCurrentFresh(t *testing.T) {
	prober := &fakeProber{ok: true}
	mgr, s := setupScheduler(t, prober, "a")
	p, err := mgr.CreatePool(pool.Spec{
		ID:                     "p1",
		Strategy:               strategy.Params{Type: strategy.RoundRobin, IntervalSec: 1},
		ResourceIDs:            []string{"a"},
		HealthCheckIntervalSec: 600, // keep probes out of the picture
	})
	require.NoError(t, err)

	s.StartPool(p)
	time.Sleep(1500 * time.Millisecond)
	s.StopPool("p1")

	assert.Equal(t, "a", p.CurrentResourceID())
	r, _ := mgr.Registry().Get("a")
	assert.Equal(t, 0, r.CurrentUses(), "scheduled rotation hands the slot straight back")
	assert.True(t, r.Usages() >= 1)
}

func TestRotationStartsAfterStrategyUpdate(t *testing.T) {
	prober := &fakeProber{ok: true}
	mgr, s := setupScheduler(t, prober, "a")
	p, err := mgr.CreatePool(pool.Spec{
		ID:                     "p1",
		Strategy:               strategy.Params{Type: strategy.RoundRobin}, // no rotation interval yet
		ResourceIDs:            []string{"a"},
		HealthCheckIntervalSec: 600,
	})
	require.NoError(t, err)

	s.StartPool(p)
	defer s.StopPool("p1")

	r, _ := mgr.Registry().Get("a")
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, int64(0), r.Usages(), "no interval means no scheduled rotation")

	// the running pool picks the new cadence up without a restart
	require.NoError(t, mgr.UpdateStrategy("p1", strategy.Params{Type: strategy.RoundRobin, IntervalSec: 1}, nil))
	time.Sleep(2500 * time.Millisecond)
	assert.True(t, r.Usages() >= 1, "rotation never kicked in after the update")
	assert.Equal(t, "a", p.CurrentResourceID())
}

func TestTuningPassAdjustsIntervals(t *testing.T) {
	prober := &fakeProber{ok: true}
	mgr, s := setupScheduler(t, prober, "a")
	s.SetTuner(events.NewTuner())
	p, err := mgr.CreatePool(pool.Spec{
		ID:                     "p1",
		Strategy:               strategy.Params{Type: strategy.RoundRobin, IntervalSec: 30},
		ResourceIDs:            []string{"a"},
		HealthCheckIntervalSec: 20,
	})
	require.NoError(t, err)

	// a pool whose every rotation decision failed gets probed harder
	for i := 0; i < 20; i++ {
		mgr.EventLog().Append(events.RotationEvent{PoolID: "p1", Success: false, Error: "no eligible resource"})
	}
	s.runProbeCycle(p, &poolTimers{})
	assert.Equal(t, 16*time.Second, p.HealthCheckInterval())
	assert.Equal(t, 24*time.Second, p.RotationInterval())
}

func TestSampleRotatesAcrossCycles(t *testing.T) {
	mgr, s := setupScheduler(t, &fakeProber{ok: true}, "a", "b", "c")
	s.probeSampleMax = 2
	members := mgr.Registry().List()
	require.Len(t, members, 3)

	t1 := &poolTimers{}
	first := s.sampleFor(t1, members)
	second := s.sampleFor(t1, members)
	third := s.sampleFor(t1, members)

	ids := func(rs []*resource.Resource) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}
	assert.Equal(t, []string{"a", "b"}, ids(first))
	assert.Equal(t, []string{"c", "a"}, ids(second))
	assert.Equal(t, []string{"b", "c"}, ids(third))
}

func TestSampleUncappedBelowMax(t *testing.T) {
	mgr, s := setupScheduler(t, &fakeProber{ok: true}, "a", "b")
	members := mgr.Registry().List()
	assert.Len(t, s.sampleFor(&poolTimers{}, members), 2)
}
