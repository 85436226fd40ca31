package healthcheck

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"

	loggly_client "gitlab.com/crypto_project/core/resourcepool_service/src/sources/loggly"

	"gitlab.com/crypto_project/core/resourcepool_service/src/events"
	"gitlab.com/crypto_project/core/resourcepool_service/src/pool"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
	"gitlab.com/crypto_project/core/resourcepool_service/src/sources"
)

const (
	defaultProbeSampleMax = 100
	defaultProbeRate      = 50 // probes per second across all pools

	// how often a dormant rotate loop re-reads the strategy interval
	rotateIdlePoll = time.Second
)

// Notifier is the external alerting collaborator; the scheduler only
// feeds it, escalation policy lives elsewhere.
type Notifier interface {
	Notify(message string, source string)
}

type poolTimers struct {
	probeStop    chan struct{}
	rotateStop   chan struct{}
	probeRunning int32
	probeOffset  int
}

// Scheduler runs the two periodic activities per active pool: the
// probe cycle and the optional rotation cycle. Each pool gets its own
// cancellation handles; there is no global timer registry to leak.
type Scheduler struct {
	mgr      *pool.Manager
	prober   Prober
	tuner    *events.Tuner
	notifier Notifier

	pace           ratelimit.Limiter
	probeSampleMax int

	mu     sync.Mutex
	timers map[string]*poolTimers
}

func NewScheduler(mgr *pool.Manager, prober Prober) *Scheduler {
	sampleMax := defaultProbeSampleMax
	if env := os.Getenv("PROBE_SAMPLE_MAX"); env != "" {
		if parsed, err := strconv.Atoi(env); err == nil && parsed > 0 {
			sampleMax = parsed
		}
	}
	probeRate := defaultProbeRate
	if env := os.Getenv("PROBE_RATE"); env != "" {
		if parsed, err := strconv.Atoi(env); err == nil && parsed > 0 {
			probeRate = parsed
		}
	}
	return &Scheduler{
		mgr:            mgr,
		prober:         prober,
		pace:           ratelimit.New(probeRate),
		probeSampleMax: sampleMax,
		timers:         map[string]*poolTimers{},
	}
}

// SetTuner enables adaptive probe-interval tuning.
func (s *Scheduler) SetTuner(t *events.Tuner) { s.tuner = t }

// SetNotifier wires the alerting collaborator.
func (s *Scheduler) SetNotifier(n Notifier) { s.notifier = n }

// Attach registers the scheduler as the manager's lifecycle hook and
// starts timers for every already-active pool. A prober that caches
// per-resource state gets told about removals so the cache cannot grow
// past the registry.
func (s *Scheduler) Attach() {
	s.mgr.SetLifecycleHooks(s.StartPool, s.StopPool)
	if cache, ok := s.prober.(interface{ Forget(resourceID string) }); ok {
		s.mgr.SetResourceRemovedHook(cache.Forget)
	}
	for _, p := range s.mgr.ActivePools() {
		s.StartPool(p)
	}
}

// StartPool launches the pool's probe loop, plus a rotation loop when
// the strategy sets a rotation interval. Idempotent.
func (s *Scheduler) StartPool(p *pool.Pool) {
	s.mu.Lock()
	if _, running := s.timers[p.ID]; running {
		s.mu.Unlock()
		return
	}
	t := &poolTimers{
		probeStop:  make(chan struct{}),
		rotateStop: make(chan struct{}),
	}
	s.timers[p.ID] = t
	s.mu.Unlock()

	go s.probeLoop(p, t)
	go s.rotateLoop(p, t)
	loggly_client.GetInstance().Infof("Started timers for pool %s (probe every %s)", p.ID, p.HealthCheckInterval())
}

// StopPool cancels both timers. Returns once the loops can no longer
// fire; an in-flight probe is allowed to finish and its result is
// discarded.
func (s *Scheduler) StopPool(poolID string) {
	s.mu.Lock()
	t, running := s.timers[poolID]
	if running {
		delete(s.timers, poolID)
	}
	s.mu.Unlock()
	if !running {
		return
	}
	close(t.probeStop)
	close(t.rotateStop)
	loggly_client.GetInstance().Infof("Stopped timers for pool %s", poolID)
}

// Running reports whether the pool currently has live timers.
func (s *Scheduler) Running(poolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.timers[poolID]
	return running
}

// probeLoop re-arms a timer each pass so interval changes from the
// tuner take effect without restarting the pool.
func (s *Scheduler) probeLoop(p *pool.Pool, t *poolTimers) {
	for {
		timer := time.NewTimer(p.HealthCheckInterval())
		select {
		case <-t.probeStop:
			timer.Stop()
			return
		case <-timer.C:
		}

		// a cycle still running when the next tick fires is skipped,
		// never queued
		if !atomic.CompareAndSwapInt32(&t.probeRunning, 0, 1) {
			continue
		}
		go func() {
			defer atomic.StoreInt32(&t.probeRunning, 0)
			s.runProbeCycle(p, t)
		}()
	}
}

// rotateLoop idles on a poll cadence while the strategy has no
// rotation interval, so an UpdateStrategy that sets one later takes
// effect without restarting the pool.
func (s *Scheduler) rotateLoop(p *pool.Pool, t *poolTimers) {
	for {
		interval := p.RotationInterval()
		rotating := interval > 0
		if !rotating {
			interval = rotateIdlePoll
		}
		timer := time.NewTimer(interval)
		select {
		case <-t.rotateStop:
			timer.Stop()
			return
		case <-timer.C:
		}
		if !rotating {
			continue
		}

		// keep currentResourceId fresh even without caller demand;
		// the slot is handed straight back
		r, err := s.mgr.Acquire(p.ID, "scheduled rotation")
		if err == nil {
			s.mgr.Release(r.ID)
		}
	}
}

type probeResult struct {
	resourceID string
	ok         bool
	latencyMs  int64
	err        error
}

func (s *Scheduler) runProbeCycle(p *pool.Pool, t *poolTimers) {
	cycleStart := time.Now()

	members, err := s.mgr.Members(p.ID)
	if err != nil {
		// pool was removed between tick and cycle
		return
	}
	sample := s.sampleFor(t, members)

	ch := make(chan probeResult)
	inFlight := 0
	for _, r := range sample {
		if !r.BeginProbe() {
			continue
		}
		s.pace.Take()
		inFlight++
		go func(r *resource.Resource) {
			ok, latency, probeErr := s.prober.Probe(r)
			ch <- probeResult{resourceID: r.ID, ok: ok, latencyMs: latency, err: probeErr}
		}(r)
	}

	metrics := sources.GetStatsdInstance()
	var anyCnt, healthyCnt, unhealthyCnt int64
	for i := 0; i < inFlight; i++ {
		result := <-ch

		select {
		case <-t.probeStop:
			// pool deactivated mid-cycle: let the probe finish but
			// throw the result away
			if r, found := s.mgr.Registry().Get(result.resourceID); found {
				r.DiscardProbe()
			}
			continue
		default:
		}

		errMsg := ""
		if result.err != nil {
			errMsg = result.err.Error()
		}
		if reportErr := s.mgr.ReportOutcome(result.resourceID, result.ok, result.latencyMs, errMsg); reportErr != nil {
			continue
		}
		anyCnt++
		if result.ok {
			healthyCnt++
		} else {
			unhealthyCnt++
		}
	}

	metrics.Gauge("pool."+p.ID+".now.any", anyCnt)
	metrics.Gauge("pool."+p.ID+".now.healthy", healthyCnt)
	metrics.Gauge("pool."+p.ID+".now.unhealthy", unhealthyCnt)

	duration := time.Since(cycleStart)
	if unhealthyCnt == 0 {
		metrics.Inc("healthcheck.success")
		metrics.Timing("healthcheck.duration", duration.Milliseconds())
	} else {
		metrics.Inc("healthcheck.failure")
		loggly_client.GetInstance().Infof("Pool %s probe cycle: %d/%d unhealthy", p.ID, unhealthyCnt, anyCnt)
	}

	if healthyCnt == 0 && len(members) > 0 && s.notifier != nil {
		s.notifier.Notify(fmt.Sprintf("Pool %s has zero healthy resources", p.ID), "resourcePoolService")
	}

	if s.tuner != nil {
		p.SetHealthCheckInterval(s.tuner.Recommend(p.HealthCheckInterval(), s.mgr.EventLog(), p.ID))
		if rotation := p.RotationInterval(); rotation > 0 {
			p.SetRotationInterval(s.tuner.Recommend(rotation, s.mgr.EventLog(), p.ID))
		}
	}
}

// sampleFor caps the probed subset for large pools, rotating the
// window across cycles so every member is reached eventually.
func (s *Scheduler) sampleFor(t *poolTimers, members []*resource.Resource) []*resource.Resource {
	if len(members) <= s.probeSampleMax {
		return members
	}
	sample := make([]*resource.Resource, 0, s.probeSampleMax)
	for i := 0; i < s.probeSampleMax; i++ {
		sample = append(sample, members[(t.probeOffset+i)%len(members)])
	}
	t.probeOffset = (t.probeOffset + s.probeSampleMax) % len(members)
	return sample
}
