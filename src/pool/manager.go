package pool

import (
	"sort"
	"sync"
	"time"

	loggly_client "gitlab.com/crypto_project/core/resourcepool_service/src/sources/loggly"

	"gitlab.com/crypto_project/core/resourcepool_service/src/events"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
	"gitlab.com/crypto_project/core/resourcepool_service/src/sources"
	"gitlab.com/crypto_project/core/resourcepool_service/src/stats"
	"gitlab.com/crypto_project/core/resourcepool_service/src/strategy"
)

// Store persists pool and resource records across restarts. A nil
// store means in-memory only.
type Store interface {
	SavePool(v View) error
	DeletePool(id string) error
	SaveResource(v resource.View) error
	DeleteResource(id string) error
}

// Manager owns all pools and the resource registry, and is the only
// place pool or resource lifetime is mutated.
type Manager struct {
	registry *Registry
	eventLog *events.Log
	store    Store

	pools map[string]*Pool
	mu    sync.RWMutex

	// lifecycle hooks wired by the healthcheck scheduler; nil until
	// Attach is called on the scheduler side
	onPoolStarted     func(*Pool)
	onPoolStopped     func(poolID string)
	onResourceRemoved func(resourceID string)
}

func NewManager(registry *Registry, eventLog *events.Log, store Store) *Manager {
	return &Manager{
		registry: registry,
		eventLog: eventLog,
		store:    store,
		pools:    map[string]*Pool{},
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) EventLog() *events.Log { return m.eventLog }

// SetLifecycleHooks registers the scheduler callbacks invoked when a
// pool becomes active or stops being active. RemovePool relies on the
// stop hook returning only after the pool's timers are down.
func (m *Manager) SetLifecycleHooks(started func(*Pool), stopped func(poolID string)) {
	m.mu.Lock()
	m.onPoolStarted = started
	m.onPoolStopped = stopped
	m.mu.Unlock()
}

// SetResourceRemovedHook registers a callback fired after a resource
// leaves the registry, e.g. to drop per-resource probe clients.
func (m *Manager) SetResourceRemovedHook(removed func(resourceID string)) {
	m.mu.Lock()
	m.onResourceRemoved = removed
	m.mu.Unlock()
}

// CreatePool validates the spec, registers the pool and, when the pool
// is active, starts its probe and rotation timers through the
// scheduler hook.
func (m *Manager) CreatePool(spec Spec) (*Pool, error) {
	if spec.ID == "" {
		return nil, ErrUnknownPool
	}
	if err := spec.Strategy.Validate(); err != nil {
		return nil, err
	}
	if spec.HealthCheckIntervalSec < 0 {
		return nil, ErrInvalidInterval
	}

	p := newPool(spec)

	m.mu.Lock()
	if _, exists := m.pools[spec.ID]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicatePool
	}
	m.pools[spec.ID] = p
	started := m.onPoolStarted
	m.mu.Unlock()

	m.persistPool(p)
	loggly_client.GetInstance().Infof("Created pool %s with strategy %s (%d members)", p.ID, p.StrategyParams().Type, len(p.ResourceIDs()))

	if p.IsActive() && started != nil {
		started(p)
	}
	return p, nil
}

// RemovePool stops the pool's timers synchronously, then drops it.
func (m *Manager) RemovePool(id string) error {
	m.mu.Lock()
	p, exists := m.pools[id]
	if !exists {
		m.mu.Unlock()
		return ErrUnknownPool
	}
	delete(m.pools, id)
	stopped := m.onPoolStopped
	m.mu.Unlock()

	if stopped != nil {
		stopped(id)
	}
	p.mu.Lock()
	p.isActive = false
	p.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeletePool(id); err != nil {
			loggly_client.GetInstance().Infof("Store delete pool %s failed: %s", id, err.Error())
		}
	}
	loggly_client.GetInstance().Infof("Removed pool %s", id)
	return nil
}

// SetPoolActive gates scheduled probing and rotation for one pool.
func (m *Manager) SetPoolActive(id string, active bool) error {
	m.mu.RLock()
	p, exists := m.pools[id]
	started := m.onPoolStarted
	stopped := m.onPoolStopped
	m.mu.RUnlock()
	if !exists {
		return ErrUnknownPool
	}

	p.mu.Lock()
	was := p.isActive
	p.isActive = active
	p.mu.Unlock()
	if was == active {
		return nil
	}

	if active && started != nil {
		started(p)
	} else if !active && stopped != nil {
		stopped(id)
	}
	m.persistPool(p)
	return nil
}

func (m *Manager) Pool(id string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.pools[id]
	if !exists {
		return nil, ErrUnknownPool
	}
	return p, nil
}

// Pools returns all pools ordered by id.
func (m *Manager) Pools() []*Pool {
	m.mu.RLock()
	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActivePools returns pools whose timers should be running.
func (m *Manager) ActivePools() []*Pool {
	all := m.Pools()
	out := make([]*Pool, 0, len(all))
	for _, p := range all {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}

// AddResource registers a new resource with the registry.
func (m *Manager) AddResource(seed resource.Seed) (*resource.Resource, error) {
	r, err := m.registry.Add(seed)
	if err != nil {
		return nil, err
	}
	m.persistResource(r)
	return r, nil
}

// RemoveResource deletes a resource and purges its id from every
// pool's membership, clearing any current pointer equal to it. False
// when the id was already gone; nothing else changes in that case.
func (m *Manager) RemoveResource(id string) bool {
	if !m.registry.Remove(id) {
		return false
	}
	for _, p := range m.Pools() {
		if p.removeResource(id) {
			m.persistPool(p)
		}
	}
	if m.store != nil {
		if err := m.store.DeleteResource(id); err != nil {
			loggly_client.GetInstance().Infof("Store delete resource %s failed: %s", id, err.Error())
		}
	}
	m.mu.RLock()
	removed := m.onResourceRemoved
	m.mu.RUnlock()
	if removed != nil {
		removed(id)
	}
	return true
}

// AddResourceToPool is an idempotent membership edit.
func (m *Manager) AddResourceToPool(poolID, resourceID string) error {
	p, err := m.Pool(poolID)
	if err != nil {
		return err
	}
	if _, ok := m.registry.Get(resourceID); !ok {
		return resource.ErrUnknownResource
	}
	if p.addResource(resourceID) {
		m.persistPool(p)
	}
	return nil
}

// RemoveResourceFromPool is an idempotent membership edit; the
// resource itself stays registered.
func (m *Manager) RemoveResourceFromPool(poolID, resourceID string) error {
	p, err := m.Pool(poolID)
	if err != nil {
		return err
	}
	if p.removeResource(resourceID) {
		m.persistPool(p)
	}
	return nil
}

// UpdateStrategy swaps a pool's strategy and filters in place. Bad
// parameters are rejected here, never at rotation time.
func (m *Manager) UpdateStrategy(poolID string, params strategy.Params, filters []Filter) error {
	p, err := m.Pool(poolID)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Strategy = params
	if filters != nil {
		p.Filters = filters
	}
	p.mu.Unlock()
	m.persistPool(p)
	return nil
}

// Members resolves a pool's membership to live resources, skipping ids
// whose resource was removed from the registry.
func (m *Manager) Members(poolID string) ([]*resource.Resource, error) {
	p, err := m.Pool(poolID)
	if err != nil {
		return nil, err
	}
	ids := p.ResourceIDs()
	out := make([]*resource.Resource, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.registry.Get(id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Acquire hands out the best currently available resource from the
// pool: filter to the eligible set, let the strategy pick, book a
// usage slot and record the rotation decision. An empty eligible set
// is the caller's retry path, not an engine fault.
func (m *Manager) Acquire(poolID, reason string) (*resource.Resource, error) {
	p, err := m.Pool(poolID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	cooldown := p.Strategy.Cooldown()
	threshold := p.Strategy.Threshold()
	maxUses := p.Strategy.MaxUses

	candidates := make([]*resource.Resource, 0, len(p.resourceIDs))
	for _, id := range p.resourceIDs {
		r, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		if !r.Selectable(now, cooldown, threshold) {
			continue
		}
		if maxUses > 0 && r.Usages() >= maxUses {
			continue
		}
		if !matchFilters(p.Filters, r) {
			continue
		}
		candidates = append(candidates, r)
	}

	st := strategy.State{
		CurrentID:      p.currentResourceID,
		LastRotationAt: p.lastRotationAt,
		Now:            now,
	}

	// Use may still refuse (capacity race with another pool sharing
	// the resource, rate limiter empty), so drop and re-select.
	for len(candidates) > 0 {
		chosen := strategy.Select(p.Strategy, st, candidates)
		if chosen == nil {
			break
		}
		if chosen.Use(now) {
			previous := p.currentResourceID
			if previous != chosen.ID {
				p.lastRotationAt = now
			}
			p.currentResourceID = chosen.ID
			m.eventLog.Append(events.RotationEvent{
				PoolID:     p.ID,
				PreviousID: previous,
				NewID:      chosen.ID,
				Strategy:   string(p.Strategy.Type),
				Reason:     reason,
				Success:    true,
			})
			sources.GetStatsdInstance().Inc("acquire.ok")
			return chosen, nil
		}
		candidates = dropCandidate(candidates, chosen)
	}

	m.eventLog.Append(events.RotationEvent{
		PoolID:     p.ID,
		PreviousID: p.currentResourceID,
		Strategy:   string(p.Strategy.Type),
		Reason:     reason,
		Success:    false,
		Error:      "no eligible resource",
	})
	sources.GetStatsdInstance().Inc("acquire.unavailable")
	return nil, ErrNotAvailable
}

// Release gives back one usage slot. Status is untouched; health only
// moves through ReportOutcome.
func (m *Manager) Release(resourceID string) error {
	r, ok := m.registry.Get(resourceID)
	if !ok {
		return resource.ErrUnknownResource
	}
	r.Release()
	return nil
}

// ReportOutcome feeds a usage or probe result into the resource's
// health. Escalation to FAILED happens atomically with the report,
// using the strictest failure limit among the pools the resource
// belongs to.
func (m *Manager) ReportOutcome(resourceID string, success bool, latencyMs int64, errMsg string) error {
	r, ok := m.registry.Get(resourceID)
	if !ok {
		return resource.ErrUnknownResource
	}
	escalated := r.RecordOutcome(success, latencyMs, m.failureLimitFor(resourceID))
	if escalated {
		loggly_client.GetInstance().Infof("Resource %s escalated to FAILED: %s", resourceID, errMsg)
		sources.GetStatsdInstance().Inc("resource.failed")
	}
	m.persistResource(r)
	return nil
}

// MarkRateLimited applies an external rate-limit signal to a resource.
func (m *Manager) MarkRateLimited(resourceID string, retryAfter time.Duration) error {
	r, ok := m.registry.Get(resourceID)
	if !ok {
		return resource.ErrUnknownResource
	}
	r.MarkRateLimited(retryAfter)
	loggly_client.GetInstance().Infof("Resource %s rate limited for %s", resourceID, retryAfter)
	m.persistResource(r)
	return nil
}

// SetMaintenance parks a resource out of rotation, or returns it.
func (m *Manager) SetMaintenance(resourceID string, on bool) error {
	r, ok := m.registry.Get(resourceID)
	if !ok {
		return resource.ErrUnknownResource
	}
	r.SetMaintenance(on)
	loggly_client.GetInstance().Infof("Resource %s maintenance set to %t", resourceID, on)
	m.persistResource(r)
	return nil
}

// ResetFailed is the manual operator path out of FAILED.
func (m *Manager) ResetFailed(resourceID string) error {
	r, ok := m.registry.Get(resourceID)
	if !ok {
		return resource.ErrUnknownResource
	}
	if r.ResetFailed() {
		loggly_client.GetInstance().Infof("Resource %s manually reset to ACTIVE", resourceID)
		m.persistResource(r)
	}
	return nil
}

// Stats recomputes the pool summary on demand.
func (m *Manager) Stats(poolID string) (stats.PoolStats, error) {
	p, err := m.Pool(poolID)
	if err != nil {
		return stats.PoolStats{}, err
	}
	members, err := m.Members(poolID)
	if err != nil {
		return stats.PoolStats{}, err
	}
	params := p.StrategyParams()
	return stats.Compute(poolID, members, time.Now(), params.Cooldown(), params.Threshold()), nil
}

// failureLimitFor returns the strictest (lowest) consecutive-failure
// cap among pools containing the resource; the default applies when
// the resource is in no pool.
func (m *Manager) failureLimitFor(resourceID string) int {
	limit := 0
	for _, p := range m.Pools() {
		for _, id := range p.ResourceIDs() {
			if id != resourceID {
				continue
			}
			if l := p.StrategyParams().FailureLimit(); limit == 0 || l < limit {
				limit = l
			}
		}
	}
	if limit == 0 {
		limit = strategy.DefaultMaxConsecutiveFailures
	}
	return limit
}

func matchFilters(filters []Filter, r *resource.Resource) bool {
	for _, f := range filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

func dropCandidate(candidates []*resource.Resource, victim *resource.Resource) []*resource.Resource {
	for i, r := range candidates {
		if r == victim {
			return append(candidates[:i], candidates[i+1:]...)
		}
	}
	return candidates
}

func (m *Manager) persistPool(p *Pool) {
	if m.store == nil {
		return
	}
	if err := m.store.SavePool(p.View()); err != nil {
		loggly_client.GetInstance().Infof("Store save pool %s failed: %s", p.ID, err.Error())
	}
}

func (m *Manager) persistResource(r *resource.Resource) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveResource(r.View()); err != nil {
		loggly_client.GetInstance().Infof("Store save resource %s failed: %s", r.ID, err.Error())
	}
}
