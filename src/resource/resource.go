package resource

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusTesting     Status = "TESTING"
	StatusInactive    Status = "INACTIVE"
	StatusFailed      Status = "FAILED"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusMaintenance Status = "MAINTENANCE"
)

// SpeedTier is derived from the last observed latency.
type SpeedTier string

const (
	SpeedUnknown SpeedTier = "unknown"
	SpeedFast    SpeedTier = "fast"
	SpeedMedium  SpeedTier = "medium"
	SpeedSlow    SpeedTier = "slow"
)

const (
	fastLatencyMs   = 300
	mediumLatencyMs = 1000
)

var ErrUnknownResource = errors.New("unknown resource")

type Health struct {
	SuccessCount        int64     `json:"successCount" bson:"successCount"`
	FailureCount        int64     `json:"failureCount" bson:"failureCount"`
	ConsecutiveFailures int       `json:"consecutiveFailures" bson:"consecutiveFailures"`
	LastLatencyMs       int64     `json:"lastLatencyMs" bson:"lastLatencyMs"`
	LastCheckedAt       time.Time `json:"lastCheckedAt" bson:"lastCheckedAt"`
}

// Seed is the caller-supplied part of a resource, used by the API,
// the RESOURCELIST env bootstrap and the pools file.
type Seed struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Attributes        map[string]string `json:"attributes" yaml:"attributes"`
	MaxConcurrentUses int               `json:"maxConcurrentUses" yaml:"maxConcurrentUses"`
	Cost              float64           `json:"cost" yaml:"cost"`
	RatePerSec        float64           `json:"ratePerSec" yaml:"ratePerSec"`
	Burst             int               `json:"burst" yaml:"burst"`
}

// Resource is one interchangeable unit managed by a pool: a proxy
// endpoint, a synthetic identity, anything the engine can hand out.
// The engine never looks inside Attributes except for filter matching.
type Resource struct {
	ID                string
	Name              string
	Attributes        map[string]string
	MaxConcurrentUses int
	Cost              float64

	RateLimiter *rate.Limiter
	ratePerSec  float64
	burst       int

	status           Status
	prevStatus       Status
	probing          bool
	health           Health
	speedTier        SpeedTier
	currentUses      int
	usages           int64
	lastUsedAt       time.Time
	rateLimitedUntil time.Time

	mu sync.Mutex
}

// View is the serializable snapshot used by the API and the storage layer.
type View struct {
	ID                string            `json:"id" bson:"id"`
	Name              string            `json:"name" bson:"name"`
	Attributes        map[string]string `json:"attributes" bson:"attributes"`
	MaxConcurrentUses int               `json:"maxConcurrentUses" bson:"maxConcurrentUses"`
	CurrentUses       int               `json:"currentUses" bson:"currentUses"`
	Usages            int64             `json:"usages" bson:"usages"`
	Cost              float64           `json:"cost" bson:"cost"`
	RatePerSec        float64           `json:"ratePerSec" bson:"ratePerSec"`
	Burst             int               `json:"burst" bson:"burst"`
	Status            Status            `json:"status" bson:"status"`
	SpeedTier         SpeedTier         `json:"speedTier" bson:"speedTier"`
	Health            Health            `json:"health" bson:"health"`
	SuccessRate       float64           `json:"successRate" bson:"successRate"`
	LastUsedAt        time.Time         `json:"lastUsedAt" bson:"lastUsedAt"`
}

func New(seed Seed) *Resource {
	if seed.MaxConcurrentUses < 1 {
		seed.MaxConcurrentUses = 1
	}
	limit := rate.Inf
	if seed.RatePerSec > 0 {
		limit = rate.Limit(seed.RatePerSec)
	}
	burst := seed.Burst
	if burst < 1 {
		burst = 1
	}
	attrs := seed.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Resource{
		ID:                seed.ID,
		Name:              seed.Name,
		Attributes:        attrs,
		MaxConcurrentUses: seed.MaxConcurrentUses,
		Cost:              seed.Cost,
		RateLimiter:       rate.NewLimiter(limit, burst),
		ratePerSec:        seed.RatePerSec,
		burst:             burst,
		status:            StatusActive,
		speedTier:         SpeedUnknown,
		// lastUsedAt stays at epoch zero so a fresh resource is
		// immediately eligible regardless of cooldown
	}
}

func (r *Resource) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probing {
		return StatusTesting
	}
	return r.status
}

func (r *Resource) Attr(key string) string {
	return r.Attributes[key]
}

// SetAttr overwrites one attribute. Used by the prober to record the
// observed exit IP and country.
func (r *Resource) SetAttr(key, value string) {
	r.mu.Lock()
	r.Attributes[key] = value
	r.mu.Unlock()
}

// SuccessRate returns percentage 0..100; a resource with no samples
// yet counts as fully healthy.
func (r *Resource) SuccessRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successRateLocked()
}

func (r *Resource) successRateLocked() float64 {
	total := r.health.SuccessCount + r.health.FailureCount
	if total == 0 {
		return 100
	}
	return float64(r.health.SuccessCount) / float64(total) * 100
}

func (r *Resource) Usages() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usages
}

func (r *Resource) CurrentUses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentUses
}

func (r *Resource) LastUsedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsedAt
}

func (r *Resource) LastLatencyMs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health.LastLatencyMs
}

func (r *Resource) HasSamples() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health.SuccessCount+r.health.FailureCount > 0
}

func (r *Resource) SpeedTier() SpeedTier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speedTier
}

// Selectable reports whether the resource may be handed out right now:
// ACTIVE, outside its cooldown window, under its concurrency cap and at
// or above the health threshold (percentage).
func (r *Resource) Selectable(now time.Time, cooldown time.Duration, healthThreshold float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probing || r.status != StatusActive {
		return false
	}
	if cooldown > 0 && now.Sub(r.lastUsedAt) < cooldown {
		return false
	}
	if r.currentUses >= r.MaxConcurrentUses {
		return false
	}
	return r.successRateLocked() >= healthThreshold
}

// Use books one concurrent slot. It re-checks capacity and consumes a
// rate limiter token, so a selection race between two acquirers can
// never push currentUses past the cap.
func (r *Resource) Use(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probing || r.status != StatusActive {
		return false
	}
	if r.currentUses >= r.MaxConcurrentUses {
		return false
	}
	if !r.RateLimiter.Allow() {
		return false
	}
	r.currentUses++
	r.usages++
	r.lastUsedAt = now
	return true
}

func (r *Resource) Release() {
	r.mu.Lock()
	if r.currentUses > 0 {
		r.currentUses--
	}
	r.mu.Unlock()
}

// BeginProbe flips the resource into the transient TESTING state.
// Returns false when the resource cannot be probed right now (FAILED
// and MAINTENANCE need manual intervention, a probe is already in
// flight).
func (r *Resource) BeginProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probing || r.status == StatusFailed || r.status == StatusMaintenance {
		return false
	}
	r.probing = true
	return true
}

// DiscardProbe drops an in-flight probe without applying its result,
// e.g. when the pool was removed while the probe was on the wire.
func (r *Resource) DiscardProbe() {
	r.mu.Lock()
	r.probing = false
	r.mu.Unlock()
}

// RecordOutcome applies a probe or caller-reported outcome. Transitions:
// success reactivates INACTIVE, and RATE_LIMITED once its window has
// passed; failure sends ACTIVE to INACTIVE, and to FAILED when
// consecutive failures reach maxConsecutiveFailures. FAILED only ever
// leaves via ResetFailed. Returns true when this call escalated the
// resource to FAILED.
func (r *Resource) RecordOutcome(success bool, latencyMs int64, maxConsecutiveFailures int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.probing = false
	now := time.Now()
	r.health.LastCheckedAt = now
	if latencyMs > 0 {
		r.health.LastLatencyMs = latencyMs
		switch {
		case latencyMs < fastLatencyMs:
			r.speedTier = SpeedFast
		case latencyMs < mediumLatencyMs:
			r.speedTier = SpeedMedium
		default:
			r.speedTier = SpeedSlow
		}
	}

	if success {
		r.health.SuccessCount++
		r.health.ConsecutiveFailures = 0
		switch r.status {
		case StatusInactive:
			r.status = StatusActive
		case StatusRateLimited:
			if now.After(r.rateLimitedUntil) {
				r.status = StatusActive
			}
		}
		return false
	}

	r.health.FailureCount++
	r.health.ConsecutiveFailures++
	if maxConsecutiveFailures > 0 && r.health.ConsecutiveFailures >= maxConsecutiveFailures {
		escalated := r.status != StatusFailed
		r.status = StatusFailed
		return escalated
	}
	if r.status == StatusActive {
		r.status = StatusInactive
	}
	return false
}

// MarkRateLimited is the external rate-limit signal (e.g. a provider
// returned 429). The resource stays out of rotation until retryAfter
// has elapsed and a probe succeeds.
func (r *Resource) MarkRateLimited(retryAfter time.Duration) {
	r.mu.Lock()
	r.status = StatusRateLimited
	r.rateLimitedUntil = time.Now().Add(retryAfter)
	r.mu.Unlock()
}

// ResetFailed is the manual way back from FAILED.
func (r *Resource) ResetFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusFailed {
		return false
	}
	r.status = StatusActive
	r.health.ConsecutiveFailures = 0
	return true
}

// SetMaintenance toggles the operator maintenance gate.
func (r *Resource) SetMaintenance(on bool) {
	r.mu.Lock()
	if on {
		r.status = StatusMaintenance
	} else if r.status == StatusMaintenance {
		r.status = StatusActive
	}
	r.mu.Unlock()
}

func (r *Resource) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	attrs := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	status := r.status
	if r.probing {
		status = StatusTesting
	}
	return View{
		ID:                r.ID,
		Name:              r.Name,
		Attributes:        attrs,
		MaxConcurrentUses: r.MaxConcurrentUses,
		CurrentUses:       r.currentUses,
		Usages:            r.usages,
		Cost:              r.Cost,
		RatePerSec:        r.ratePerSec,
		Burst:             r.burst,
		Status:            status,
		SpeedTier:         r.speedTier,
		Health:            r.health,
		SuccessRate:       r.successRateLocked(),
		LastUsedAt:        r.lastUsedAt,
	}
}

// Restore rebuilds persisted usage counters and health on a freshly
// created resource. Concurrency state is deliberately not restored:
// after a restart nothing is checked out.
func (r *Resource) Restore(v View) {
	r.mu.Lock()
	r.usages = v.Usages
	r.health = v.Health
	r.speedTier = v.SpeedTier
	r.lastUsedAt = v.LastUsedAt
	if v.Status == StatusFailed || v.Status == StatusMaintenance {
		r.status = v.Status
	}
	r.mu.Unlock()
}

// SeedFromView rebuilds the creation-time seed of a persisted record.
func SeedFromView(v View) Seed {
	return Seed{
		ID:                v.ID,
		Name:              v.Name,
		Attributes:        v.Attributes,
		MaxConcurrentUses: v.MaxConcurrentUses,
		Cost:              v.Cost,
		RatePerSec:        v.RatePerSec,
		Burst:             v.Burst,
	}
}
