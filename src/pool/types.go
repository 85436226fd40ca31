package pool

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
	"gitlab.com/crypto_project/core/resourcepool_service/src/strategy"
)

var (
	ErrNotAvailable    = errors.New("no resource available")
	ErrUnknownPool     = errors.New("unknown pool")
	ErrDuplicatePool   = errors.New("duplicate pool id")
	ErrInvalidInterval = errors.New("invalid pool config: negative health check interval")
)

const DefaultHealthCheckIntervalSec = 20

// Filter is one attribute predicate; a pool's filters are ANDed.
type Filter struct {
	Attribute string `json:"attribute" yaml:"attribute"`
	Op        string `json:"op" yaml:"op"`
	Value     string `json:"value" yaml:"value"`
}

// Match evaluates the predicate against a resource's attributes.
// Unknown operators match nothing, so a typo fails closed.
func (f Filter) Match(r *resource.Resource) bool {
	got := r.Attr(f.Attribute)
	switch f.Op {
	case "eq", "":
		return got == f.Value
	case "neq":
		return got != f.Value
	case "contains":
		return strings.Contains(got, f.Value)
	case "in":
		for _, candidate := range strings.Split(f.Value, ",") {
			if got == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	case "gte", "lte":
		gotNum, err1 := strconv.ParseFloat(got, 64)
		wantNum, err2 := strconv.ParseFloat(f.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if f.Op == "gte" {
			return gotNum >= wantNum
		}
		return gotNum <= wantNum
	default:
		return false
	}
}

// Spec is the caller-supplied pool definition, used by the API and the
// POOLS_FILE bootstrap.
type Spec struct {
	ID                     string          `json:"id" yaml:"id"`
	Strategy               strategy.Params `json:"strategy" yaml:"strategy"`
	Filters                []Filter        `json:"filters" yaml:"filters"`
	ResourceIDs            []string        `json:"resourceIds" yaml:"resourceIds"`
	HealthCheckIntervalSec int             `json:"healthCheckIntervalSec" yaml:"healthCheckIntervalSec"`
	IsActive               bool            `json:"isActive" yaml:"isActive"`
}

// Pool holds membership by id only; resource lifetime belongs to the
// Registry.
type Pool struct {
	ID       string
	Strategy strategy.Params
	Filters  []Filter

	resourceIDs         []string
	currentResourceID   string
	lastRotationAt      time.Time
	healthCheckInterval time.Duration
	isActive            bool

	mu sync.Mutex
}

// View is the serializable snapshot used by the API and storage layer.
type View struct {
	ID                     string          `json:"id" bson:"id"`
	Strategy               strategy.Params `json:"strategy" bson:"strategy"`
	Filters                []Filter        `json:"filters" bson:"filters"`
	ResourceIDs            []string        `json:"resourceIds" bson:"resourceIds"`
	CurrentResourceID      string          `json:"currentResourceId" bson:"currentResourceId"`
	LastRotationAt         time.Time       `json:"lastRotationAt" bson:"lastRotationAt"`
	HealthCheckIntervalSec int             `json:"healthCheckIntervalSec" bson:"healthCheckIntervalSec"`
	IsActive               bool            `json:"isActive" bson:"isActive"`
}

func newPool(spec Spec) *Pool {
	interval := spec.HealthCheckIntervalSec
	if interval <= 0 {
		interval = DefaultHealthCheckIntervalSec
	}
	ids := make([]string, 0, len(spec.ResourceIDs))
	seen := map[string]bool{}
	for _, id := range spec.ResourceIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return &Pool{
		ID:                  spec.ID,
		Strategy:            spec.Strategy,
		Filters:             spec.Filters,
		resourceIDs:         ids,
		healthCheckInterval: time.Duration(interval) * time.Second,
		isActive:            spec.IsActive,
	}
}

func (p *Pool) ResourceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.resourceIDs))
	copy(out, p.resourceIDs)
	return out
}

// StrategyParams snapshots the strategy under the pool lock so readers
// never observe a half-swapped config while UpdateStrategy runs.
func (p *Pool) StrategyParams() strategy.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Strategy
}

func (p *Pool) CurrentResourceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentResourceID
}

func (p *Pool) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isActive
}

func (p *Pool) HealthCheckInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthCheckInterval
}

// SetHealthCheckInterval is used by the adaptive tuner; the scheduler
// picks the new value up on its next re-arm.
func (p *Pool) SetHealthCheckInterval(d time.Duration) {
	p.mu.Lock()
	if d > 0 {
		p.healthCheckInterval = d
	}
	p.mu.Unlock()
}

// SetRotationInterval adjusts the scheduled-rotation cadence, also for
// the tuner. A pool without a rotation interval stays without one.
func (p *Pool) SetRotationInterval(d time.Duration) {
	p.mu.Lock()
	if d >= time.Second && p.Strategy.IntervalSec > 0 {
		p.Strategy.IntervalSec = int(d / time.Second)
	}
	p.mu.Unlock()
}

func (p *Pool) RotationInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Strategy.Interval()
}

func (p *Pool) addResource(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.resourceIDs {
		if existing == id {
			return false
		}
	}
	p.resourceIDs = append(p.resourceIDs, id)
	return true
}

func (p *Pool) removeResource(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.resourceIDs {
		if existing == id {
			p.resourceIDs = append(p.resourceIDs[:i], p.resourceIDs[i+1:]...)
			if p.currentResourceID == id {
				p.currentResourceID = ""
			}
			return true
		}
	}
	return false
}

func (p *Pool) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(p.resourceIDs))
	copy(ids, p.resourceIDs)
	return View{
		ID:                     p.ID,
		Strategy:               p.Strategy,
		Filters:                p.Filters,
		ResourceIDs:            ids,
		CurrentResourceID:      p.currentResourceID,
		LastRotationAt:         p.lastRotationAt,
		HealthCheckIntervalSec: int(p.healthCheckInterval / time.Second),
		IsActive:               p.isActive,
	}
}
