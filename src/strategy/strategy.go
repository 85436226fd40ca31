package strategy

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
)

type Type string

const (
	RoundRobin    Type = "ROUND_ROBIN"
	Random        Type = "RANDOM"
	LeastUsed     Type = "LEAST_USED"
	Fastest       Type = "FASTEST"
	HealthBased   Type = "HEALTH_BASED"
	CostOptimized Type = "COST_OPTIMIZED"
	Geographic    Type = "GEOGRAPHIC"
	StickySession Type = "STICKY_SESSION"
)

const (
	DefaultHealthThreshold        = 50.0
	DefaultMaxConsecutiveFailures = 5
)

// Params configures one pool's rotation strategy.
type Params struct {
	Type                   Type     `json:"type" yaml:"type"`
	IntervalSec            int      `json:"intervalSec" yaml:"intervalSec"`
	CooldownSec            int      `json:"cooldownSec" yaml:"cooldownSec"`
	MaxUses                int64    `json:"maxUses" yaml:"maxUses"`
	HealthThreshold        float64  `json:"healthThreshold" yaml:"healthThreshold"`
	MaxConsecutiveFailures int      `json:"maxConsecutiveFailures" yaml:"maxConsecutiveFailures"`
	StickyDurationSec      int      `json:"stickyDurationSec" yaml:"stickyDurationSec"`
	PreferredRegions       []string `json:"preferredRegions" yaml:"preferredRegions"`
}

var validTypes = map[Type]bool{
	RoundRobin:    true,
	Random:        true,
	LeastUsed:     true,
	Fastest:       true,
	HealthBased:   true,
	CostOptimized: true,
	Geographic:    true,
	StickySession: true,
}

// Validate rejects a bad strategy config at pool creation time, never
// at rotation time.
func (p Params) Validate() error {
	if !validTypes[p.Type] {
		return fmt.Errorf("invalid strategy config: unknown strategy type %q", p.Type)
	}
	if p.IntervalSec < 0 {
		return fmt.Errorf("invalid strategy config: negative interval %d", p.IntervalSec)
	}
	if p.CooldownSec < 0 {
		return fmt.Errorf("invalid strategy config: negative cooldown %d", p.CooldownSec)
	}
	if p.MaxUses < 0 {
		return fmt.Errorf("invalid strategy config: negative maxUses %d", p.MaxUses)
	}
	if p.HealthThreshold < 0 || p.HealthThreshold > 100 {
		return fmt.Errorf("invalid strategy config: health threshold %f out of [0,100]", p.HealthThreshold)
	}
	if p.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("invalid strategy config: negative maxConsecutiveFailures %d", p.MaxConsecutiveFailures)
	}
	if p.StickyDurationSec < 0 {
		return fmt.Errorf("invalid strategy config: negative stickyDuration %d", p.StickyDurationSec)
	}
	return nil
}

func (p Params) Cooldown() time.Duration {
	return time.Duration(p.CooldownSec) * time.Second
}

func (p Params) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}

func (p Params) StickyDuration() time.Duration {
	return time.Duration(p.StickyDurationSec) * time.Second
}

// Threshold returns the effective health threshold (percent).
func (p Params) Threshold() float64 {
	if p.HealthThreshold == 0 {
		return DefaultHealthThreshold
	}
	return p.HealthThreshold
}

// FailureLimit returns the effective consecutive-failure cap.
func (p Params) FailureLimit() int {
	if p.MaxConsecutiveFailures == 0 {
		return DefaultMaxConsecutiveFailures
	}
	return p.MaxConsecutiveFailures
}

// State is the pool-side context a strategy may consult.
type State struct {
	CurrentID      string
	LastRotationAt time.Time
	Now            time.Time
}

// Select picks one resource out of the candidate set. Candidates are
// sorted by id first, so given identical state every policy is
// deterministic up to the RANDOM draws; ties always break to the
// lowest id.
func Select(p Params, st State, candidates []*resource.Resource) *resource.Resource {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]*resource.Resource, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch p.Type {
	case RoundRobin:
		return selectRoundRobin(st.CurrentID, sorted)
	case Random:
		return sorted[rand.Intn(len(sorted))]
	case LeastUsed:
		return selectLeastUsed(sorted)
	case Fastest:
		return selectFastest(sorted)
	case HealthBased:
		return selectHealthBased(sorted)
	case CostOptimized:
		return selectCostOptimized(sorted)
	case Geographic:
		return selectGeographic(p.PreferredRegions, sorted)
	case StickySession:
		return selectSticky(p, st, sorted)
	default:
		return selectRoundRobin(st.CurrentID, sorted)
	}
}

// selectRoundRobin walks to the next index after the current resource's
// position; when the current one was rotated out of the set it starts
// over at 0.
func selectRoundRobin(currentID string, sorted []*resource.Resource) *resource.Resource {
	if currentID != "" {
		for i, r := range sorted {
			if r.ID == currentID {
				return sorted[(i+1)%len(sorted)]
			}
		}
	}
	return sorted[0]
}

func selectLeastUsed(sorted []*resource.Resource) *resource.Resource {
	best := sorted[0]
	bestUsages := best.Usages()
	for _, r := range sorted[1:] {
		if u := r.Usages(); u < bestUsages {
			best, bestUsages = r, u
		}
	}
	return best
}

// selectFastest prefers measured latency; resources without a sample
// yet rank last so a proven fast one is never displaced by an unknown.
func selectFastest(sorted []*resource.Resource) *resource.Resource {
	best := sorted[0]
	bestLatency := probeLatency(best)
	for _, r := range sorted[1:] {
		if l := probeLatency(r); l < bestLatency {
			best, bestLatency = r, l
		}
	}
	return best
}

func probeLatency(r *resource.Resource) int64 {
	if !r.HasSamples() {
		return math.MaxInt64
	}
	return r.LastLatencyMs()
}

func selectHealthBased(sorted []*resource.Resource) *resource.Resource {
	best := sorted[0]
	bestRate := best.SuccessRate()
	for _, r := range sorted[1:] {
		if rate := r.SuccessRate(); rate > bestRate {
			best, bestRate = r, rate
		}
	}
	return best
}

func selectCostOptimized(sorted []*resource.Resource) *resource.Resource {
	best := sorted[0]
	for _, r := range sorted[1:] {
		if r.Cost < best.Cost {
			best = r
		}
	}
	return best
}

// selectGeographic narrows to resources tagged with a preferred region
// and draws uniformly; with no regional match it falls back to a
// uniform draw over all survivors.
func selectGeographic(preferred []string, sorted []*resource.Resource) *resource.Resource {
	if len(preferred) > 0 {
		regional := make([]*resource.Resource, 0, len(sorted))
		for _, r := range sorted {
			region := r.Attr("region")
			for _, want := range preferred {
				if region == want {
					regional = append(regional, r)
					break
				}
			}
		}
		if len(regional) > 0 {
			return regional[rand.Intn(len(regional))]
		}
	}
	return sorted[rand.Intn(len(sorted))]
}

// selectSticky keeps handing out the current resource while the sticky
// window is open, then falls back to LEAST_USED.
func selectSticky(p Params, st State, sorted []*resource.Resource) *resource.Resource {
	if st.CurrentID != "" && st.Now.Sub(st.LastRotationAt) < p.StickyDuration() {
		for _, r := range sorted {
			if r.ID == st.CurrentID {
				return r
			}
		}
	}
	return selectLeastUsed(sorted)
}
