package stats

import (
	"time"

	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
)

// PoolStats is the read-side summary of one pool's members, recomputed
// on demand; nothing here is cached.
type PoolStats struct {
	PoolID         string                  `json:"poolId"`
	Total          int                     `json:"total"`
	ByStatus       map[resource.Status]int `json:"byStatus"`
	Available      int                     `json:"available"`
	AvgSuccessRate float64                 `json:"avgSuccessRate"`
	AvgLatencyMs   float64                 `json:"avgLatencyMs"`
	TotalSessions  int64                   `json:"totalSessions"`
	InUse          int                     `json:"inUse"`
}

// Compute derives pool statistics from the member resources. Cooldown
// and threshold come from the pool's strategy so Available matches what
// acquire would actually consider.
func Compute(poolID string, members []*resource.Resource, now time.Time, cooldown time.Duration, healthThreshold float64) PoolStats {
	st := PoolStats{
		PoolID:   poolID,
		Total:    len(members),
		ByStatus: map[resource.Status]int{},
	}

	var rateSum float64
	var latencySum int64
	var latencySamples int
	for _, r := range members {
		v := r.View()
		st.ByStatus[v.Status]++
		st.TotalSessions += v.Usages
		st.InUse += v.CurrentUses
		rateSum += v.SuccessRate
		if v.Health.LastLatencyMs > 0 {
			latencySum += v.Health.LastLatencyMs
			latencySamples++
		}
		if r.Selectable(now, cooldown, healthThreshold) {
			st.Available++
		}
	}
	if len(members) > 0 {
		st.AvgSuccessRate = rateSum / float64(len(members))
	}
	if latencySamples > 0 {
		st.AvgLatencyMs = float64(latencySum) / float64(latencySamples)
	}
	return st
}
