package events

import "time"

// Tuner nudges a pool's probe and rotation intervals based on the
// success ratio of its recent rotation decisions: a pool that keeps
// failing to rotate gets probed more aggressively, a quiet healthy one
// backs off.
type Tuner struct {
	Window      int           // how many recent events to look at
	LowRatio    float64       // shrink the interval below this ratio
	HighRatio   float64       // widen the interval above this ratio
	Step        float64       // fractional adjustment per pass
	MinInterval time.Duration // clamp
	MaxInterval time.Duration // clamp
}

func NewTuner() *Tuner {
	return &Tuner{
		Window:      50,
		LowRatio:    0.5,
		HighRatio:   0.9,
		Step:        0.2,
		MinInterval: 5 * time.Second,
		MaxInterval: 5 * time.Minute,
	}
}

// Recommend returns the adjusted interval for a pool. With fewer than
// 10 observed decisions it leaves the interval alone.
func (t *Tuner) Recommend(current time.Duration, log *Log, poolID string) time.Duration {
	recent := log.ByPool(poolID, t.Window)
	if len(recent) < 10 {
		return current
	}
	success := 0
	for _, ev := range recent {
		if ev.Success {
			success++
		}
	}
	ratio := float64(success) / float64(len(recent))

	adjusted := current
	if ratio < t.LowRatio {
		adjusted = time.Duration(float64(current) * (1 - t.Step))
	} else if ratio > t.HighRatio {
		adjusted = time.Duration(float64(current) * (1 + t.Step))
	}
	if adjusted < t.MinInterval {
		adjusted = t.MinInterval
	}
	if adjusted > t.MaxInterval {
		adjusted = t.MaxInterval
	}
	return adjusted
}
