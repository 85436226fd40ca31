package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fillEvents(l *Log, poolID string, success, failure int) {
	for i := 0; i < success; i++ {
		l.Append(RotationEvent{PoolID: poolID, Success: true})
	}
	for i := 0; i < failure; i++ {
		l.Append(RotationEvent{PoolID: poolID, Success: false, Error: "no eligible resource"})
	}
}

func TestTunerNeedsEnoughSamples(t *testing.T) {
	l := NewLog(100)
	fillEvents(l, "p1", 2, 7)

	tn := NewTuner()
	assert.Equal(t, 20*time.Second, tn.Recommend(20*time.Second, l, "p1"))
}

func TestTunerShrinksOnLowRatio(t *testing.T) {
	l := NewLog(100)
	fillEvents(l, "p1", 3, 17) // 15% success

	tn := NewTuner()
	assert.Equal(t, 16*time.Second, tn.Recommend(20*time.Second, l, "p1"))
}

func TestTunerWidensOnHighRatio(t *testing.T) {
	l := NewLog(100)
	fillEvents(l, "p1", 20, 0)

	tn := NewTuner()
	assert.Equal(t, 24*time.Second, tn.Recommend(20*time.Second, l, "p1"))
}

func TestTunerLeavesMiddleAlone(t *testing.T) {
	l := NewLog(100)
	fillEvents(l, "p1", 14, 6) // 70% success

	tn := NewTuner()
	assert.Equal(t, 20*time.Second, tn.Recommend(20*time.Second, l, "p1"))
}

func TestTunerClamps(t *testing.T) {
	l := NewLog(100)
	fillEvents(l, "p1", 0, 20)
	fillEvents(l, "p2", 20, 0)

	tn := NewTuner()
	assert.Equal(t, tn.MinInterval, tn.Recommend(6*time.Second, l, "p1"))
	assert.Equal(t, tn.MaxInterval, tn.Recommend(4*time.Minute+30*time.Second, l, "p2"))
}

func TestTunerIgnoresOtherPools(t *testing.T) {
	l := NewLog(100)
	fillEvents(l, "other", 0, 50)

	tn := NewTuner()
	assert.Equal(t, 20*time.Second, tn.Recommend(20*time.Second, l, "p1"))
}
