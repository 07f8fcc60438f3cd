package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_Percentiles(t *testing.T) {
	tr := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}

	s := tr.Stats()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 1.0, s.MinMs)
	assert.Equal(t, 100.0, s.MaxMs)
	assert.Equal(t, 50.0, s.P50Ms)
	assert.Equal(t, 95.0, s.P95Ms)
	assert.Equal(t, 99.0, s.P99Ms)
}

func TestLatencyTracker_WindowKeepsRecent(t *testing.T) {
	tr := NewLatencyTracker(3)
	for _, d := range []int{500, 1, 2, 3} {
		tr.Record(time.Duration(d) * time.Millisecond)
	}

	s := tr.Stats()
	assert.Equal(t, int64(4), s.Count)
	assert.Equal(t, 3.0, s.MaxMs, "oldest sample evicted")
	assert.Equal(t, 2.0, s.AvgMs)
}

func TestRegistry(t *testing.T) {
	var nilReg *Registry
	nilReg.Record("classify", time.Second)
	assert.Empty(t, nilReg.Snapshot())

	r := NewRegistry(10)
	r.Record("classify", 4*time.Millisecond)
	r.Record("send", 20*time.Millisecond)
	r.Record("send", 40*time.Millisecond)

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, int64(2), snap["send"].Count)
	assert.Equal(t, 30.0, snap["send"].AvgMs)
	assert.Empty(t, NewLatencyTracker(5).Stats())
}
