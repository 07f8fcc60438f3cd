// Package metrics tracks per-stage pipeline latency with percentiles.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const DefaultWindow = 500

// LatencyTracker keeps the most recent samples in a ring buffer.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &LatencyTracker{samples: make([]time.Duration, window)}
}

func (t *LatencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.full = true
	}
	t.count++
}

// LatencyStats is reported in milliseconds. Count is lifetime; the
// percentiles cover the retained window only.
type LatencyStats struct {
	Count int64   `json:"count"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

func (t *LatencyTracker) Stats() LatencyStats {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	window := make([]time.Duration, n)
	copy(window, t.samples[:n])
	count := t.count
	t.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	return LatencyStats{
		Count: count,
		MinMs: ms(window[0]),
		MaxMs: ms(window[n-1]),
		AvgMs: ms(sum / time.Duration(n)),
		P50Ms: ms(percentile(window, 0.50)),
		P95Ms: ms(percentile(window, 0.95)),
		P99Ms: ms(percentile(window, 0.99)),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Registry holds one tracker per pipeline stage. A nil Registry records nothing.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

func NewRegistry(window int) *Registry {
	return &Registry{
		trackers: make(map[string]*LatencyTracker),
		window:   window,
	}
}

func (r *Registry) Record(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.RLock()
	tracker, ok := r.trackers[stage]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[stage]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[stage] = tracker
		}
		r.mu.Unlock()
	}
	tracker.Record(d)
}

// Since records the time elapsed from start.
func (r *Registry) Since(stage string, start time.Time) {
	r.Record(stage, time.Since(start))
}

func (r *Registry) Snapshot() map[string]LatencyStats {
	if r == nil {
		return map[string]LatencyStats{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(r.trackers))
	for name, tracker := range r.trackers {
		result[name] = tracker.Stats()
	}
	return result
}
