package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type LatencyStats struct {
	Op       string  `json:"op"`
	Samples  int     `json:"samples"`
	Failures int     `json:"failures"`
	LastMS   float64 `json:"last_ms"`
	AvgMS    float64 `json:"avg_ms"`
	P50MS    float64 `json:"p50_ms"`
	P95MS    float64 `json:"p95_ms"`
	P99MS    float64 `json:"p99_ms"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Ops         []LatencyStats `json:"ops"`
}

// latencyWindow keeps a fixed ring of recent samples per operation.
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*latencyRing
	failures   map[string]int
}

type latencyRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*latencyRing),
		failures:   make(map[string]int),
	}
}

func (w *latencyWindow) Observe(op string, ms float64) {
	op = strings.TrimSpace(op)
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.ops[op]
	if !ok {
		ring = &latencyRing{values: make([]float64, w.maxSamples)}
		w.ops[op] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next >= len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *latencyWindow) ObserveFailure(op string) {
	op = strings.TrimSpace(op)
	if op == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[op]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make(map[string]struct{}, len(w.ops)+len(w.failures))
	for op := range w.ops {
		names[op] = struct{}{}
	}
	for op := range w.failures {
		names[op] = struct{}{}
	}
	keys := make([]string, 0, len(names))
	for op := range names {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	out := make([]LatencyStats, 0, len(keys))
	for _, op := range keys {
		stats := LatencyStats{Op: op, Failures: w.failures[op]}
		if ring := w.ops[op]; ring != nil {
			n := ring.next
			if ring.filled {
				n = len(ring.values)
			}
			samples := make([]float64, n)
			copy(samples, ring.values[:n])
			sort.Float64s(samples)

			sum := 0.0
			for _, v := range samples {
				sum += v
			}
			stats.Samples = n
			stats.LastMS = round2(ring.last)
			if n > 0 {
				stats.AvgMS = round2(sum / float64(n))
			}
			stats.P50MS = round2(quantile(samples, 0.50))
			stats.P95MS = round2(quantile(samples, 0.95))
			stats.P99MS = round2(quantile(samples, 0.99))
		}
		out = append(out, stats)
	}

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Ops:         out,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
