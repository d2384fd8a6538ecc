package dispatcher

import (
	"sort"
	"sync"

	"github.com/sheratan/mesh/pkg/model"
)

// baselineTracker keeps a rolling window of observed latency/cost values per
// intent and exposes the p50/p95 needed to normalize L_norm/C_norm in
// Sheratan Score v1. A bounded window rather than an EMA, so percentiles
// (not just a mean) are available.
type baselineTracker struct {
	mu       sync.Mutex
	windowN  int
	latency  map[model.Intent][]float64
	cost     map[model.Intent][]float64
}

func newBaselineTracker(windowN int) *baselineTracker {
	if windowN <= 0 {
		windowN = 100
	}
	return &baselineTracker{
		windowN: windowN,
		latency: make(map[model.Intent][]float64),
		cost:    make(map[model.Intent][]float64),
	}
}

func (b *baselineTracker) observe(intent model.Intent, latencyMS, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency[intent] = pushBounded(b.latency[intent], latencyMS, b.windowN)
	b.cost[intent] = pushBounded(b.cost[intent], cost, b.windowN)
}

func pushBounded(series []float64, v float64, max int) []float64 {
	series = append(series, v)
	if len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

// percentiles returns p50, p95 of series (0, 0 if series is empty).
func percentiles(series []float64) (p50, p95 float64) {
	if len(series) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), series...)
	sort.Float64s(sorted)
	return percentileOf(sorted, 0.50), percentileOf(sorted, 0.95)
}

func percentileOf(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// normalize returns (v - p50) / (p95 - p50) clamped to [0, 1]. A
// degenerate baseline (p95 == p50, e.g. too few samples) normalizes to 0
// rather than dividing by zero.
func normalize(v, p50, p95 float64) float64 {
	spread := p95 - p50
	if spread <= 0 {
		return 0
	}
	n := (v - p50) / spread
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// LatencyBaseline returns the rolling p50/p95 latency for intent.
func (b *baselineTracker) LatencyBaseline(intent model.Intent) (p50, p95 float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return percentiles(b.latency[intent])
}

// CostBaseline returns the rolling p50/p95 cost for intent.
func (b *baselineTracker) CostBaseline(intent model.Intent) (p50, p95 float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return percentiles(b.cost[intent])
}
