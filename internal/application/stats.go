package application

import (
	"sort"
	"sync"

	"github.com/qaforge/botshield/internal/domain"
)

// latencyWindowSize bounds the sample window used for percentile
// estimates.
const latencyWindowSize = 1024

// engineStats tracks running classification statistics. Safe for
// concurrent use.
type engineStats struct {
	mu sync.Mutex

	total           int64
	totalLatencyMs  float64
	classifications map[domain.Classification]int64

	// latencies is a ring of the most recent total latencies.
	latencies []float64
	next      int
	filled    bool
}

func newEngineStats() *engineStats {
	return &engineStats{
		classifications: make(map[domain.Classification]int64),
		latencies:       make([]float64, latencyWindowSize),
	}
}

func (s *engineStats) record(classification domain.Classification, latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.totalLatencyMs += latencyMs
	s.classifications[classification]++

	s.latencies[s.next] = latencyMs
	s.next++
	if s.next == len(s.latencies) {
		s.next = 0
		s.filled = true
	}
}

// snapshot returns copies of the running counters.
func (s *engineStats) snapshot() (total int64, avgLatencyMs float64, counts map[domain.Classification]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts = make(map[domain.Classification]int64, len(s.classifications))
	for k, v := range s.classifications {
		counts[k] = v
	}
	if s.total > 0 {
		avgLatencyMs = s.totalLatencyMs / float64(s.total)
	}
	return s.total, avgLatencyMs, counts
}

// percentiles returns the P95 and P99 latencies over the sample window.
func (s *engineStats) percentiles() (p95, p99 float64) {
	s.mu.Lock()
	n := s.next
	if s.filled {
		n = len(s.latencies)
	}
	window := make([]float64, n)
	copy(window, s.latencies[:n])
	s.mu.Unlock()

	if n == 0 {
		return 0, 0
	}
	sort.Float64s(window)
	return window[percentileIndex(n, 0.95)], window[percentileIndex(n, 0.99)]
}

func percentileIndex(n int, q float64) int {
	idx := int(float64(n)*q) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
