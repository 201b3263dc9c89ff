package server

import "sync"

// RequestStats aggregates proxy-level request counters, separate from
// the per-provider health counters the tracker keeps.
type RequestStats struct {
	mu          sync.Mutex
	total       int64
	successful  int64
	failed      int64
	fallback    int64
	rateLimited int64
}

// NewRequestStats creates a zeroed stats collector.
func NewRequestStats() *RequestStats {
	return &RequestStats{}
}

// Record counts one completed proxy request. fallback marks requests
// not served by the originally selected provider; rateLimited marks
// requests that saw at least one 429 along the way.
func (s *RequestStats) Record(success, fallback, rateLimited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if success {
		s.successful++
	} else {
		s.failed++
	}
	if fallback {
		s.fallback++
	}
	if rateLimited {
		s.rateLimited++
	}
}

// Snapshot returns the counters as a JSON-ready map.
func (s *RequestStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]int64{
		"total_requests":        s.total,
		"successful_requests":   s.successful,
		"failed_requests":       s.failed,
		"fallback_requests":     s.fallback,
		"rate_limited_requests": s.rateLimited,
	}
}
