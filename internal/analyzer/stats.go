package analyzer

import "sync/atomic"

// ModelUsageStats holds process-wide per-backend counters. Counters are
// reset only on process restart and exist for observability, not
// correctness. A handle is injected wherever counting happens; there is
// no package-level instance.
type ModelUsageStats struct {
	counters map[string]*backendCounters
}

type backendCounters struct {
	invocations atomic.Int64
	fallbacks   atomic.Int64
}

// UsageSnapshot is a point-in-time copy of one backend's counters.
type UsageSnapshot struct {
	Backend     string
	Invocations int64
	Fallbacks   int64
}

// NewModelUsageStats creates counters for the given backend names. The
// set of backends is fixed at construction so increments need no locking.
func NewModelUsageStats(backends ...string) *ModelUsageStats {
	counters := make(map[string]*backendCounters, len(backends))
	for _, name := range backends {
		counters[name] = &backendCounters{}
	}
	return &ModelUsageStats{counters: counters}
}

// RecordInvocation counts one backend call. Unknown backends are ignored.
func (s *ModelUsageStats) RecordInvocation(backend string) {
	if c, ok := s.counters[backend]; ok {
		c.invocations.Add(1)
	}
}

// RecordFallback counts one switch onto the given backend caused by a
// primary failure or quality miss.
func (s *ModelUsageStats) RecordFallback(backend string) {
	if c, ok := s.counters[backend]; ok {
		c.fallbacks.Add(1)
	}
}

// Invocations returns the invocation count for a backend.
func (s *ModelUsageStats) Invocations(backend string) int64 {
	if c, ok := s.counters[backend]; ok {
		return c.invocations.Load()
	}
	return 0
}

// Fallbacks returns the fallback count for a backend.
func (s *ModelUsageStats) Fallbacks(backend string) int64 {
	if c, ok := s.counters[backend]; ok {
		return c.fallbacks.Load()
	}
	return 0
}

// Snapshot returns a copy of all counters.
func (s *ModelUsageStats) Snapshot() []UsageSnapshot {
	out := make([]UsageSnapshot, 0, len(s.counters))
	for name, c := range s.counters {
		out = append(out, UsageSnapshot{
			Backend:     name,
			Invocations: c.invocations.Load(),
			Fallbacks:   c.fallbacks.Load(),
		})
	}
	return out
}
