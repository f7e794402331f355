// stats.go - statistics registry collaborator
//
// Mirrors the Stats::{add, add_named} surface the facade registers
// its counters against. This reference registry is an in-memory,
// name-keyed snapshot sufficient for tests and the CLI's final
// report; a real deployment would wire this to whatever the larger
// simulator's statistics backend is.

package nvmain

import "sync"

// StatRegistry collects named counters for later reporting.
type StatRegistry struct {
	mu     sync.Mutex
	values map[string]uint64
}

// NewStatRegistry builds an empty registry.
func NewStatRegistry() *StatRegistry {
	return &StatRegistry{values: make(map[string]uint64)}
}

// Add registers (or overwrites) a scalar counter under name.
func (s *StatRegistry) Add(name string, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// AddNamed registers an indexed counter, e.g. AddNamed("updateColumns", "3", v)
// for updateColumns[3], matching AddNameStat's two-part naming.
func (s *StatRegistry) AddNamed(family, index string, value uint64) {
	s.Add(family+"."+index, value)
}

// Snapshot returns a copy of every registered counter.
func (s *StatRegistry) Snapshot() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
