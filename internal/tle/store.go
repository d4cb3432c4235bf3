package tle

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store provides thread-safe access to the element sets most recently served,
// one per satellite. Readers never block: the map is replaced wholesale on
// every write and published through an atomic pointer.
type Store struct {
	sets atomic.Pointer[map[int]ElementSet]
	mu   sync.Mutex // serializes writers
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	s := &Store{}
	empty := make(map[int]ElementSet)
	s.sets.Store(&empty)
	return s
}

// Get returns the current element set for noradID.
func (s *Store) Get(noradID int) (ElementSet, bool) {
	es, ok := (*s.sets.Load())[noradID]
	return es, ok
}

// Set records es as current for its satellite. It reports whether this
// superseded a set with a different epoch (an element cutover).
func (s *Store) Set(es ElementSet) (cutover bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.sets.Load()
	prev, had := old[es.NORADID]
	if had && prev.Epoch.Equal(es.Epoch) && prev.Source == es.Source {
		return false
	}

	next := make(map[int]ElementSet, len(old)+1)
	for id, v := range old {
		next[id] = v
	}
	next[es.NORADID] = es
	s.sets.Store(&next)

	return had && !prev.Epoch.Equal(es.Epoch)
}

// All returns every tracked element set ordered by NORAD id.
func (s *Store) All() []ElementSet {
	m := *s.sets.Load()
	out := make([]ElementSet, 0, len(m))
	for _, es := range m {
		out = append(out, es)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NORADID < out[j].NORADID })
	return out
}

// Len returns the number of tracked satellites.
func (s *Store) Len() int {
	return len(*s.sets.Load())
}

// MaxEpochAgeSeconds returns the age of the oldest tracked epoch at now.
// Returns -1 if nothing is tracked.
func (s *Store) MaxEpochAgeSeconds(now time.Time) float64 {
	m := *s.sets.Load()
	if len(m) == 0 {
		return -1
	}
	var maxAge float64
	for _, es := range m {
		if age := now.Sub(es.Epoch).Seconds(); age > maxAge {
			maxAge = age
		}
	}
	return maxAge
}
