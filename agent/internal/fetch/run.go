package fetch

import (
	"sync"
)

// Run is the state shared by every fetch made during one pipeline execution.
type Run struct {
	Keys  *KeyPool
	Cache *Cache

	maxFetches int

	mu        sync.Mutex
	issued    int
	cacheHits int
	skipped   int
	byStatus  map[Status]int
}

// Stats is a point-in-time summary of a Run.
type Stats struct {
	Requests   int
	CacheHits  int
	Skipped    int
	ByStatus   map[Status]int
	BannedKeys []string
	ActiveKeys int
}

// NewRun creates the run scope for one execution. maxFetches is the hard cap
// on network requests; values <= 0 disable the cap.
func NewRun(keys []Key, maxFetches int) *Run {
	return &Run{
		Keys:       NewKeyPool(keys),
		Cache:      NewCache(),
		maxFetches: maxFetches,
		byStatus:   make(map[Status]int),
	}
}

// reserve claims one request from the budget. It returns false once the
// budget is spent.
func (r *Run) reserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxFetches > 0 && r.issued >= r.maxFetches {
		r.skipped++
		return false
	}
	r.issued++
	return true
}

func (r *Run) recordStatus(s Status) {
	r.mu.Lock()
	r.byStatus[s]++
	r.mu.Unlock()
}

func (r *Run) recordCacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

// Stats returns a copy of the run counters.
func (r *Run) Stats() Stats {
	r.mu.Lock()
	byStatus := make(map[Status]int, len(r.byStatus))
	for k, v := range r.byStatus {
		byStatus[k] = v
	}
	st := Stats{
		Requests:  r.issued,
		CacheHits: r.cacheHits,
		Skipped:   r.skipped,
		ByStatus:  byStatus,
	}
	r.mu.Unlock()

	st.BannedKeys = r.Keys.Banned()
	st.ActiveKeys = r.Keys.Len()
	return st
}
