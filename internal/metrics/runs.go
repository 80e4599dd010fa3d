package metrics

import (
	"sync"
	"time"
)

// RunRecord is the outcome of one finished sync run.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	Outcome    string        `json:"outcome"`
	Items      int           `json:"items"`
	Locations  int           `json:"locations"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// RunRing is a fixed-size ring buffer of recent sync runs.
type RunRing struct {
	mu      sync.RWMutex
	records []RunRecord
	head    int
	count   int
	cap     int
}

// NewRunRing creates a ring buffer with the given capacity.
func NewRunRing(capacity int) *RunRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &RunRing{
		records: make([]RunRecord, capacity),
		cap:     capacity,
	}
}

// Push adds a record, overwriting the oldest if full.
func (r *RunRing) Push(rec RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.head] = rec
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (r *RunRing) Recent(limit int) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]RunRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		result = append(result, r.records[idx])
	}
	return result
}

// Latest returns the most recent record.
func (r *RunRing) Latest() (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return RunRecord{}, false
	}
	idx := (r.head - 1 + r.cap) % r.cap
	return r.records[idx], true
}
