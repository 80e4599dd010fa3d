package ratelimit

import "time"

// RequestHistory keeps reply timestamps, most recent first. Pushing into a
// full history drops the oldest entry. Capacity only ever grows.
type RequestHistory struct {
	times    []time.Time
	capacity int
}

// NewRequestHistory returns an empty history with the given capacity.
func NewRequestHistory(capacity int) *RequestHistory {
	if capacity < 0 {
		capacity = 0
	}
	return &RequestHistory{times: make([]time.Time, 0, capacity), capacity: capacity}
}

// Push records t as the most recent reply.
func (h *RequestHistory) Push(t time.Time) {
	if h.capacity == 0 {
		return
	}
	if len(h.times) < h.capacity {
		h.times = append(h.times, time.Time{})
	}
	copy(h.times[1:], h.times[:len(h.times)-1])
	h.times[0] = t
}

// SetCapacity grows the history to n entries. Smaller values are ignored.
func (h *RequestHistory) SetCapacity(n int) {
	if n <= h.capacity {
		return
	}
	grown := make([]time.Time, len(h.times), n)
	copy(grown, h.times)
	h.times = grown
	h.capacity = n
}

// Len is the number of recorded timestamps.
func (h *RequestHistory) Len() int { return len(h.times) }

// Cap is the current capacity.
func (h *RequestHistory) Cap() int { return h.capacity }

// At returns the i-th most recent timestamp (0 is the newest).
func (h *RequestHistory) At(i int) time.Time { return h.times[i] }
