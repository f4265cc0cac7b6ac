package resilient

import "sync"

// DefaultHistoryDepth is the number of poll results kept when no depth is set.
const DefaultHistoryDepth = 20

// History is a bounded, concurrency-safe ring of values. Once full, appending
// evicts the oldest entry.
type History[T any] struct {
	mu    sync.RWMutex
	buf   []T
	start int
	n     int
}

// NewHistory returns a History holding at most depth values.
// A non-positive depth falls back to DefaultHistoryDepth.
func NewHistory[T any](depth int) *History[T] {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History[T]{buf: make([]T, depth)}
}

// Append adds v, evicting the oldest value when full.
func (h *History[T]) Append(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns a copy of the stored values, oldest first.
func (h *History[T]) Snapshot() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]T, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Latest returns the newest value, or false when empty.
func (h *History[T]) Latest() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.n == 0 {
		var zero T
		return zero, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Len returns the number of stored values.
func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Cap returns the maximum number of stored values.
func (h *History[T]) Cap() int {
	return len(h.buf)
}
