// SPDX-License-Identifier: MIT
package audio

import "sync"

// Handoff passes filtered samples from the ingest goroutine to the tick
// goroutine. It is a mutex-guarded ring with a single consumer. When the
// consumer falls behind, the oldest samples are overwritten.
type Handoff struct {
	mu      sync.Mutex
	buf     []float32
	head    int
	count   int
	dropped uint64
}

// NewHandoff creates a handoff holding up to capacity samples.
func NewHandoff(capacity int) *Handoff {
	return &Handoff{buf: make([]float32, max(1, capacity))}
}

// Write appends samples in order.
func (h *Handoff) Write(samples []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := len(h.buf)
	if len(samples) > size {
		h.dropped += uint64(len(samples) - size)
		samples = samples[len(samples)-size:]
	}
	if over := h.count + len(samples) - size; over > 0 {
		h.head = (h.head + over) % size
		h.count -= over
		h.dropped += uint64(over)
	}

	tail := (h.head + h.count) % size
	n := copy(h.buf[tail:], samples)
	copy(h.buf, samples[n:])
	h.count += len(samples)
}

// Drain moves up to len(dst) of the oldest samples into dst and returns how
// many were moved.
func (h *Handoff) Drain(dst []float32) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := min(len(dst), h.count)
	first := min(n, len(h.buf)-h.head)
	copy(dst, h.buf[h.head:h.head+first])
	copy(dst[first:n], h.buf)
	h.head = (h.head + n) % len(h.buf)
	h.count -= n
	return n
}

// Len returns the number of buffered samples.
func (h *Handoff) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Dropped returns the number of samples overwritten before being drained.
func (h *Handoff) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Reset discards all buffered samples and the drop count.
func (h *Handoff) Reset() {
	h.mu.Lock()
	h.head, h.count, h.dropped = 0, 0, 0
	h.mu.Unlock()
}
