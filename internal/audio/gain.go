// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/config"
	"sync/atomic"
)

// Gain is the monitoring volume, a linear factor in [MinGain, MaxGain]. It
// is the only pipeline value changed from outside a session; a new value
// applies to the next block and leaves filter state alone.
type Gain struct {
	v atomic.Int32
}

// Set stores the clamped value and returns it.
func (g *Gain) Set(v int) int {
	v = max(config.MinGain, min(v, config.MaxGain))
	g.v.Store(int32(v))
	return v
}

// Get returns the current value.
func (g *Gain) Get() int {
	return int(g.v.Load())
}

// Apply writes src scaled by the current gain into dst, clipped to [-1, 1].
func (g *Gain) Apply(dst, src []float32) {
	k := float32(g.Get())
	for i, s := range src {
		v := s * k
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
}
