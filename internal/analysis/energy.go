// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"time"
)

// RMS returns the root-mean-square amplitude of samples, clamped to [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquare float64
	for _, s := range samples {
		v := float64(s)
		sumSquare += v * v
	}

	rms := math.Sqrt(sumSquare / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}

// EnergyEstimator turns the samples gathered during one display tick into
// a single EnergyValue. A tick that gathered nothing repeats the previous
// value so a late audio block does not read as a sudden drop.
type EnergyEstimator struct {
	last float64
}

// Frame returns the energy of samples stamped with at.
func (e *EnergyEstimator) Frame(samples []float32, at time.Duration) EnergyValue {
	if len(samples) > 0 {
		e.last = RMS(samples)
	}
	return EnergyValue{Value: e.last, At: at}
}

// Reset forgets the carried value.
func (e *EnergyEstimator) Reset() {
	e.last = 0
}
