// SPDX-License-Identifier: MIT
package clip

import (
	"fmt"
	"math"
)

// Resample converts mono samples from one rate to another by linear
// interpolation. The output holds round(len*to/from) samples.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	n := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]float32, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out, nil
}

// Amplify multiplies samples in place by factor and clips to [-1, 1].
func Amplify(samples []float32, factor float64) {
	f := float32(factor)
	for i, s := range samples {
		samples[i] = max(-1, min(1, s*f))
	}
}
