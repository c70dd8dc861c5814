// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
)

// FilterConfig sets the cardiac pass band.
type FilterConfig struct {
	HighPassHz float64 `yaml:"high_pass_hz"` // Rejects DC offset and rumble.
	LowPassHz  float64 `yaml:"low_pass_hz"`  // Rejects harmonics and ambient noise.
	Q          float64 `yaml:"q"`            // Quality factor of both sections (0.7071 = Butterworth).
}

// DefaultFilterConfig returns a 20-250 Hz Butterworth band.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		HighPassHz: 20,
		LowPassHz:  250,
		Q:          math.Sqrt2 / 2,
	}
}

// Validate checks the band against the given sample rate.
func (c FilterConfig) Validate(sampleRate float64) error {
	nyquist := sampleRate / 2
	switch {
	case c.Q <= 0:
		return fmt.Errorf("filter q must be positive, got %g", c.Q)
	case c.HighPassHz <= 0:
		return fmt.Errorf("high-pass cutoff must be positive, got %g Hz", c.HighPassHz)
	case c.LowPassHz <= c.HighPassHz:
		return fmt.Errorf("low-pass cutoff %g Hz must be above high-pass cutoff %g Hz", c.LowPassHz, c.HighPassHz)
	case c.LowPassHz >= nyquist:
		return fmt.Errorf("low-pass cutoff %g Hz must be below nyquist %g Hz", c.LowPassHz, nyquist)
	}
	return nil
}

// Biquad is a second-order IIR section in direct form I. State advances
// once per call to Filter, so a section must see its samples in order.
type Biquad struct {
	b, a [3]float64
	x, y [2]float64
}

// NewLowPass designs a low-pass section (RBJ cookbook).
func NewLowPass(sampleRate, cutoff, q float64) *Biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 - cos) / 2
	b1 := 1 - cos
	b2 := (1 - cos) / 2
	a0 := 1 + alpha
	a1 := -2 * cos
	a2 := 1 - alpha
	return &Biquad{
		b: [3]float64{b0 / a0, b1 / a0, b2 / a0},
		a: [3]float64{1, a1 / a0, a2 / a0},
	}
}

// NewHighPass designs a high-pass section (RBJ cookbook).
func NewHighPass(sampleRate, cutoff, q float64) *Biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 + cos) / 2
	b1 := -(1 + cos)
	b2 := (1 + cos) / 2
	a0 := 1 + alpha
	a1 := -2 * cos
	a2 := 1 - alpha
	return &Biquad{
		b: [3]float64{b0 / a0, b1 / a0, b2 / a0},
		a: [3]float64{1, a1 / a0, a2 / a0},
	}
}

// Filter processes one sample.
func (f *Biquad) Filter(x float64) float64 {
	y := f.b[0]*x + f.b[1]*f.x[0] + f.b[2]*f.x[1] - f.a[1]*f.y[0] - f.a[2]*f.y[1]
	f.x[1], f.x[0] = f.x[0], x
	f.y[1], f.y[0] = f.y[0], y
	return y
}

// Reset clears the delay line.
func (f *Biquad) Reset() {
	f.x = [2]float64{}
	f.y = [2]float64{}
}

// BandFilter is a high-pass section followed by a low-pass section.
// It is not safe for concurrent use.
type BandFilter struct {
	hp *Biquad
	lp *Biquad
}

// Compile-time check for interface implementation.
var _ SampleProcessor = (*BandFilter)(nil)

// NewBandFilter builds the cascade for the given sample rate.
func NewBandFilter(sampleRate float64, cfg FilterConfig) (*BandFilter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	if err := cfg.Validate(sampleRate); err != nil {
		return nil, err
	}
	return &BandFilter{
		hp: NewHighPass(sampleRate, cfg.HighPassHz, cfg.Q),
		lp: NewLowPass(sampleRate, cfg.LowPassHz, cfg.Q),
	}, nil
}

// Apply filters in into out, which must be at least as long as in. The
// two slices may be the same.
func (f *BandFilter) Apply(in, out []float32) {
	for i, s := range in {
		out[i] = float32(f.lp.Filter(f.hp.Filter(float64(s))))
	}
}

// Process filters samples in place.
func (f *BandFilter) Process(samples []float32) {
	f.Apply(samples, samples)
}

// Reset clears both sections.
func (f *BandFilter) Reset() {
	f.hp.Reset()
	f.lp.Reset()
}
