// SPDX-License-Identifier: MIT
package analysis

import (
	"cardio/pkg/utils"
	"math"
	"testing"
	"time"
)

const filterTestRate = 44100.0

func newTestBandFilter(t *testing.T) *BandFilter {
	t.Helper()
	f, err := NewBandFilter(filterTestRate, DefaultFilterConfig())
	if err != nil {
		t.Fatalf("NewBandFilter: %v", err)
	}
	return f
}

// settledGain filters two seconds of a unit sine and returns the output RMS
// of the second half relative to the input RMS.
func settledGain(t *testing.T, freq float64) float64 {
	t.Helper()
	f := newTestBandFilter(t)
	n := int(2 * filterTestRate)
	in := utils.GenerateSineWave(n, filterTestRate, freq)
	out := make([]float32, n)
	f.Apply(in, out)
	return RMS(out[n/2:]) / RMS(in[n/2:])
}

func TestBandFilterResponse(t *testing.T) {
	tests := []struct {
		name     string
		freq     float64
		min, max float64
	}{
		{"rumble", 5, 0, 0.1},
		{"heart sound", 100, 0.9, 1.05},
		{"ambient", 1000, 0, 0.1},
		{"speech band", 3000, 0, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := settledGain(t, tt.freq)
			if g < tt.min || g > tt.max {
				t.Errorf("gain at %g Hz = %.4f, want [%g, %g]", tt.freq, g, tt.min, tt.max)
			}
		})
	}
}

func TestBandFilterRejectsDC(t *testing.T) {
	f := newTestBandFilter(t)
	buf := make([]float32, int(filterTestRate))
	for i := range buf {
		buf[i] = 0.5
	}
	f.Process(buf)
	if last := math.Abs(float64(buf[len(buf)-1])); last > 1e-3 {
		t.Errorf("DC not removed: last sample %g", last)
	}
}

func TestBandFilterResetMatchesFresh(t *testing.T) {
	in := utils.GenerateSineWave(4096, filterTestRate, 80)

	used := newTestBandFilter(t)
	scratch := make([]float32, len(in))
	used.Apply(in, scratch)
	used.Reset()

	a := make([]float32, len(in))
	b := make([]float32, len(in))
	used.Apply(in, a)
	newTestBandFilter(t).Apply(in, b)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs after reset: %g != %g", i, a[i], b[i])
		}
	}
}

func TestBandFilterConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  FilterConfig
	}{
		{"inverted band", FilterConfig{HighPassHz: 300, LowPassHz: 200, Q: 0.7}},
		{"above nyquist", FilterConfig{HighPassHz: 20, LowPassHz: 30000, Q: 0.7}},
		{"zero q", FilterConfig{HighPassHz: 20, LowPassHz: 250, Q: 0}},
		{"zero high-pass", FilterConfig{HighPassHz: 0, LowPassHz: 250, Q: 0.7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBandFilter(filterTestRate, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBandFilterZeroAllocs(t *testing.T) {
	f := newTestBandFilter(t)
	buf := utils.GenerateSineWave(512, filterTestRate, 100)
	allocs := testing.AllocsPerRun(100, func() {
		f.Process(buf)
	})
	if allocs > 0 {
		t.Errorf("Process allocated %.1f times per call", allocs)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"clamped", []float32{2, -2}, 1},
		{"sine", utils.GenerateSineWave(44100, 44100, 100), math.Sqrt2 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.in); math.Abs(got-tt.want) > 1e-3 {
				t.Errorf("RMS = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestEnergyEstimatorCarriesForward(t *testing.T) {
	var e EnergyEstimator
	v := e.Frame([]float32{0.2, -0.2}, 10*time.Millisecond)
	if math.Abs(v.Value-0.2) > 1e-6 || v.At != 10*time.Millisecond {
		t.Fatalf("frame = %+v", v)
	}
	v = e.Frame(nil, 26*time.Millisecond)
	if math.Abs(v.Value-0.2) > 1e-6 || v.At != 26*time.Millisecond {
		t.Errorf("empty tick = %+v, want carried 0.2", v)
	}
	e.Reset()
	if v = e.Frame(nil, 0); v.Value != 0 {
		t.Errorf("after reset = %+v", v)
	}
}

func TestSignalLevel(t *testing.T) {
	if got := SignalLevel(0.1); got != 50 {
		t.Errorf("SignalLevel(0.1) = %g, want 50", got)
	}
	if got := SignalLevel(0.5); got != 100 {
		t.Errorf("SignalLevel(0.5) = %g, want 100", got)
	}
}

func BenchmarkBandFilter(b *testing.B) {
	f, _ := NewBandFilter(filterTestRate, DefaultFilterConfig())
	buf := utils.GenerateSineWave(512, filterTestRate, 100)
	for b.Loop() {
		f.Process(buf)
	}
}
