// SPDX-License-Identifier: MIT

// Package utils provides signal generators and doubles shared by tests.
package utils

import (
	"math"
	"math/rand"
	"sync"
)

// MockTransport records every message sent through it.
type MockTransport struct {
	mu       sync.Mutex
	Messages []any
	Err      error
	closed   bool
}

// Send stores data for later inspection instead of transmitting. When Err is
// set it is returned and nothing is stored.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateComplexWave returns a 60 Hz fundamental with two harmonics,
// peaking below full scale.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*60*tm)*0.5 +
			math.Sin(2*math.Pi*120*tm)*0.3 +
			math.Sin(2*math.Pi*180*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns a unit-amplitude sine.
func GenerateSineWave(size int, sampleRate, frequency float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2 * math.Pi * frequency * t))
	}
	return buffer
}

// HeartSounds describes a synthetic phonocardiogram.
type HeartSounds struct {
	SampleRate float64
	BPM        float64
	Amplitude  float64 // Peak of the S1 burst.
	Noise      float64 // Peak of uniform background noise.
	Offset     float64 // Seconds before the first S1.
	Seed       int64
}

const (
	s1Freq     = 60.0
	s1Length   = 0.100
	s2Freq     = 90.0
	s2Length   = 0.080
	s2Delay    = 0.200
	s2Relative = 0.6
)

// Generate returns size samples. Each cycle holds a Hann-shaped S1 burst
// followed 200ms later by a softer S2 burst.
func (h HeartSounds) Generate(size int) []float32 {
	buffer := make([]float32, size)
	rng := rand.New(rand.NewSource(h.Seed))
	period := 60 / h.BPM

	for i := range buffer {
		tm := float64(i)/h.SampleRate - h.Offset
		v := 0.0
		if tm >= 0 {
			phase := math.Mod(tm, period)
			v += burst(phase, s1Length, s1Freq) * h.Amplitude
			v += burst(phase-s2Delay, s2Length, s2Freq) * h.Amplitude * s2Relative
		}
		if h.Noise > 0 {
			v += (rng.Float64()*2 - 1) * h.Noise
		}
		buffer[i] = float32(v)
	}
	return buffer
}

// burst is a Hann-windowed sine of the given length starting at t=0.
func burst(t, length, freq float64) float64 {
	if t < 0 || t >= length {
		return 0
	}
	w := 0.5 - 0.5*math.Cos(2*math.Pi*t/length)
	return w * math.Sin(2*math.Pi*freq*t)
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin], clamping the range to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	startBin = max(startBin, 0)
	endBin = min(endBin, len(magnitudes)-1)

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
