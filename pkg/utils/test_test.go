// SPDX-License-Identifier: MIT
package utils

import (
	"errors"
	"math"
	"os"
	"testing"
)

const (
	testSize       = 1024
	testSampleRate = 44100
	testFrequency  = 100.0
)

var testMagnitudes []float64

func TestMain(m *testing.M) {
	testMagnitudes = make([]float64, testSize)
	// A hill peaking at testSize/4.
	for i := range testMagnitudes {
		testMagnitudes[i] = math.Exp(-0.01 * math.Pow(float64(i-testSize/4), 2))
	}
	os.Exit(m.Run())
}

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}
	for _, msg := range []any{"a", 2, map[string]any{"type": "beat"}} {
		if err := mt.Send(msg); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if got := len(mt.Sent()); got != 3 {
		t.Errorf("recorded %d messages, want 3", got)
	}

	mt.Err = errors.New("down")
	if err := mt.Send("lost"); err == nil {
		t.Error("Send() should return the configured error")
	}
	if got := len(mt.Sent()); got != 3 {
		t.Errorf("failed send was recorded")
	}

	if mt.Closed() {
		t.Error("closed before Close()")
	}
	mt.Close()
	if !mt.Closed() {
		t.Error("Close() not recorded")
	}
}

func TestGenerateComplexWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
	}{
		{"Standard", 1024, 44100},
		{"Small", 16, 8000},
		{"Large", 8192, 96000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateComplexWave(tt.size, tt.sampleRate)
			if len(result) != tt.size {
				t.Fatalf("buffer size = %d, want %d", len(result), tt.size)
			}
			hasNonZero := false
			for _, v := range result {
				if v > 1 || v < -1 {
					t.Fatalf("sample %g outside [-1, 1]", v)
				}
				if v != 0 {
					hasNonZero = true
				}
			}
			if !hasNonZero {
				t.Errorf("GenerateComplexWave() produced all zeros")
			}
		})
	}
}

func TestGenerateSineWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"Heart band", 4410, 44100, 100},
		{"Low rate", 1024, 8000, 60},
		{"High rate", 4096, 96000, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSineWave(tt.size, tt.sampleRate, tt.frequency)
			if len(result) != tt.size {
				t.Fatalf("buffer size = %d, want %d", len(result), tt.size)
			}

			crossCount := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0) != (result[i] < 0) {
					crossCount++
				}
			}
			samplesPerCycle := tt.sampleRate / tt.frequency
			expected := float64(tt.size) / (samplesPerCycle / 2)
			if tolerance := 0.2*expected + 1; math.Abs(float64(crossCount)-expected) > tolerance {
				t.Errorf("zero crossings = %d, expected approximately %.1f±%.1f", crossCount, expected, tolerance)
			}
		})
	}
}

func TestHeartSounds(t *testing.T) {
	h := HeartSounds{SampleRate: 8000, BPM: 60, Amplitude: 0.5, Offset: 0.25, Seed: 1}
	buf := h.Generate(16000)

	peakIn := func(from, to float64) float64 {
		p := 0.0
		for i := int(from * 8000); i < int(to*8000); i++ {
			p = math.Max(p, math.Abs(float64(buf[i])))
		}
		return p
	}

	if p := peakIn(0, 0.25); p != 0 {
		t.Errorf("signal before offset: %g", p)
	}
	if p := peakIn(0.25, 0.35); p < 0.4 || p > 0.5 {
		t.Errorf("S1 peak = %g, want near 0.5", p)
	}
	if p := peakIn(0.45, 0.53); p < 0.2 || p > 0.3 {
		t.Errorf("S2 peak = %g, want near 0.3", p)
	}
	if p := peakIn(0.6, 1.2); p != 0 {
		t.Errorf("signal in diastole: %g", p)
	}
	if p := peakIn(1.25, 1.35); p < 0.4 {
		t.Errorf("second S1 missing: %g", p)
	}

	noisy := HeartSounds{SampleRate: 8000, BPM: 60, Noise: 0.01, Seed: 4}
	a, b := noisy.Generate(100), noisy.Generate(100)
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed produced different noise")
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", testMagnitudes, 0, testSize - 1, testSize / 4},
		{"Partial Range Start", testMagnitudes, testSize / 8, testSize - 1, testSize / 4},
		{"Partial Range End", testMagnitudes, 0, testSize / 3, testSize / 4},
		{"Negative Start", testMagnitudes, -10, testSize - 1, testSize / 4},
		{"Out of Range End", testMagnitudes, 0, testSize * 2, testSize / 4},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := FindPeakBin(tt.mags, tt.start, tt.end); result != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", result, tt.expected)
			}
		})
	}

	allocs := testing.AllocsPerRun(100, func() {
		FindPeakBin(testMagnitudes, 0, len(testMagnitudes)-1)
	})
	if allocs > 0 {
		t.Errorf("FindPeakBin allocated memory: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkGenerateSineWave(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		GenerateSineWave(testSize, testSampleRate, testFrequency)
	}
}

func BenchmarkFindPeakBin(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		FindPeakBin(testMagnitudes, 0, testSize-1)
	}
}
