// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"testing"
)

func TestGainClamp(t *testing.T) {
	tests := []struct {
		input, want int
	}{
		{-1, 0},
		{0, 0},
		{8, 8},
		{15, 15},
		{16, 15},
	}

	var g Gain
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.input), func(t *testing.T) {
			if got := g.Set(tt.input); got != tt.want {
				t.Errorf("Set(%d) = %d, want %d", tt.input, got, tt.want)
			}
			if g.Get() != tt.want {
				t.Errorf("Get() = %d, want %d", g.Get(), tt.want)
			}
		})
	}
}

func TestGainApply(t *testing.T) {
	var g Gain
	g.Set(8)
	src := []float32{0.01, -0.05, 0.2, -0.2}
	dst := make([]float32, len(src))
	g.Apply(dst, src)

	want := []float32{0.08, -0.4, 1, -1}
	for i := range want {
		if diff := dst[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("dst[%d] = %g, want %g", i, dst[i], want[i])
		}
	}
	if src[2] != 0.2 {
		t.Error("Apply modified its input")
	}

	g.Set(0)
	g.Apply(dst, src)
	for i, v := range dst {
		if v != 0 {
			t.Errorf("muted dst[%d] = %g", i, v)
		}
	}
}

func TestGainApplyZeroAllocs(t *testing.T) {
	var g Gain
	g.Set(8)
	src := make([]float32, 1024)
	dst := make([]float32, 1024)
	allocs := testing.AllocsPerRun(100, func() {
		g.Apply(dst, src)
	})
	if allocs > 0 {
		t.Errorf("Apply allocated %.1f times per call", allocs)
	}
}

func TestDownmix(t *testing.T) {
	in := []float32{1, 0, 0.5, 0.5, -1, 1}
	dst := make([]float32, 3)
	downmix(dst, in, 2)
	want := []float32{0.5, 0.5, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %g, want %g", i, dst[i], want[i])
		}
	}

	mono := make([]float32, 2)
	downmix(mono, []float32{0.25, -0.25}, 1)
	if mono[0] != 0.25 || mono[1] != -0.25 {
		t.Errorf("mono = %v", mono)
	}
}
