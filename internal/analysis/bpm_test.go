// SPDX-License-Identifier: MIT
package analysis

import (
	"math/rand"
	"testing"
	"time"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func newEstimator(t *testing.T) *BpmEstimator {
	t.Helper()
	e, err := NewBpmEstimator(DefaultBpmPolicy())
	if err != nil {
		t.Fatalf("NewBpmEstimator: %v", err)
	}
	return e
}

func TestBpmEstimator(t *testing.T) {
	tests := []struct {
		name   string
		stamps []int
		want   BpmReading
	}{
		{"two beats", []int{0, 600}, UnknownBPM},
		{"steady 600ms", []int{0, 600, 1200}, BpmReading{100, true}},
		{"steady 500ms", []int{0, 500, 1000, 1500}, BpmReading{120, true}},
		{"missed beat is outvoted", []int{0, 600, 1200, 2400}, BpmReading{100, true}},
		{"too fast", []int{0, 200, 400}, UnknownBPM},
		{"too slow", []int{0, 2000, 4000}, UnknownBPM},
		{"one survivor is not enough", []int{0, 600, 2700}, UnknownBPM},
		{"bounds inclusive", []int{0, 1500, 3000}, BpmReading{40, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEstimator(t)
			var got BpmReading
			for _, s := range tt.stamps {
				got = e.Add(ms(s))
			}
			if got != tt.want {
				t.Errorf("reading = %v, want %v", got, tt.want)
			}
			if e.Current() != got {
				t.Errorf("Current() = %v, want %v", e.Current(), got)
			}
		})
	}
}

func TestBpmSmoothing(t *testing.T) {
	e := newEstimator(t)
	steps := []struct {
		at   int
		want int
		ok   bool
	}{
		{0, 0, false},
		{600, 0, false},
		{1200, 100, true},
		{1700, 100, true},
		{2200, 100, true},
		{2700, 105, true}, // raw 120 joins three readings of 100
		{3200, 110, true}, // oldest 100 evicted
	}
	for _, s := range steps {
		got := e.Add(ms(s.at))
		if got.Known != s.ok || (s.ok && got.Value != s.want) {
			t.Fatalf("after beat at %dms: reading = %v, want %d (known=%v)", s.at, got, s.want, s.ok)
		}
	}
}

func TestBpmHistoryBounded(t *testing.T) {
	e := newEstimator(t)
	for i := 0; i < 25; i++ {
		e.Add(ms(i * 700))
	}
	if e.Beats() != DefaultBpmPolicy().HistorySize {
		t.Errorf("history = %d, want %d", e.Beats(), DefaultBpmPolicy().HistorySize)
	}
	e.Reset()
	if e.Beats() != 0 || e.Current().Known {
		t.Errorf("reset left beats=%d bpm=%v", e.Beats(), e.Current())
	}
}

func TestBpmAlwaysInBounds(t *testing.T) {
	e := newEstimator(t)
	rng := rand.New(rand.NewSource(3))
	var at time.Duration
	for i := 0; i < 5000; i++ {
		at += time.Duration(rng.Intn(2500)) * time.Millisecond
		r := e.Add(at)
		if r.Known && (r.Value < 40 || r.Value > 200) {
			t.Fatalf("reading %d out of [40,200]", r.Value)
		}
	}
}

func TestBpmStatus(t *testing.T) {
	tests := []struct {
		r    BpmReading
		want BpmStatus
	}{
		{UnknownBPM, StatusUnknown},
		{BpmReading{45, true}, StatusBradycardia},
		{BpmReading{60, true}, StatusNormal},
		{BpmReading{100, true}, StatusNormal},
		{BpmReading{101, true}, StatusTachycardia},
	}
	for _, tt := range tests {
		if got := tt.r.Status(); got != tt.want {
			t.Errorf("%v.Status() = %v, want %v", tt.r, got, tt.want)
		}
	}
}

func TestBpmPolicyValidate(t *testing.T) {
	p := DefaultBpmPolicy()
	p.HistorySize = 2
	if err := p.Validate(); err == nil {
		t.Error("history smaller than min beats accepted")
	}
	p = DefaultBpmPolicy()
	p.MaxInterval = p.MinInterval
	if err := p.Validate(); err == nil {
		t.Error("empty interval range accepted")
	}
}
