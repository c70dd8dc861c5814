// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

const testTick = 10 * time.Millisecond

// feeder drives a detector with one energy value per tick.
type feeder struct {
	t     *testing.T
	d     *BeatDetector
	at    time.Duration
	beats []BeatEvent
	dets  []Detection
}

func newFeeder(t *testing.T, policy Policy) *feeder {
	t.Helper()
	bpm, err := NewBpmEstimator(DefaultBpmPolicy())
	if err != nil {
		t.Fatalf("NewBpmEstimator: %v", err)
	}
	d, err := NewBeatDetector(policy, bpm)
	if err != nil {
		t.Fatalf("NewBeatDetector: %v", err)
	}
	return &feeder{t: t, d: d}
}

func (f *feeder) feed(v float64) Detection {
	det := f.d.Process(EnergyValue{Value: v, At: f.at})
	f.at += testTick
	f.dets = append(f.dets, det)
	if det.IsBeat {
		f.beats = append(f.beats, det.Beat)
	}
	return det
}

// noiseFloor is a deterministic low-level wobble in [0.028, 0.032].
func noiseFloor(i int) float64 {
	return 0.030 + 0.002*math.Sin(float64(i)*1.3)
}

// feedPeakAt feeds noise until the next tick would be at, then feeds peak
// at exactly that time.
func (f *feeder) feedPeakAt(at time.Duration, peak float64) Detection {
	for f.at < at {
		f.feed(noiseFloor(int(f.at / testTick)))
	}
	return f.feed(peak)
}

func TestScenarioCleanPeaks(t *testing.T) {
	f := newFeeder(t, DefaultPolicy())

	for i := 0; i < 40; i++ {
		f.feed(noiseFloor(i))
	}
	if len(f.beats) != 0 {
		t.Fatalf("beats during warm-up: %d", len(f.beats))
	}

	f.feedPeakAt(500*time.Millisecond, 0.09)
	f.feedPeakAt(1000*time.Millisecond, 0.09)
	for i := 0; i < 10; i++ {
		f.feed(noiseFloor(i))
	}

	if len(f.beats) != 2 {
		t.Fatalf("beats = %d, want 2", len(f.beats))
	}
	gap := f.beats[1].At - f.beats[0].At
	if gap < 490*time.Millisecond || gap > 510*time.Millisecond {
		t.Errorf("beat gap = %s, want ~500ms", gap)
	}
	if f.d.bpm.Current().Known {
		t.Errorf("bpm known with two beats: %v", f.d.bpm.Current())
	}

	det := f.feedPeakAt(1500*time.Millisecond, 0.09)
	if !det.IsBeat {
		t.Fatalf("third peak rejected: %v", det.Rejected)
	}
	if det.BPM != (BpmReading{Value: 120, Known: true}) {
		t.Errorf("bpm = %v, want 120", det.BPM)
	}
}

func TestScenarioFlatNoise(t *testing.T) {
	f := newFeeder(t, DefaultPolicy())
	for f.at < 5000*time.Millisecond {
		i := int(f.at / testTick)
		det := f.feed(0.005 + 0.001*math.Sin(float64(i)*0.7))
		if det.BPM.Known {
			t.Fatalf("bpm reported at %s: %v", f.at, det.BPM)
		}
	}
	if f.d.BeatCount() != 0 {
		t.Errorf("beat count = %d, want 0", f.d.BeatCount())
	}
}

func TestScenarioSilenceReset(t *testing.T) {
	f := newFeeder(t, DefaultPolicy())
	for i := 0; i < 40; i++ {
		f.feed(noiseFloor(i))
	}

	var last Detection
	for k := 1; k <= 4; k++ {
		last = f.feedPeakAt(time.Duration(k)*600*time.Millisecond, 0.09)
		if !last.IsBeat {
			t.Fatalf("beat %d rejected: %v", k, last.Rejected)
		}
	}
	if last.BPM != (BpmReading{Value: 100, Known: true}) {
		t.Fatalf("bpm after 4th beat = %v, want 100", last.BPM)
	}

	lastBeat := last.Beat.At
	lostAt := time.Duration(-1)
	for f.at < lastBeat+3500*time.Millisecond {
		det := f.feed(0.005)
		if det.SignalLost {
			if lostAt >= 0 {
				t.Fatalf("signal lost reported twice")
			}
			lostAt = det.Energy.At
		}
		switch {
		case det.Energy.At-lastBeat <= 3000*time.Millisecond && !det.BPM.Known:
			t.Fatalf("bpm dropped early at %s", det.Energy.At-lastBeat)
		case det.Energy.At-lastBeat > 3000*time.Millisecond && det.BPM.Known:
			t.Fatalf("bpm still %v after %s of silence", det.BPM, det.Energy.At-lastBeat)
		}
	}
	if lostAt < 0 {
		t.Fatal("signal lost never reported")
	}
	if f.d.bpm.Beats() != 0 {
		t.Errorf("beat history = %d after reset, want 0", f.d.bpm.Beats())
	}
	if f.d.BeatCount() != 4 {
		t.Errorf("beat count = %d, want 4 (count survives a signal reset)", f.d.BeatCount())
	}
}

func TestSustainedPeakTriggersOnce(t *testing.T) {
	f := newFeeder(t, DefaultPolicy())
	for i := 0; i < 40; i++ {
		f.feed(noiseFloor(i))
	}
	for i := 0; i < 5; i++ {
		f.feed(0.09)
	}
	if len(f.beats) != 1 {
		t.Fatalf("plateau produced %d beats, want 1", len(f.beats))
	}
	if f.d.State() != AboveThreshold {
		t.Errorf("state = %v, want above", f.d.State())
	}

	f.feed(0.02)
	if f.d.State() != BelowThreshold {
		t.Errorf("state after release = %v, want below", f.d.State())
	}
	f.feedPeakAt(f.beats[0].At+600*time.Millisecond, 0.09)
	if len(f.beats) != 2 {
		t.Errorf("re-armed peak produced %d beats total, want 2", len(f.beats))
	}
}

func TestEqualValuesAreNotMaxima(t *testing.T) {
	f := newFeeder(t, DefaultPolicy())
	for i := 0; i < 40; i++ {
		f.feed(noiseFloor(i))
	}
	first := f.feedPeakAt(500*time.Millisecond, 0.09)
	if !first.IsBeat {
		t.Fatalf("first peak rejected: %v", first.Rejected)
	}

	if det := f.feedPeakAt(790*time.Millisecond, 0.09); det.Rejected != RejectRefractory {
		t.Errorf("peak inside refractory: rejected = %v, want refractory", det.Rejected)
	}
	if det := f.feed(0.09); det.IsBeat || det.Rejected != RejectNotLocalMax {
		t.Errorf("tied value: beat=%v rejected=%v, want not-local-max", det.IsBeat, det.Rejected)
	}
	if det := f.feed(0.1); !det.IsBeat {
		t.Errorf("strictly higher value rejected: %v", det.Rejected)
	}
}

func TestShallowBumpRejectedByProminence(t *testing.T) {
	policy := DefaultPolicy()
	policy.MinProminence = 0.05
	f := newFeeder(t, policy)
	for i := 0; i < 40; i++ {
		f.feed(noiseFloor(i))
	}
	det := f.feedPeakAt(500*time.Millisecond, 0.07)
	if det.IsBeat || det.Rejected != RejectProminence {
		t.Errorf("bump: beat=%v rejected=%v, want prominence", det.IsBeat, det.Rejected)
	}
}

func TestDetectorInvariants(t *testing.T) {
	policy := DefaultPolicy()
	f := newFeeder(t, policy)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20000; i++ {
		v := 0.01 + rng.Float64()*0.03
		if rng.Intn(12) == 0 {
			v += rng.Float64() * 0.3
		}
		det := f.feed(v)

		if f.d.WarmedUp() && det.Threshold < policy.MinThreshold {
			t.Fatalf("threshold %g below minimum %g", det.Threshold, policy.MinThreshold)
		}
		if det.BPM.Known && (det.BPM.Value < 40 || det.BPM.Value > 200) {
			t.Fatalf("bpm %d out of bounds", det.BPM.Value)
		}
	}

	if len(f.beats) < 10 {
		t.Fatalf("only %d beats in random stream; invariant check is vacuous", len(f.beats))
	}
	for i := 1; i < len(f.beats); i++ {
		if gap := f.beats[i].At - f.beats[i-1].At; gap < policy.MinInterval {
			t.Fatalf("beats %d and %d only %s apart", i-1, i, gap)
		}
	}
}

func TestDetectorResetMatchesFresh(t *testing.T) {
	sequence := func(f *feeder) {
		for i := 0; i < 40; i++ {
			f.feed(noiseFloor(i))
		}
		for k := 1; k <= 4; k++ {
			f.feedPeakAt(time.Duration(k)*600*time.Millisecond, 0.09)
		}
	}

	used := newFeeder(t, DefaultPolicy())
	sequence(used)
	used.d.Reset()

	if used.d.Buffered() != 0 || used.d.BeatCount() != 0 || used.d.bpm.Current().Known ||
		used.d.State() != BelowThreshold || used.d.Threshold() != DefaultPolicy().MinThreshold {
		t.Fatalf("reset left state behind: buffered=%d beats=%d bpm=%v state=%v threshold=%g",
			used.d.Buffered(), used.d.BeatCount(), used.d.bpm.Current(), used.d.State(), used.d.Threshold())
	}

	used.at, used.dets, used.beats = 0, nil, nil
	sequence(used)
	fresh := newFeeder(t, DefaultPolicy())
	sequence(fresh)

	if !reflect.DeepEqual(used.dets, fresh.dets) {
		t.Error("detections after reset differ from a fresh detector")
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"tiny buffer", func(p *Policy) { p.BufferSize = 2 }},
		{"release ratio one", func(p *Policy) { p.ReleaseRatio = 1 }},
		{"percentile zero", func(p *Policy) { p.NoisePercentile = 0 }},
		{"no refractory", func(p *Policy) { p.MinInterval = 0 }},
		{"timeout below refractory", func(p *Policy) { p.SilenceTimeout = 200 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
}

func TestDetectorProcessZeroAllocs(t *testing.T) {
	f := newFeeder(t, DefaultPolicy())
	for i := 0; i < 40; i++ {
		f.feed(noiseFloor(i))
	}
	at := f.at
	i := 0
	allocs := testing.AllocsPerRun(1000, func() {
		v := noiseFloor(i)
		if i%50 == 0 {
			v = 0.09
		}
		f.d.Process(EnergyValue{Value: v, At: at})
		at += testTick
		i++
	})
	if allocs > 0 {
		t.Errorf("Process allocated %.1f times per call", allocs)
	}
}

func BenchmarkDetectorProcess(b *testing.B) {
	bpm, _ := NewBpmEstimator(DefaultBpmPolicy())
	d, _ := NewBeatDetector(DefaultPolicy(), bpm)
	var at time.Duration
	i := 0
	for b.Loop() {
		d.Process(EnergyValue{Value: noiseFloor(i), At: at})
		at += testTick
		i++
	}
}
