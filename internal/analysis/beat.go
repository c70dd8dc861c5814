// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Policy holds the tunables of the beat detector.
type Policy struct {
	BufferSize      int           `yaml:"buffer_size"`      // Energy values in the sliding window; warm-up length in ticks.
	MinThreshold    float64       `yaml:"min_threshold"`    // Fixed minimum sensitivity.
	NoisePercentile float64       `yaml:"noise_percentile"` // Quantile of the window taken as the noise floor.
	SNRMultiplier   float64       `yaml:"snr_multiplier"`   // Multiple of the noise floor a beat must clear.
	RangeFraction   float64       `yaml:"range_fraction"`   // Fraction of p90-p10 added to the median.
	ReleaseRatio    float64       `yaml:"release_ratio"`    // Re-arm once energy falls below this share of the threshold.
	MinProminence   float64       `yaml:"min_prominence"`   // Minimum rise over the window median.
	MinInterval     time.Duration `yaml:"min_interval"`     // Refractory period between beats.
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`  // Gap after which beat history is dropped.
}

// DefaultPolicy returns the default tuning: a 40-tick window with a noise
// floor at the 20th percentile.
func DefaultPolicy() Policy {
	return Policy{
		BufferSize:      40,
		MinThreshold:    0.02,
		NoisePercentile: 0.2,
		SNRMultiplier:   2.0,
		RangeFraction:   0.25,
		ReleaseRatio:    0.6,
		MinProminence:   0.01,
		MinInterval:     300 * time.Millisecond,
		SilenceTimeout:  3000 * time.Millisecond,
	}
}

// Validate rejects policies the detector cannot run with.
func (p Policy) Validate() error {
	switch {
	case p.BufferSize < 3:
		return fmt.Errorf("detector buffer size must be at least 3, got %d", p.BufferSize)
	case p.MinThreshold < 0:
		return fmt.Errorf("detector min threshold must not be negative, got %g", p.MinThreshold)
	case p.NoisePercentile <= 0 || p.NoisePercentile >= 1:
		return fmt.Errorf("detector noise percentile must be in (0,1), got %g", p.NoisePercentile)
	case p.SNRMultiplier < 0:
		return fmt.Errorf("detector snr multiplier must not be negative, got %g", p.SNRMultiplier)
	case p.RangeFraction < 0:
		return fmt.Errorf("detector range fraction must not be negative, got %g", p.RangeFraction)
	case p.ReleaseRatio <= 0 || p.ReleaseRatio >= 1:
		return fmt.Errorf("detector release ratio must be in (0,1), got %g", p.ReleaseRatio)
	case p.MinInterval <= 0:
		return fmt.Errorf("detector min interval must be positive, got %s", p.MinInterval)
	case p.SilenceTimeout <= p.MinInterval:
		return fmt.Errorf("detector silence timeout %s must exceed min interval %s", p.SilenceTimeout, p.MinInterval)
	}
	return nil
}

// LatchState is the hysteresis latch of the detector.
type LatchState int

const (
	BelowThreshold LatchState = iota
	AboveThreshold
)

func (s LatchState) String() string {
	if s == AboveThreshold {
		return "above"
	}
	return "below"
}

// Rejection says why a tick did not produce a beat. It is for debugging
// only; a rejected candidate is not an error.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectWarmup
	RejectBelowThreshold
	RejectLatched
	RejectNotLocalMax
	RejectRefractory
	RejectProminence
)

func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectWarmup:
		return "warmup"
	case RejectBelowThreshold:
		return "below-threshold"
	case RejectLatched:
		return "latched"
	case RejectNotLocalMax:
		return "not-local-max"
	case RejectRefractory:
		return "refractory"
	case RejectProminence:
		return "prominence"
	default:
		return "unknown"
	}
}

// Detection is the outcome of one energy value.
type Detection struct {
	Energy     EnergyValue
	Threshold  float64
	State      LatchState
	IsBeat     bool
	Beat       BeatEvent
	Rejected   Rejection
	SignalLost bool
	BPM        BpmReading
}

// BeatDetector finds heartbeat onsets in a stream of energy values using
// an adaptive threshold over a sliding window. It is not safe for
// concurrent use; one detector belongs to one session.
type BeatDetector struct {
	policy Policy
	bpm    *BpmEstimator

	window []float64 // ring of recent energy values
	head   int       // next write position
	count  int
	sorted []float64 // scratch for quantiles

	threshold float64
	median    float64
	state     LatchState

	lastBeat time.Duration
	hasBeat  bool
	lost     bool
	beats    int
}

// NewBeatDetector creates a detector that feeds accepted beats to bpm.
func NewBeatDetector(policy Policy, bpm *BpmEstimator) (*BeatDetector, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if bpm == nil {
		return nil, fmt.Errorf("beat detector requires a bpm estimator")
	}
	d := &BeatDetector{
		policy: policy,
		bpm:    bpm,
		window: make([]float64, policy.BufferSize),
		sorted: make([]float64, policy.BufferSize),
	}
	d.Reset()
	return d, nil
}

// Process consumes one energy value.
func (d *BeatDetector) Process(v EnergyValue) Detection {
	prev, hasPrev := d.latest()
	d.push(v.Value)

	full := d.count == len(d.window)
	if full {
		d.recompute()
	} else {
		d.threshold = d.policy.MinThreshold
	}

	det := Detection{Energy: v}

	// A long gap drops the history before the candidate is judged so a beat
	// arriving on this tick starts a fresh interval series.
	if d.hasBeat && !d.lost && v.At-d.lastBeat > d.policy.SilenceTimeout {
		d.bpm.Reset()
		d.lost = true
		det.SignalLost = true
	}

	if d.state == AboveThreshold && v.Value < d.policy.ReleaseRatio*d.threshold {
		d.state = BelowThreshold
	}

	switch {
	case !full:
		det.Rejected = RejectWarmup
	case v.Value <= d.threshold:
		det.Rejected = RejectBelowThreshold
	case d.state == AboveThreshold:
		det.Rejected = RejectLatched
	case !hasPrev || v.Value <= prev:
		det.Rejected = RejectNotLocalMax
	case d.hasBeat && v.At-d.lastBeat < d.policy.MinInterval:
		det.Rejected = RejectRefractory
	case v.Value-d.median < d.policy.MinProminence:
		det.Rejected = RejectProminence
	default:
		d.accept(v, &det)
	}

	det.Threshold = d.threshold
	det.State = d.state
	det.BPM = d.bpm.Current()
	return det
}

func (d *BeatDetector) accept(v EnergyValue, det *Detection) {
	d.state = AboveThreshold
	d.lastBeat = v.At
	d.hasBeat = true
	d.lost = false
	d.beats++

	det.IsBeat = true
	det.Beat = BeatEvent{At: v.At, Energy: v.Value, Threshold: d.threshold}
	d.bpm.Add(v.At)
}

// recompute derives the adaptive threshold from the full window.
func (d *BeatDetector) recompute() {
	copy(d.sorted, d.window)
	sort.Float64s(d.sorted)

	noise := stat.Quantile(d.policy.NoisePercentile, stat.Empirical, d.sorted, nil)
	p10 := stat.Quantile(0.1, stat.Empirical, d.sorted, nil)
	p90 := stat.Quantile(0.9, stat.Empirical, d.sorted, nil)
	d.median = stat.Quantile(0.5, stat.Empirical, d.sorted, nil)

	d.threshold = math.Max(d.policy.MinThreshold,
		math.Max(noise*d.policy.SNRMultiplier, d.median+(p90-p10)*d.policy.RangeFraction))
}

func (d *BeatDetector) push(v float64) {
	d.window[d.head] = v
	d.head = (d.head + 1) % len(d.window)
	if d.count < len(d.window) {
		d.count++
	}
}

// latest returns the most recently buffered value.
func (d *BeatDetector) latest() (float64, bool) {
	if d.count == 0 {
		return 0, false
	}
	i := (d.head - 1 + len(d.window)) % len(d.window)
	return d.window[i], true
}

// Threshold returns the current adaptive threshold.
func (d *BeatDetector) Threshold() float64 { return d.threshold }

// State returns the hysteresis latch.
func (d *BeatDetector) State() LatchState { return d.state }

// BeatCount returns the number of beats accepted since the last reset.
func (d *BeatDetector) BeatCount() int { return d.beats }

// Buffered returns the number of energy values in the window.
func (d *BeatDetector) Buffered() int { return d.count }

// WarmedUp reports whether the window is full.
func (d *BeatDetector) WarmedUp() bool { return d.count == len(d.window) }

// Policy returns the detector's tuning.
func (d *BeatDetector) Policy() Policy { return d.policy }

// Reset returns the detector and its BPM estimator to the freshly built state.
func (d *BeatDetector) Reset() {
	clear(d.window)
	d.head = 0
	d.count = 0
	d.threshold = d.policy.MinThreshold
	d.median = 0
	d.state = BelowThreshold
	d.lastBeat = 0
	d.hasBeat = false
	d.lost = false
	d.beats = 0
	d.bpm.Reset()
}
