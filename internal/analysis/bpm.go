// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// BpmPolicy holds the tunables of the BPM estimator.
type BpmPolicy struct {
	HistorySize    int           `yaml:"history_size"`    // Beat timestamps kept for interval analysis.
	MinBeats       int           `yaml:"min_beats"`       // Timestamps needed before a reading is produced.
	MinInterval    time.Duration `yaml:"min_interval"`    // Shortest plausible inter-beat interval.
	MaxInterval    time.Duration `yaml:"max_interval"`    // Longest plausible inter-beat interval.
	MinBPM         int           `yaml:"min_bpm"`         // Lower physiological bound.
	MaxBPM         int           `yaml:"max_bpm"`         // Upper physiological bound.
	SmoothingDepth int           `yaml:"smoothing_depth"` // Accepted readings averaged for display.
}

// DefaultBpmPolicy returns the 40-200 BPM policy.
func DefaultBpmPolicy() BpmPolicy {
	return BpmPolicy{
		HistorySize:    10,
		MinBeats:       3,
		MinInterval:    300 * time.Millisecond,
		MaxInterval:    1500 * time.Millisecond,
		MinBPM:         40,
		MaxBPM:         200,
		SmoothingDepth: 4,
	}
}

// Validate rejects policies the estimator cannot run with.
func (p BpmPolicy) Validate() error {
	switch {
	case p.MinBeats < 2:
		return fmt.Errorf("bpm min beats must be at least 2, got %d", p.MinBeats)
	case p.HistorySize < p.MinBeats:
		return fmt.Errorf("bpm history size %d is smaller than min beats %d", p.HistorySize, p.MinBeats)
	case p.MinInterval <= 0 || p.MaxInterval <= p.MinInterval:
		return fmt.Errorf("bpm interval bounds [%s, %s] are invalid", p.MinInterval, p.MaxInterval)
	case p.MinBPM <= 0 || p.MaxBPM <= p.MinBPM:
		return fmt.Errorf("bpm bounds [%d, %d] are invalid", p.MinBPM, p.MaxBPM)
	case p.SmoothingDepth < 1:
		return fmt.Errorf("bpm smoothing depth must be at least 1, got %d", p.SmoothingDepth)
	}
	return nil
}

// BpmEstimator converts beat timestamps into a smoothed heart rate: the
// median of the plausible inter-beat intervals, then the mean of the last
// few accepted readings. It is not safe for concurrent use.
type BpmEstimator struct {
	policy BpmPolicy

	stamps    []time.Duration // oldest first
	intervals []float64       // scratch, milliseconds
	readings  []float64       // accepted raw readings, oldest first
	current   BpmReading
}

// NewBpmEstimator creates an estimator with empty history.
func NewBpmEstimator(policy BpmPolicy) (*BpmEstimator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &BpmEstimator{
		policy:    policy,
		stamps:    make([]time.Duration, 0, policy.HistorySize),
		intervals: make([]float64, 0, policy.HistorySize),
		readings:  make([]float64, 0, policy.SmoothingDepth),
	}, nil
}

// Add records a beat and returns the reading it produces.
func (e *BpmEstimator) Add(at time.Duration) BpmReading {
	if len(e.stamps) == e.policy.HistorySize {
		copy(e.stamps, e.stamps[1:])
		e.stamps = e.stamps[:len(e.stamps)-1]
	}
	e.stamps = append(e.stamps, at)

	raw, ok := e.raw()
	if !ok {
		e.current = UnknownBPM
		return e.current
	}

	if len(e.readings) == e.policy.SmoothingDepth {
		copy(e.readings, e.readings[1:])
		e.readings = e.readings[:len(e.readings)-1]
	}
	e.readings = append(e.readings, float64(raw))

	value := raw
	if len(e.readings) >= 2 {
		value = int(math.Round(stat.Mean(e.readings, nil)))
	}
	e.current = BpmReading{Value: value, Known: true}
	return e.current
}

// raw computes the median-interval BPM of the current history.
func (e *BpmEstimator) raw() (int, bool) {
	if len(e.stamps) < e.policy.MinBeats {
		return 0, false
	}

	e.intervals = e.intervals[:0]
	for i := 1; i < len(e.stamps); i++ {
		iv := e.stamps[i] - e.stamps[i-1]
		if iv < e.policy.MinInterval || iv > e.policy.MaxInterval {
			continue
		}
		e.intervals = append(e.intervals, float64(iv)/float64(time.Millisecond))
	}
	if len(e.intervals) < e.policy.MinBeats-1 {
		return 0, false
	}

	sort.Float64s(e.intervals)
	median := e.intervals[len(e.intervals)/2]

	bpm := int(math.Round(60000 / median))
	if bpm < e.policy.MinBPM || bpm > e.policy.MaxBPM {
		return 0, false
	}
	return bpm, true
}

// Current returns the latest reading.
func (e *BpmEstimator) Current() BpmReading { return e.current }

// Beats returns the number of timestamps held.
func (e *BpmEstimator) Beats() int { return len(e.stamps) }

// Reset clears both histories and reports unknown.
func (e *BpmEstimator) Reset() {
	e.stamps = e.stamps[:0]
	e.intervals = e.intervals[:0]
	e.readings = e.readings[:0]
	e.current = UnknownBPM
}
