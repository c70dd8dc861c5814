// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"time"
)

// SampleFrame is one block of normalized mono samples in [-1, 1]. At is the
// session sample clock at the first sample of the block.
type SampleFrame struct {
	Samples    []float32
	SampleRate float64
	At         time.Duration
}

// Duration returns the playback length of the frame.
func (f SampleFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / f.SampleRate * float64(time.Second))
}

// EnergyValue is the RMS amplitude of one analysis frame.
type EnergyValue struct {
	Value float64
	At    time.Duration
}

// BeatEvent marks an accepted heartbeat onset.
type BeatEvent struct {
	At        time.Duration
	Energy    float64
	Threshold float64
}

// BpmReading is a heart rate in beats per minute, or unknown.
type BpmReading struct {
	Value int
	Known bool
}

// UnknownBPM is the zero reading.
var UnknownBPM = BpmReading{}

func (r BpmReading) String() string {
	if !r.Known {
		return "--"
	}
	return fmt.Sprintf("%d", r.Value)
}

// BpmStatus is a coarse rate category for display.
type BpmStatus int

const (
	StatusUnknown BpmStatus = iota
	StatusBradycardia
	StatusNormal
	StatusTachycardia
)

func (s BpmStatus) String() string {
	switch s {
	case StatusBradycardia:
		return "bradycardia"
	case StatusNormal:
		return "normal"
	case StatusTachycardia:
		return "tachycardia"
	default:
		return "unknown"
	}
}

// Status classifies the reading: below 60 is slow, above 100 is fast.
func (r BpmReading) Status() BpmStatus {
	switch {
	case !r.Known:
		return StatusUnknown
	case r.Value < 60:
		return StatusBradycardia
	case r.Value > 100:
		return StatusTachycardia
	default:
		return StatusNormal
	}
}

// SignalLevel maps an RMS value to a 0-100 input meter reading.
func SignalLevel(rms float64) float64 {
	return math.Min(rms*500, 100)
}
