// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/analysis"
	"cardio/internal/config"
	"cardio/internal/waveform"
	"fmt"
	"math"
	"sync"
	"time"

	applog "cardio/internal/log"

	"github.com/google/uuid"
)

// handoffSeconds bounds the backlog between ingest and tick.
const handoffSeconds = 1.0

// bandEnergyEvery is the number of ticks between band energy updates.
const bandEnergyEvery = 6

// Snapshot is a consistent view of a session for display.
type Snapshot struct {
	SessionID string
	Running   bool
	Elapsed   time.Duration
	Energy    float64
	Level     float64 // Input meter, 0 to 100.
	Threshold float64
	State     analysis.LatchState
	BPM       analysis.BpmReading
	Beats     int
	LastBeat  time.Duration // Zero before the first beat.
	WarmedUp  bool
	Dropped   uint64 // Samples lost between ingest and tick.
	Gain      int
	Capturing bool
	Progress  float64 // Capture progress, 0 to 1.
}

// Session owns all state of one monitoring run. Nothing in it survives
// into the next session.
type Session struct {
	id         string
	sampleRate float64
	perTick    int // Samples per tick at the configured refresh rate.

	filter   *analysis.BandFilter
	handoff  *Handoff
	energy   analysis.EnergyEstimator
	bpm      *analysis.BpmEstimator
	detector *analysis.BeatDetector
	renderer *waveform.Renderer
	spectrum *analysis.SpectrumProcessor
	bands    *analysis.BandEnergyProcessor

	tickBuf []float32
	ticks   int

	mu   sync.RWMutex
	snap Snapshot
}

// newSession builds the pipeline for one run at the given rate.
func newSession(cfg *config.Config, sampleRate float64) (*Session, error) {
	if cfg.Display.RefreshRate <= 0 {
		return nil, fmt.Errorf("invalid refresh rate %.1f", cfg.Display.RefreshRate)
	}
	filter, err := analysis.NewBandFilter(sampleRate, cfg.Filter)
	if err != nil {
		return nil, err
	}
	bpm, err := analysis.NewBpmEstimator(cfg.BPM)
	if err != nil {
		return nil, err
	}
	detector, err := analysis.NewBeatDetector(cfg.Detector, bpm)
	if err != nil {
		return nil, err
	}
	renderer, err := waveform.NewRenderer(cfg.Display.Options)
	if err != nil {
		return nil, err
	}

	backlog := int(sampleRate * handoffSeconds)
	s := &Session{
		id:         uuid.NewString(),
		sampleRate: sampleRate,
		perTick:    max(1, int(math.Round(sampleRate/cfg.Display.RefreshRate))),
		filter:     filter,
		handoff:    NewHandoff(backlog),
		bpm:        bpm,
		detector:   detector,
		renderer:   renderer,
		tickBuf:    make([]float32, backlog),
	}

	if cfg.Spectrum.Enabled {
		window, err := analysis.ParseWindowFunc(cfg.Spectrum.Window)
		if err != nil {
			return nil, err
		}
		if s.spectrum, err = analysis.NewSpectrumProcessor(cfg.Spectrum.FFTSize, sampleRate, window); err != nil {
			return nil, err
		}
	}

	s.snap = Snapshot{SessionID: s.id, Running: true, Threshold: detector.Threshold()}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ingest filters one frame in place, in arrival order, and hands it to the
// tick goroutine.
func (s *Session) ingest(samples []float32) {
	s.filter.Process(samples)
	s.handoff.Write(samples)
}

// tick drains up to limit samples (all when limit <= 0) and advances the
// analysis chain by one energy value stamped at.
func (s *Session) tick(at time.Duration, limit int) analysis.Detection {
	buf := s.tickBuf
	if limit > 0 && limit < len(buf) {
		buf = buf[:limit]
	}
	n := s.handoff.Drain(buf)
	samples := buf[:n]

	if s.spectrum != nil && n > 0 {
		s.spectrum.Process(samples)
	}
	value := s.energy.Frame(samples, at)
	det := s.detector.Process(value)
	s.renderer.Push(value.Value, det.IsBeat)
	s.ticks++

	if det.SignalLost {
		applog.Debugf("Session %s: Signal lost at %s, beat history cleared", s.id[:8], at.Round(time.Millisecond))
	}

	s.mu.Lock()
	s.snap.Elapsed = at
	s.snap.Energy = value.Value
	s.snap.Level = analysis.SignalLevel(value.Value)
	s.snap.Threshold = det.Threshold
	s.snap.State = det.State
	s.snap.BPM = det.BPM
	s.snap.Beats = s.detector.BeatCount()
	s.snap.WarmedUp = s.detector.WarmedUp()
	s.snap.Dropped = s.handoff.Dropped()
	if det.IsBeat {
		s.snap.LastBeat = det.Beat.At
	}
	s.mu.Unlock()
	return det
}

// bandEnergyDue reports whether the band energies should be published on
// the current tick.
func (s *Session) bandEnergyDue() bool {
	return s.bands != nil && s.ticks%bandEnergyEvery == 0
}

// Snapshot returns the latest state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// release drops every buffer the session owns.
func (s *Session) release() {
	s.mu.Lock()
	s.snap.Running = false
	s.mu.Unlock()

	s.filter.Reset()
	s.handoff.Reset()
	s.energy.Reset()
	s.detector.Reset()
	s.renderer.Reset()
	if s.spectrum != nil {
		s.spectrum.Reset()
	}
	s.tickBuf = nil
}
