// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/analysis"
	"cardio/internal/clip"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	applog "cardio/internal/log"
)

// SampleSource replays an in-memory mono signal in fixed-size frames. It
// backs file replay and tests.
type SampleSource struct {
	samples    []float32
	sampleRate float64
	frameSize  int
	realtime   bool

	mu      sync.Mutex
	pos     int
	buf     []float32
	started time.Time
	closed  bool
}

// NewSampleSource serves samples in frames of frameSize. With realtime set,
// Read waits until each frame would have been captured by a live device.
func NewSampleSource(samples []float32, sampleRate float64, frameSize int, realtime bool) (*SampleSource, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("invalid sample source: rate %.0f Hz, frame size %d", sampleRate, frameSize)
	}
	return &SampleSource{
		samples:    samples,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		realtime:   realtime,
		buf:        make([]float32, frameSize),
	}, nil
}

// OpenFile decodes a WAV file, downmixes it to mono and serves it as a
// Source.
func OpenFile(path string, frameSize int, realtime bool) (*SampleSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := clip.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if c, err = c.Mono(); err != nil {
		return nil, fmt.Errorf("downmix %s: %w", path, err)
	}
	applog.Infof("Audio: Replaying %s (%s at %d Hz)", path, c.Duration().Round(time.Millisecond), c.SampleRate)
	return NewSampleSource(c.Samples, float64(c.SampleRate), frameSize, realtime)
}

// Read returns the next frame, or io.EOF once the signal is exhausted. The
// last frame may be short.
func (s *SampleSource) Read(ctx context.Context) (analysis.SampleFrame, error) {
	if err := ctx.Err(); err != nil {
		return analysis.SampleFrame{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return analysis.SampleFrame{}, ErrSourceClosed
	}
	if s.pos >= len(s.samples) {
		s.mu.Unlock()
		return analysis.SampleFrame{}, io.EOF
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	start := s.pos
	n := copy(s.buf, s.samples[start:])
	s.pos += n
	frame := analysis.SampleFrame{
		Samples:    s.buf[:n],
		SampleRate: s.sampleRate,
		At:         time.Duration(float64(start) / s.sampleRate * float64(time.Second)),
	}
	due := s.started.Add(frame.At + frame.Duration())
	s.mu.Unlock()

	if s.realtime {
		timer := time.NewTimer(time.Until(due))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return analysis.SampleFrame{}, ctx.Err()
		case <-timer.C:
		}
	}
	return frame, nil
}

func (s *SampleSource) SampleRate() float64 { return s.sampleRate }

// Duration returns the length of the whole signal.
func (s *SampleSource) Duration() time.Duration {
	return time.Duration(float64(len(s.samples)) / s.sampleRate * float64(time.Second))
}

// Close marks the source closed. It is safe to call repeatedly.
func (s *SampleSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ Source = (*SampleSource)(nil)
