// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/analysis"
	"cardio/internal/config"
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	applog "cardio/internal/log"

	"github.com/gordonklaus/portaudio"
)

// deviceQueue is the number of frames buffered between the device callback
// and the reader.
const deviceQueue = 16

// deviceSource reads a PortAudio input stream. The callback copies each
// buffer into a pooled frame and never blocks; when the reader falls behind
// frames are dropped and counted.
type deviceSource struct {
	stream     *portaudio.Stream
	device     *portaudio.DeviceInfo
	channels   int
	sampleRate float64

	frames chan analysis.SampleFrame
	free   chan []float32
	last   []float32
	clock  int64 // Samples delivered by the device; callback only.

	dropped   atomic.Uint64
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenInput opens and starts the configured input device. Any failure is
// reported as ErrDeviceUnavailable.
func OpenInput(cfg config.AudioConfig) (Source, error) {
	device, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	channels := max(1, min(cfg.InputChannels, device.MaxInputChannels))
	latency := device.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	s := &deviceSource{
		device:     device,
		channels:   channels,
		sampleRate: cfg.SampleRate,
		frames:     make(chan analysis.SampleFrame, deviceQueue),
		free:       make(chan []float32, deviceQueue+2),
		closed:     make(chan struct{}),
	}
	for range deviceQueue + 2 {
		s.free <- make([]float32, cfg.FramesPerBuffer)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  latency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      cfg.SampleRate,
	}
	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream on %q: %w", ErrDeviceUnavailable, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start stream on %q: %w", ErrDeviceUnavailable, device.Name, err)
	}
	s.stream = stream

	applog.Infof("Audio: Input %q opened (%d ch, %.0f Hz, %d frames, latency %s)",
		device.Name, channels, cfg.SampleRate, cfg.FramesPerBuffer, latency)
	return s, nil
}

// callback runs on the PortAudio thread. It must not block or allocate.
func (s *deviceSource) callback(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	n := len(in) / s.channels
	at := time.Duration(float64(s.clock) / s.sampleRate * float64(time.Second))
	s.clock += int64(n)

	var buf []float32
	select {
	case buf = <-s.free:
	default:
		s.dropped.Add(1)
		return
	}
	if cap(buf) < n {
		s.dropped.Add(1)
		s.free <- buf
		return
	}
	buf = buf[:n]
	downmix(buf, in, s.channels)

	select {
	case s.frames <- analysis.SampleFrame{Samples: buf, SampleRate: s.sampleRate, At: at}:
	default:
		s.dropped.Add(1)
		s.free <- buf
	}
}

// Read returns the next captured frame.
func (s *deviceSource) Read(ctx context.Context) (analysis.SampleFrame, error) {
	if s.last != nil {
		s.free <- s.last
		s.last = nil
	}
	select {
	case <-s.closed:
		return analysis.SampleFrame{}, ErrSourceClosed
	case <-ctx.Done():
		return analysis.SampleFrame{}, ctx.Err()
	case f := <-s.frames:
		s.last = f.Samples
		return f, nil
	}
}

func (s *deviceSource) SampleRate() float64 { return s.sampleRate }

// Dropped returns the number of device buffers discarded.
func (s *deviceSource) Dropped() uint64 { return s.dropped.Load() }

// Close stops the stream and releases the device. It is safe to call
// repeatedly and concurrently with Read.
func (s *deviceSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if err := s.stream.Stop(); err != nil {
			s.closeErr = fmt.Errorf("stop input stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("close input stream: %w", err)
		}
		applog.Debugf("Audio: Input %q closed (%d buffers dropped)", s.device.Name, s.dropped.Load())
	})
	return s.closeErr
}
