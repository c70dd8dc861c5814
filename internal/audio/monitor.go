// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/config"
	"fmt"
	"sync"

	applog "cardio/internal/log"

	"github.com/gordonklaus/portaudio"
)

// Monitor plays the gain-scaled filtered signal back to the listener.
type Monitor interface {
	// Write queues samples for playback without blocking.
	Write(samples []float32)
	Close() error
}

// monitorSeconds is the playback backlog kept by the output ring.
const monitorSeconds = 0.5

// deviceMonitor feeds a PortAudio output stream from a Handoff ring. The
// callback plays silence when the ring runs dry.
type deviceMonitor struct {
	stream    *portaudio.Stream
	ring      *Handoff
	channels  int
	scratch   []float32
	closeOnce sync.Once
	closeErr  error
}

// OpenMonitor starts playback on the configured output device.
func OpenMonitor(cfg config.AudioConfig) (Monitor, error) {
	device, err := OutputDevice(cfg.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("monitor output: %w", err)
	}
	if device.MaxOutputChannels < 1 {
		return nil, fmt.Errorf("monitor output: %q has no output channels", device.Name)
	}

	m := &deviceMonitor{
		ring:     NewHandoff(int(cfg.SampleRate * monitorSeconds)),
		channels: min(2, device.MaxOutputChannels),
		scratch:  make([]float32, cfg.FramesPerBuffer),
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: m.channels,
			Latency:  device.DefaultLowOutputLatency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      cfg.SampleRate,
	}
	stream, err := portaudio.OpenStream(params, m.callback)
	if err != nil {
		return nil, fmt.Errorf("monitor output: open stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("monitor output: start stream on %q: %w", device.Name, err)
	}
	m.stream = stream
	applog.Infof("Audio: Monitoring on %q (%d ch)", device.Name, m.channels)
	return m, nil
}

func (m *deviceMonitor) callback(out []float32) {
	frames := len(out) / m.channels
	if cap(m.scratch) < frames {
		clear(out)
		return
	}
	buf := m.scratch[:frames]
	n := m.ring.Drain(buf)
	clear(buf[n:])
	for i, s := range buf {
		for c := range m.channels {
			out[i*m.channels+c] = s
		}
	}
}

func (m *deviceMonitor) Write(samples []float32) {
	m.ring.Write(samples)
}

// Close stops playback. It is safe to call repeatedly.
func (m *deviceMonitor) Close() error {
	m.closeOnce.Do(func() {
		if err := m.stream.Stop(); err != nil {
			m.closeErr = fmt.Errorf("stop monitor stream: %w", err)
		}
		if err := m.stream.Close(); err != nil && m.closeErr == nil {
			m.closeErr = fmt.Errorf("close monitor stream: %w", err)
		}
	})
	return m.closeErr
}
