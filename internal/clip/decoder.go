// SPDX-License-Identifier: MIT
package clip

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
	"github.com/go-audio/wav"
)

// ErrInvalidClip is returned when a payload is not a readable PCM WAV.
var ErrInvalidClip = errors.New("invalid wav clip")

// Clip is decoded audio with interleaved samples in [-1, 1].
type Clip struct {
	Samples    []float32
	Channels   int
	SampleRate int
	BitDepth   int
}

// Frames returns the number of sample frames.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// DecodeWAV parses a PCM WAV payload.
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrInvalidClip)
	}
	if dec.WavAudioFormat != pcmFormat {
		return nil, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidClip, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidClip, err)
	}

	depth := int(dec.BitDepth)
	c := &Clip{
		Samples:    make([]float32, len(buf.Data)),
		Channels:   int(dec.NumChans),
		SampleRate: int(dec.SampleRate),
		BitDepth:   depth,
	}
	if c.Channels < 1 || c.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidClip, c.Channels, c.SampleRate)
	}
	if depth == bitDepth {
		for i, v := range buf.Data {
			c.Samples[i] = FromPCM16(v)
		}
		return c, nil
	}

	neg := float64(int(1) << (depth - 1))
	pos := neg - 1
	if depth == 8 {
		// 8-bit PCM is unsigned.
		for i, v := range buf.Data {
			buf.Data[i] = v - 128
		}
	}
	for i, v := range buf.Data {
		if v < 0 {
			c.Samples[i] = float32(float64(v) / neg)
		} else {
			c.Samples[i] = float32(float64(v) / pos)
		}
	}
	return c, nil
}

// Mono returns the clip downmixed to one channel. A mono clip is returned
// as is.
func (c *Clip) Mono() (*Clip, error) {
	if c.Channels == 1 {
		return c, nil
	}
	fb := &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate},
		Data:   make([]float64, len(c.Samples)),
	}
	for i, s := range c.Samples {
		fb.Data[i] = float64(s)
	}
	if err := transforms.MonoDownmix(fb); err != nil {
		return nil, fmt.Errorf("downmix: %w", err)
	}
	out := &Clip{
		Samples:    make([]float32, len(fb.Data)),
		Channels:   1,
		SampleRate: c.SampleRate,
		BitDepth:   c.BitDepth,
	}
	for i, v := range fb.Data {
		out.Samples[i] = float32(v)
	}
	return out, nil
}
