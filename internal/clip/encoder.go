// SPDX-License-Identifier: MIT

// Package clip encodes captured audio as canonical 16-bit PCM WAV and
// prepares recordings for the classification service.
package clip

import (
	"errors"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrEncoding wraps every failure to produce a WAV payload.
var ErrEncoding = errors.New("wav encoding failed")

const (
	// HeaderSize is the length of the canonical RIFF/fmt/data header.
	HeaderSize = 44
	bitDepth   = 16
	pcmFormat  = 1
)

// EncodeWAV builds a 16-bit PCM WAV from interleaved frames at sampleRate.
// Values are clamped to [-1, 1]; negative values scale by 32768 and the
// rest by 32767, truncating toward zero.
func EncodeWAV(samples []float32, channels, sampleRate int) ([]byte, error) {
	switch {
	case len(samples) == 0:
		return nil, fmt.Errorf("%w: no samples", ErrEncoding)
	case channels < 1:
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrEncoding, channels)
	case sampleRate <= 0:
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrEncoding, sampleRate)
	case len(samples)%channels != 0:
		return nil, fmt.Errorf("%w: %d samples do not fill %d-channel frames", ErrEncoding, len(samples), channels)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: bitDepth,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = ToPCM16(s)
	}

	out := &seekBuffer{buf: make([]byte, 0, HeaderSize+2*len(samples))}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, pcmFormat)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return out.Bytes(), nil
}

// ToPCM16 converts one sample to a signed 16-bit value with asymmetric
// scaling, so -1 maps to -32768 and 1 maps to 32767.
func ToPCM16(s float32) int {
	v := float64(s)
	switch {
	case v != v: // NaN
		return 0
	case v < -1:
		v = -1
	case v > 1:
		v = 1
	}
	if v < 0 {
		return int(v * 32768)
	}
	return int(v * 32767)
}

// FromPCM16 is the inverse of ToPCM16.
func FromPCM16(v int) float32 {
	if v < 0 {
		return float32(float64(v) / 32768)
	}
	return float32(float64(v) / 32767)
}
