// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/analysis"
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable means no usable input device could be opened,
	// e.g. missing permission or no device. Starting a session fails with
	// it and is not retried.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrSourceClosed is returned by Read after Close.
	ErrSourceClosed = errors.New("audio source closed")
)

// Source is a pull-based stream of mono sample frames. A closed source
// cannot be restarted; a new session opens a new one.
//
// The frame returned by Read stays valid until the next call to Read and
// may be modified in place by the caller.
type Source interface {
	Read(ctx context.Context) (analysis.SampleFrame, error)
	SampleRate() float64
	Close() error
}

// DropCounter is implemented by sources that discard frames when the
// reader falls behind.
type DropCounter interface {
	Dropped() uint64
}

// downmix averages interleaved frames of the given channel count into dst.
func downmix(dst, interleaved []float32, channels int) {
	if channels <= 1 {
		copy(dst, interleaved)
		return
	}
	scale := 1 / float32(channels)
	for i := range dst {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		dst[i] = sum * scale
	}
}
