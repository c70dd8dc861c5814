// SPDX-License-Identifier: MIT
package audio

import (
	"cardio/internal/clip"
	"context"
	"errors"
	"time"

	applog "cardio/internal/log"
)

// ErrAlreadyCapturing is returned by StartCapture while a capture is active.
var ErrAlreadyCapturing = errors.New("capture already in progress")

// StartCapture begins recording d of raw input from the running session.
// The capture completes on its own once full.
func (e *Engine) StartCapture(d time.Duration) (*clip.Capture, error) {
	r := e.current()
	if r == nil {
		return nil, ErrNotRunning
	}
	c, err := clip.NewCapture(d, int(r.source.SampleRate()))
	if err != nil {
		return nil, err
	}
	if !e.capture.CompareAndSwap(nil, c) {
		return nil, ErrAlreadyCapturing
	}
	applog.Infof("Engine: Capturing %s of input", d)
	return c, nil
}

// StopCapture ends the active capture early. It does nothing when idle.
func (e *Engine) StopCapture() {
	if c := e.capture.Swap(nil); c != nil {
		c.Finish()
		applog.Infof("Engine: Capture stopped at %.0f%%", c.Progress()*100)
	}
}

// Capturing reports whether a capture is active.
func (e *Engine) Capturing() bool {
	return e.capture.Load() != nil
}

// Record captures d of input and waits for it. It returns what was captured
// when ctx is cancelled or the session ends first; the result is empty only
// if nothing arrived.
func (e *Engine) Record(ctx context.Context, d time.Duration) (*clip.Capture, error) {
	c, err := e.StartCapture(d)
	if err != nil {
		return nil, err
	}
	select {
	case <-c.Done():
	case <-ctx.Done():
		e.StopCapture()
	case <-e.Done():
		e.StopCapture()
	}
	if len(c.Samples()) == 0 {
		return nil, errors.New("capture ended before any input arrived")
	}
	return c, nil
}
