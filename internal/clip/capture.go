// SPDX-License-Identifier: MIT
package clip

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
)

// Capture accumulates raw input samples up to a fixed length. It is written
// by the ingest goroutine and read once capture completes.
type Capture struct {
	mu         sync.Mutex
	samples    []float32
	limit      int
	sampleRate int
	done       chan struct{}
	closeOnce  sync.Once
}

// NewCapture prepares a capture of the given duration at sampleRate.
func NewCapture(d time.Duration, sampleRate int) (*Capture, error) {
	if d <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid capture of %s at %d Hz", d, sampleRate)
	}
	limit := int(math.Round(d.Seconds() * float64(sampleRate)))
	return &Capture{
		samples:    make([]float32, 0, limit),
		limit:      limit,
		sampleRate: sampleRate,
		done:       make(chan struct{}),
	}, nil
}

// Append copies as many samples as still fit and reports whether the
// capture is now full.
func (c *Capture) Append(samples []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - len(c.samples)
	if room > 0 {
		c.samples = append(c.samples, samples[:min(room, len(samples))]...)
	}
	full := len(c.samples) >= c.limit
	if full {
		c.finish()
	}
	return full
}

// Finish ends the capture early.
func (c *Capture) Finish() {
	c.mu.Lock()
	c.finish()
	c.mu.Unlock()
}

func (c *Capture) finish() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the capture is full or finished.
func (c *Capture) Done() <-chan struct{} { return c.done }

// Progress returns the captured fraction in [0, 1].
func (c *Capture) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(len(c.samples)) / float64(c.limit)
}

// Samples returns a copy of the captured samples.
func (c *Capture) Samples() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float32, len(c.samples))
	copy(out, c.samples)
	return out
}

// SampleRate returns the capture rate.
func (c *Capture) SampleRate() int { return c.sampleRate }

// Prepare holds the post-capture steps applied before upload.
type Prepare struct {
	Amplify    float64 `yaml:"amplify"`
	TargetRate int     `yaml:"target_rate"`
	Normalize  bool    `yaml:"normalize"`
}

// DefaultPrepare amplifies nothing and resamples to 16 kHz.
func DefaultPrepare() Prepare {
	return Prepare{Amplify: 1, TargetRate: 16000}
}

// Encode turns a mono capture into the WAV payload sent for
// classification: amplified, optionally peak-normalized, then resampled.
func (p Prepare) Encode(samples []float32, sampleRate int) ([]byte, error) {
	work := make([]float32, len(samples))
	copy(work, samples)
	if p.Amplify > 0 && p.Amplify != 1 {
		Amplify(work, p.Amplify)
	}
	if p.Normalize {
		work = normalize(work, sampleRate)
	}
	rate := sampleRate
	if p.TargetRate > 0 {
		var err error
		if work, err = Resample(work, sampleRate, p.TargetRate); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
		rate = p.TargetRate
	}
	return EncodeWAV(work, 1, rate)
}

func normalize(samples []float32, sampleRate int) []float32 {
	fb := &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]float64, len(samples)),
	}
	for i, s := range samples {
		fb.Data[i] = float64(s)
	}
	transforms.NormalizeMax(fb)
	for i, v := range fb.Data {
		samples[i] = float32(v)
	}
	return samples
}

// SaveFile writes data to dir as <prefix>_<timestamp><ext> and returns the
// path.
func SaveFile(dir, prefix, ext string, data []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", prefix, at.Format("20060102_150405"), ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
