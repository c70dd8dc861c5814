// SPDX-License-Identifier: MIT

// Package waveform turns the per-tick energy stream into a scrolling
// ECG-style trace.
//
// The renderer holds the last Capacity display values. Each value is the
// tick energy scaled by DisplayGain; a beat raises it to at least BeatFloor
// and starts a synthetic QRS pulse that replaces the plain level for the
// next PulseWidth points. Trace maps the buffer onto a drawing surface of
// any size.
package waveform

import (
	"fmt"
	"math"
	"sync"
)

// Options controls buffer length and scaling.
type Options struct {
	Capacity    int     `yaml:"capacity"`
	DisplayGain float64 `yaml:"display_gain"`
	BeatFloor   float64 `yaml:"beat_floor"`
	PulseWidth  int     `yaml:"pulse_width"`
}

// DefaultOptions returns the standard scroll buffer of 300 points.
func DefaultOptions() Options {
	return Options{
		Capacity:    300,
		DisplayGain: 8,
		BeatFloor:   0.8,
		PulseWidth:  20,
	}
}

// Validate checks that the options describe a usable buffer.
func (o Options) Validate() error {
	if o.Capacity < 2 {
		return fmt.Errorf("waveform capacity must be at least 2, got %d", o.Capacity)
	}
	if o.DisplayGain <= 0 {
		return fmt.Errorf("waveform display gain must be positive, got %g", o.DisplayGain)
	}
	if o.BeatFloor < 0 || o.BeatFloor > 1 {
		return fmt.Errorf("waveform beat floor must be in [0,1], got %g", o.BeatFloor)
	}
	if o.PulseWidth < 1 || o.PulseWidth > o.Capacity {
		return fmt.Errorf("waveform pulse width must be in [1,%d], got %d", o.Capacity, o.PulseWidth)
	}
	return nil
}

// Layout is the drawing surface a trace is mapped onto.
type Layout struct {
	Width  float64
	Height float64
	Margin float64
}

// DefaultLayout is a 300x200 canvas.
func DefaultLayout() Layout {
	return Layout{Width: 300, Height: 200, Margin: 10}
}

// GridSpacing is the distance between grid lines in layout units.
const GridSpacing = 40.0

// amplitudeRatio is the share of the height one unit of display value spans.
const amplitudeRatio = 0.4

// Point is one buffered display value.
type Point struct {
	Value float64
	Beat  bool
	Pulse int // Index within the QRS pulse, or -1 outside a pulse.
}

// TracePoint is a point mapped onto a Layout. Y grows downwards.
type TracePoint struct {
	X, Y float64
	Beat bool
}

// Renderer is a fixed-capacity scroll buffer. It is safe for one writer and
// any number of readers.
type Renderer struct {
	opts Options

	mu     sync.RWMutex
	points []Point // Ring, oldest at head once full.
	head   int
	count  int
	pulse  int // Points left in the current pulse.
}

// NewRenderer creates an empty renderer.
func NewRenderer(opts Options) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Renderer{
		opts:   opts,
		points: make([]Point, opts.Capacity),
	}, nil
}

// Push appends one tick. The oldest point is dropped once the buffer holds
// Capacity points.
func (r *Renderer) Push(energy float64, isBeat bool) {
	v := energy * r.opts.DisplayGain
	if isBeat {
		v = math.Max(v, r.opts.BeatFloor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := Point{Value: v, Beat: isBeat, Pulse: -1}
	if isBeat {
		r.pulse = r.opts.PulseWidth
	}
	if r.pulse > 0 {
		p.Pulse = r.opts.PulseWidth - r.pulse
		r.pulse--
	}

	idx := (r.head + r.count) % len(r.points)
	if r.count == len(r.points) {
		r.head = (r.head + 1) % len(r.points)
	} else {
		r.count++
	}
	r.points[idx] = p
}

// Len returns the number of buffered points.
func (r *Renderer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the buffer size.
func (r *Renderer) Capacity() int { return r.opts.Capacity }

// Points returns the buffered points, oldest first.
func (r *Renderer) Points() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Point, r.count)
	for i := range out {
		out[i] = r.points[(r.head+i)%len(r.points)]
	}
	return out
}

// Values returns the buffered display values, oldest first.
func (r *Renderer) Values() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, r.count)
	for i := range out {
		out[i] = r.points[(r.head+i)%len(r.points)].Value
	}
	return out
}

// Trace maps the buffer onto l. Points are spaced Width/Capacity apart from
// the left edge, so a partially filled buffer draws from the left. Y values
// are clamped to [Margin, Height-Margin].
func (r *Renderer) Trace(l Layout) []TracePoint {
	pts := r.Points()
	out := make([]TracePoint, len(pts))
	center := l.Height / 2
	amp := l.Height * amplitudeRatio
	step := l.Width / float64(r.opts.Capacity)

	for i, p := range pts {
		y := center - p.Value*amp
		if p.Pulse >= 0 {
			y = center - qrs(float64(p.Pulse)/float64(r.opts.PulseWidth))*amp
		}
		out[i] = TracePoint{
			X:    float64(i) * step,
			Y:    clamp(y, l.Margin, l.Height-l.Margin),
			Beat: p.Beat,
		}
	}
	return out
}

// qrs is the pulse shape at progress p in [0,1): a small R upstroke, a deep
// S, then a T wave.
func qrs(p float64) float64 {
	switch {
	case p < 0.3:
		return 0.3 * math.Sin(p*math.Pi/0.3)
	case p < 0.5:
		return -math.Sin((p - 0.3) * math.Pi / 0.2)
	case p < 0.7:
		return 0.4 * math.Sin((p-0.5)*math.Pi/0.2)
	default:
		return 0
	}
}

// GridLines returns the positions of the vertical and horizontal grid lines
// for l.
func GridLines(l Layout) (xs, ys []float64) {
	for x := 0.0; x <= l.Width; x += GridSpacing {
		xs = append(xs, x)
	}
	for y := 0.0; y <= l.Height; y += GridSpacing {
		ys = append(ys, y)
	}
	return xs, ys
}

// Reset empties the buffer.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.points)
	r.head, r.count, r.pulse = 0, 0, 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
