// SPDX-License-Identifier: MIT
package analysis

import (
	"cardio/pkg/bitint"
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	applog "cardio/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the FFT window.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	history   []float64    // Most recent fftSize samples, oldest first.
	input     []float64    // Windowed copy of history.
	fftOutput []complex128 // FFT complex results.
	magnitude []float64    // Magnitudes of fftOutput.
	window    []float64    // Window coefficients.
	mu        sync.RWMutex // Protects magnitude.
}

// SpectrumProcessor keeps a sliding window over the filtered signal and
// computes its magnitude spectrum on every Process call. Heart sounds sit
// below a few hundred hertz, so the window spans several ticks of audio to
// get useful resolution there.
type SpectrumProcessor struct {
	fftCalculator *fourier.FFT
	fftSize       int
	sampleRate    float64
	workspace     fftWorkspace
}

// Compile-time checks for interface implementations.
var _ SampleProcessor = (*SpectrumProcessor)(nil)
var _ FFTResultProvider = (*SpectrumProcessor)(nil)
var _ ClosableProcessor = (*SpectrumProcessor)(nil)

// NewSpectrumProcessor creates a processor with a power-of-two FFT size.
func NewSpectrumProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*SpectrumProcessor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	coeffs := make([]float64, fftSize)
	applyWindow(coeffs, windowType)
	magnitudeSize := fftSize/2 + 1

	applog.Debugf("Analysis: Initializing SpectrumProcessor (Size: %d, SampleRate: %.1f Hz, Window: %d)", fftSize, sampleRate, windowType)

	return &SpectrumProcessor{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		workspace: fftWorkspace{
			history:   make([]float64, fftSize),
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    coeffs,
		},
	}, nil
}

// Process slides samples into the window and refreshes the spectrum.
func (p *SpectrumProcessor) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}
	h := p.workspace.history
	if len(samples) >= len(h) {
		samples = samples[len(samples)-len(h):]
		for i, s := range samples {
			h[i] = float64(s)
		}
	} else {
		n := copy(h, h[len(samples):])
		for i, s := range samples {
			h[n+i] = float64(s)
		}
	}

	for i, v := range h {
		p.workspace.input[i] = v * p.workspace.window[i]
	}
	p.fftCalculator.Coefficients(p.workspace.fftOutput, p.workspace.input)

	p.workspace.mu.Lock()
	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c)
	}
	p.workspace.mu.Unlock()
}

// GetMagnitudes returns a copy of the latest magnitudes.
func (p *SpectrumProcessor) GetMagnitudes() []float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	magCopy := make([]float64, len(p.workspace.magnitude))
	copy(magCopy, p.workspace.magnitude)
	return magCopy
}

// GetMagnitudesInto copies the latest magnitudes into dest, which must have
// length fftSize/2+1.
func (p *SpectrumProcessor) GetMagnitudesInto(dest []float64) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.magnitude) {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dest), len(p.workspace.magnitude))
	}
	copy(dest, p.workspace.magnitude)
	return nil
}

// GetFrequencyForBin returns the center frequency (Hz) of a bin, or 0 when
// the index is out of range.
func (p *SpectrumProcessor) GetFrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(p.workspace.fftOutput) {
		return 0.0
	}
	return float64(binIndex) * (p.sampleRate / float64(p.fftSize))
}

// GetFFTSize returns the configured FFT size.
func (p *SpectrumProcessor) GetFFTSize() int { return p.fftSize }

// GetSampleRate returns the configured sample rate.
func (p *SpectrumProcessor) GetSampleRate() float64 { return p.sampleRate }

// Reset zeroes the sliding window and spectrum.
func (p *SpectrumProcessor) Reset() {
	clear(p.workspace.history)
	p.workspace.mu.Lock()
	clear(p.workspace.magnitude)
	p.workspace.mu.Unlock()
}

// Close releases nothing; it exists to satisfy ClosableProcessor.
func (p *SpectrumProcessor) Close() error {
	return nil
}

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
