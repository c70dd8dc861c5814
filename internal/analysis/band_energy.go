// SPDX-License-Identifier: MIT
package analysis

import (
	"cardio/internal/transport"
	"fmt"
	"math"

	applog "cardio/internal/log"
)

// FrequencyBand defines the name and frequency range for an energy band.
type FrequencyBand struct {
	Name    string
	LowHz   float64
	HighHz  float64
	Energy  float64 // Normalized energy of the latest frame, 0..1.
	numBins int
}

// BandEnergyProcessor summarizes the spectrum of the filtered signal into a
// few bands relevant to heart sounds and publishes them.
type BandEnergyProcessor struct {
	transport   transport.Transport
	bands       []*FrequencyBand
	fftProvider FFTResultProvider
	scale       float64
}

// CardiacBands returns the default band layout. The last band runs to
// nyquist and catches ambient noise that leaked through the filter.
func CardiacBands(sampleRate float64) []*FrequencyBand {
	return []*FrequencyBand{
		{Name: "infrasonic", LowHz: 0, HighHz: 20},
		{Name: "s1s2", LowHz: 20, HighHz: 150},
		{Name: "murmur_low", LowHz: 150, HighHz: 400},
		{Name: "murmur_high", LowHz: 400, HighHz: 800},
		{Name: "ambient", LowHz: 800, HighHz: sampleRate/2 + 1},
	}
}

// NewBandEnergyProcessor creates a processor over the given provider.
// The transport may be nil, in which case results are only kept locally.
func NewBandEnergyProcessor(t transport.Transport, fftProvider FFTResultProvider) (*BandEnergyProcessor, error) {
	if fftProvider == nil {
		return nil, fmt.Errorf("band energy processor requires an FFT result provider")
	}
	bands := CardiacBands(fftProvider.GetSampleRate())
	applog.Debugf("Analysis: Initializing BandEnergyProcessor with %d bands.", len(bands))
	return &BandEnergyProcessor{
		transport:   t,
		bands:       bands,
		fftProvider: fftProvider,
		// Magnitudes scale with the window length; normalize so a full-scale
		// sine lands near 1.
		scale: 4 / float64(fftProvider.GetFFTSize()),
	}, nil
}

// Process recomputes the band energies from the latest spectrum and sends
// them with the given session id.
func (p *BandEnergyProcessor) Process(session string) {
	magnitudes := p.fftProvider.GetMagnitudes()
	if len(magnitudes) == 0 {
		return
	}

	for _, band := range p.bands {
		band.Energy = 0
		band.numBins = 0
	}

	for i, m := range magnitudes {
		freq := p.fftProvider.GetFrequencyForBin(i)
		for _, band := range p.bands {
			if freq >= band.LowHz && freq < band.HighHz {
				band.Energy += m * m
				band.numBins++
				break
			}
		}
	}

	msg := map[string]any{"type": "band_energy", "session": session}
	for _, band := range p.bands {
		if band.numBins > 0 {
			band.Energy = math.Min(1.0, math.Sqrt(band.Energy/float64(band.numBins))*p.scale)
		}
		msg[band.Name] = band.Energy
	}

	if p.transport == nil {
		return
	}
	if err := p.transport.Send(msg); err != nil {
		applog.Warnf("BandEnergyProcessor: Error sending band energy data: %v", err)
	}
}

// Bands returns the band layout with the latest energies.
func (p *BandEnergyProcessor) Bands() []FrequencyBand {
	out := make([]FrequencyBand, len(p.bands))
	for i, b := range p.bands {
		out[i] = *b
	}
	return out
}
