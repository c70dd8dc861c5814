// SPDX-License-Identifier: MIT
//
// Package analysis holds the streaming heartbeat pipeline: the cardiac band
// filter, the per-tick energy estimate, the adaptive beat detector, the BPM
// estimator, and a spectrum view of the filtered signal.
package analysis

// SampleProcessor is implemented by stages that consume filtered audio in
// arrival order. Process is called from the ingest or tick goroutine and
// must not block.
type SampleProcessor interface {
	Process(samples []float32)
}

// ClosableProcessor combines SampleProcessor with a Close method for resource cleanup.
type ClosableProcessor interface {
	SampleProcessor
	Close() error
}

// FFTResultProvider gives read access to the latest magnitude spectrum. It
// decouples consumers such as BandEnergyProcessor from SpectrumProcessor.
type FFTResultProvider interface {
	GetMagnitudes() []float64                // Copy of the latest magnitude spectrum.
	GetFrequencyForBin(binIndex int) float64 // Center frequency (Hz) of a bin.
	GetFFTSize() int                         // Number of points of the FFT.
	GetSampleRate() float64                  // Sample rate used for the analysis.
}
