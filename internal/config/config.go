// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and limits for the monitoring pipeline.
const (
	// Audio device
	DefaultDeviceID        = -1    // System default device
	DefaultSampleRate      = 44100 // Hz
	DefaultFramesPerBuffer = 512
	DefaultChannels        = 1 // Mono stethoscope input
	DefaultGain            = 8 // Monitoring volume step

	// Display
	DefaultRefreshRate = 60.0 // Ticks per second

	// Spectrum
	DefaultFFTSize = 4096
	DefaultWindow  = "Hann"

	// Capture and classification
	DefaultTargetRate    = 16000 // Rate expected by the classifier
	DefaultOutputDir     = "./recordings"
	DefaultClassifierURL = "http://localhost:8000"

	// Transport
	DefaultWebSocketAddress = "127.0.0.1:8090"
	DefaultUDPTarget        = "127.0.0.1:9090"
	DefaultBroadcastRate    = 75.0 // Messages per second, shared by all clients
	DefaultBroadcastBurst   = 75

	// Hardware and processing limits
	MinDeviceID     = -1
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
	MinGain         = 0
	MaxGain         = 15
	MaxChannels     = 2

	// Lookup
	DefaultConfigFile = "cardio.yaml"
	DefaultEnvFile    = ".env"
	EnvPrefix         = "CARDIO_"
)

// Duration defaults.
var (
	DefaultCaptureDuration   = 20 * time.Second
	DefaultClassifierTimeout = 30 * time.Second
	DefaultUDPSendInterval   = 33 * time.Millisecond // ~30 Hz
)
