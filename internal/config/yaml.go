// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"cardio/internal/analysis"
	"cardio/internal/clip"
	applog "cardio/internal/log"
	"cardio/internal/waveform"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML.
type Config struct {
	LogLevel   string                `yaml:"log_level"`  // debug, info, warn, error.
	Audio      AudioConfig           `yaml:"audio"`      // Device and monitoring playback.
	Filter     analysis.FilterConfig `yaml:"filter"`     // Cardiac band-pass.
	Detector   analysis.Policy       `yaml:"detector"`   // Adaptive beat detection.
	BPM        analysis.BpmPolicy    `yaml:"bpm"`        // Heart-rate estimation.
	Display    DisplayConfig         `yaml:"display"`    // Tick rate and scrolling trace.
	Spectrum   SpectrumConfig        `yaml:"spectrum"`   // Band energies of the filtered signal.
	Capture    CaptureConfig         `yaml:"capture"`    // Clip recording for classification.
	Classifier ClassifierConfig      `yaml:"classifier"` // Remote classification service.
	Transport  TransportConfig       `yaml:"transport"`  // Live telemetry.
	Metrics    MetricsConfig         `yaml:"metrics"`    // Prometheus endpoint.
}

// AudioConfig holds device settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	OutputDevice    int     `yaml:"output_device"`     // Monitoring output device (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per device callback.
	InputChannels   int     `yaml:"input_channels"`    // Captured channels, downmixed to mono.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency device parameters.
	Monitor         bool    `yaml:"monitor"`           // Play the filtered signal back.
	Gain            int     `yaml:"gain"`              // Monitoring volume, 0 to 15.
}

// DisplayConfig holds the tick rate and trace options.
type DisplayConfig struct {
	RefreshRate      float64 `yaml:"refresh_rate"` // Ticks per second.
	waveform.Options `yaml:",inline"`
}

// SpectrumConfig controls the band energy analysis.
type SpectrumConfig struct {
	Enabled bool   `yaml:"enabled"`
	FFTSize int    `yaml:"fft_size"` // Power of two.
	Window  string `yaml:"window"`   // Hann, Hamming, Blackman...
}

// CaptureConfig controls clip recording.
type CaptureConfig struct {
	Duration     time.Duration `yaml:"duration"`
	OutputDir    string        `yaml:"output_dir"`
	Save         bool          `yaml:"save"` // Keep the encoded clip on disk.
	clip.Prepare `yaml:",inline"`
}

// ClassifierConfig describes the classification service.
type ClassifierConfig struct {
	BaseURL      string        `yaml:"base_url"`
	PredictPath  string        `yaml:"predict_path"`
	FallbackPath string        `yaml:"fallback_path"` // Empty disables the fallback.
	Timeout      time.Duration `yaml:"timeout"`
	Dummy        bool          `yaml:"dummy"`      // Always use the diagnostic endpoint.
	ImagesDir    string        `yaml:"images_dir"` // Where result images are saved; empty skips.
}

// TransportConfig holds telemetry outputs.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"`
	BroadcastRate    float64       `yaml:"broadcast_rate"`  // Messages per second across all clients; beats are exempt.
	BroadcastBurst   int           `yaml:"broadcast_burst"` // Limiter burst.
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// MetricsConfig enables the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Served on the websocket server when equal to its address.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultChannels,
			Monitor:         false,
			Gain:            DefaultGain,
		},
		Filter:   analysis.DefaultFilterConfig(),
		Detector: analysis.DefaultPolicy(),
		BPM:      analysis.DefaultBpmPolicy(),
		Display: DisplayConfig{
			RefreshRate: DefaultRefreshRate,
			Options:     waveform.DefaultOptions(),
		},
		Spectrum: SpectrumConfig{
			Enabled: true,
			FFTSize: DefaultFFTSize,
			Window:  DefaultWindow,
		},
		Capture: CaptureConfig{
			Duration:  DefaultCaptureDuration,
			OutputDir: DefaultOutputDir,
			Save:      true,
			Prepare:   clip.DefaultPrepare(),
		},
		Classifier: ClassifierConfig{
			BaseURL:      DefaultClassifierURL,
			PredictPath:  "/predict",
			FallbackPath: "/predict_dummy",
			Timeout:      DefaultClassifierTimeout,
		},
		Transport: TransportConfig{
			WebSocketAddress: DefaultWebSocketAddress,
			BroadcastRate:    DefaultBroadcastRate,
			BroadcastBurst:   DefaultBroadcastBurst,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
		Metrics: MetricsConfig{
			Address: DefaultWebSocketAddress,
		},
	}
}

// LoadConfig loads configuration from the YAML file at path. With an empty
// path it looks for cardio.yaml in the working directory and falls back to
// the defaults when there is none. Variables from a .env file are loaded
// first without replacing the process environment; CARDIO_* variables then
// override file values and the result is validated.
func LoadConfig(path string) (*Config, error) {
	return load(path, DefaultEnvFile)
}

func load(path, envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file: %w", err)
			}
		}
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		add("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		add("audio devices must be >= %d", MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		add("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		add("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames)
	}
	if a.InputChannels < 1 || a.InputChannels > MaxChannels {
		add("audio.input_channels %d outside [1, %d]", a.InputChannels, MaxChannels)
	}
	if a.Gain < MinGain || a.Gain > MaxGain {
		add("audio.gain %d outside [%d, %d]", a.Gain, MinGain, MaxGain)
	}

	if err := c.Filter.Validate(a.SampleRate); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}
	if err := c.Detector.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := c.BPM.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bpm: %w", err))
	}

	if c.Display.RefreshRate <= 0 {
		add("display.refresh_rate must be positive, got %g", c.Display.RefreshRate)
	} else if a.SampleRate/c.Display.RefreshRate < 1 {
		add("display.refresh_rate %g exceeds the sample rate", c.Display.RefreshRate)
	}
	if err := c.Display.Options.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}

	if c.Spectrum.Enabled {
		if c.Spectrum.FFTSize < 64 || c.Spectrum.FFTSize&(c.Spectrum.FFTSize-1) != 0 {
			add("spectrum.fft_size %d must be a power of two >= 64", c.Spectrum.FFTSize)
		}
		if _, err := analysis.ParseWindowFunc(c.Spectrum.Window); err != nil {
			errs = append(errs, fmt.Errorf("spectrum: %w", err))
		}
	}

	if c.Capture.Duration <= 0 {
		add("capture.duration must be positive")
	}
	if c.Capture.TargetRate <= 0 {
		add("capture.target_rate must be positive, got %d", c.Capture.TargetRate)
	}
	if c.Capture.Amplify < 0 {
		add("capture.amplify must not be negative")
	}

	if c.Classifier.BaseURL == "" {
		add("classifier.base_url must be set")
	}
	if c.Classifier.Timeout <= 0 {
		add("classifier.timeout must be positive")
	}

	t := c.Transport
	if t.WebSocketEnabled {
		if _, _, err := net.SplitHostPort(t.WebSocketAddress); err != nil {
			add("transport.websocket_address %q: %v", t.WebSocketAddress, err)
		}
		if t.BroadcastRate <= 0 || t.BroadcastBurst < 1 {
			add("transport broadcast rate and burst must be positive")
		}
	}
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			add("transport.udp_target_address %q: %v", t.UDPTargetAddress, err)
		}
		if t.UDPSendInterval <= 0 {
			add("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			add("metrics.address %q: %v", c.Metrics.Address, err)
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies CARDIO_* variables on top of file values.
// Unparseable values are reported rather than ignored.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	str := func(name string, dst *string) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(val)
			applog.Debugf("Config: Overriding %s from env: %s", strings.ToLower(name), *dst)
		}
	}
	integer := func(name string, dst *int) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			v, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = v
			applog.Debugf("Config: Overriding %s from env: %d", strings.ToLower(name), v)
		}
	}
	float := func(name string, dst *float64) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = v
			applog.Debugf("Config: Overriding %s from env: %g", strings.ToLower(name), v)
		}
	}
	boolean := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			v, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = v
			applog.Debugf("Config: Overriding %s from env: %v", strings.ToLower(name), v)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			v, err := time.ParseDuration(strings.TrimSpace(val))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = v
			applog.Debugf("Config: Overriding %s from env: %s", strings.ToLower(name), v)
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	integer("DEVICE", &c.Audio.InputDevice)
	float("SAMPLE_RATE", &c.Audio.SampleRate)
	integer("GAIN", &c.Audio.Gain)
	boolean("MONITOR", &c.Audio.Monitor)
	duration("CAPTURE_DURATION", &c.Capture.Duration)
	str("CLASSIFIER_URL", &c.Classifier.BaseURL)
	boolean("CLASSIFIER_DUMMY", &c.Classifier.Dummy)
	boolean("WS_ENABLED", &c.Transport.WebSocketEnabled)
	str("WS_ADDRESS", &c.Transport.WebSocketAddress)
	boolean("UDP_ENABLED", &c.Transport.UDPEnabled)
	str("UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	duration("UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_ADDRESS", &c.Metrics.Address)

	return errors.Join(errs...)
}
