// SPDX-License-Identifier: MIT
package cmd

import (
	"cardio/internal/config"
	"cardio/pkg/build"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	applog "cardio/internal/log"

	"github.com/spf13/cobra"
)

// options holds flags shared by all commands. Only flags the user set
// override the configuration file.
type options struct {
	configPath      string
	deviceID        int
	outputDeviceID  int
	sampleRate      float64
	framesPerBuffer int
	logLevel        string
	logFile         string
	imagesDir       string
	outputDir       string
	monitor         bool
	dummy           bool
	websocket       bool
	udp             bool
	metrics         bool
}

// Execute runs the command line with the process arguments.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "",
		"YAML configuration file (default ./"+config.DefaultConfigFile+" when present)")
	flags.IntVarP(&opts.deviceID, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use 'list' to see available devices.")
	flags.IntVar(&opts.outputDeviceID, "output-device", config.DefaultDeviceID,
		"Playback device ID for monitoring")
	flags.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&opts.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFile, "log-file", "cardio.log", "Where logs go while the monitor screen is shown")
	flags.StringVar(&opts.imagesDir, "images-dir", "", "Save classification images to this directory")
	flags.StringVarP(&opts.outputDir, "output", "o", config.DefaultOutputDir, "Directory for recorded clips")
	flags.BoolVarP(&opts.monitor, "monitor", "m", false, "Play the filtered signal back")
	flags.BoolVar(&opts.dummy, "dummy", false, "Always use the diagnostic classification endpoint")
	flags.BoolVar(&opts.websocket, "websocket", false, "Broadcast telemetry over WebSocket")
	flags.BoolVar(&opts.udp, "udp", false, "Stream the trace over UDP")
	flags.BoolVar(&opts.metrics, "metrics", false, "Serve Prometheus metrics")

	// Without a subcommand the monitor runs.
	monitorCmd := newMonitorCmd(opts)
	rootCmd.RunE = monitorCmd.RunE
	rootCmd.Flags().AddFlagSet(monitorCmd.Flags())

	rootCmd.AddCommand(
		newMonitorCmd(opts),
		newListCmd(),
		newRecordCmd(opts),
		newClassifyCmd(opts),
		newReplayCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("device") {
		cfg.Audio.InputDevice = opts.deviceID
	}
	if changed("output-device") {
		cfg.Audio.OutputDevice = opts.outputDeviceID
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = opts.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = opts.framesPerBuffer
	}
	if changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if changed("images-dir") {
		cfg.Classifier.ImagesDir = opts.imagesDir
	}
	if changed("output") {
		cfg.Capture.OutputDir = opts.outputDir
	}
	if changed("monitor") {
		cfg.Audio.Monitor = opts.monitor
	}
	if changed("dummy") {
		cfg.Classifier.Dummy = opts.dummy
	}
	if changed("websocket") {
		cfg.Transport.WebSocketEnabled = opts.websocket
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = opts.udp
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = opts.metrics
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
	return cfg, nil
}
