// SPDX-License-Identifier: MIT
package cmd

import (
	"cardio/internal/audio"
	"cardio/internal/classify"
	"cardio/internal/clip"
	"cardio/internal/config"
	"cardio/internal/transport"
	"cardio/internal/tui"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	applog "cardio/internal/log"

	"github.com/spf13/cobra"
)

// monitorRefresh is the redraw rate of the monitor screen.
const monitorRefresh = time.Second / 30

func newMonitorCmd(opts *options) *cobra.Command {
	var pick bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show the live heartbeat monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			source := fmt.Sprintf("device %d", cfg.Audio.InputDevice)
			if pick {
				sel, err := tui.PickDevice()
				if err != nil {
					return err
				}
				if !sel.Chosen {
					return nil
				}
				sel.Apply(&cfg.Audio)
				if err := cfg.Validate(); err != nil {
					return err
				}
				source = sel.Name
			}

			restore := redirectLogs(opts.logFile)
			defer restore()

			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			ctx := cmd.Context()
			out, err := setupOutputs(ctx, cfg)
			if err != nil {
				return err
			}
			defer out.Close()

			client, err := newClassifier(cfg, out)
			if err != nil {
				return err
			}
			e, err := audio.NewEngine(cfg, out.engineOptions()...)
			if err != nil {
				return err
			}
			if err := e.Start(ctx); err != nil {
				return err
			}
			defer e.Stop()
			if err := out.startUDP(cfg, e); err != nil {
				applog.Warnf("UDP streaming disabled: %v", err)
			}

			return tui.RunMonitor(e, tui.MonitorOptions{
				Refresh: monitorRefresh,
				Capture: cfg.Capture.Duration,
				Submit:  newSubmitter(cfg, client).submit,
				Source:  source,
			})
		},
	}
	cmd.Flags().BoolVar(&pick, "pick", false, "Choose the input device interactively first")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
}

func newRecordCmd(opts *options) *cobra.Command {
	var (
		duration   time.Duration
		noClassify bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a clip from the stethoscope and classify it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("duration") {
				cfg.Capture.Duration = duration
			}
			w := cmd.OutOrStdout()

			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			ctx := cmd.Context()
			out, err := setupOutputs(ctx, cfg)
			if err != nil {
				return err
			}
			defer out.Close()

			var client *classify.Client
			if !noClassify {
				if client, err = newClassifier(cfg, out); err != nil {
					return err
				}
			}
			e, err := audio.NewEngine(cfg, out.engineOptions()...)
			if err != nil {
				return err
			}
			if err := e.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(w, "Recording %s...\n", cfg.Capture.Duration)
			c, err := e.Record(ctx, cfg.Capture.Duration)
			snap := e.Snapshot()
			if stopErr := e.Stop(); err == nil {
				err = stopErr
			}
			if err != nil {
				return err
			}
			printRate(w, snap)

			res, err := newSubmitter(cfg, client).submit(ctx, c)
			if err != nil || res == nil {
				return err
			}
			printResult(w, res)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", config.DefaultCaptureDuration, "Length of the clip")
	cmd.Flags().BoolVar(&noClassify, "no-classify", false, "Only save the clip")
	return cmd
}

func newClassifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file.wav>",
		Short: "Classify a recorded WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			out := &outputs{transport: transport.NewMultiTransport()}
			client, err := newClassifier(cfg, out)
			if err != nil {
				return err
			}
			res, err := client.ClassifyFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			saveImages(cfg, res, time.Now())
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newReplayCmd(opts *options) *cobra.Command {
	var realtime, beats bool
	cmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Run beat detection over a recorded WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			src, err := audio.OpenFile(args[0], cfg.Audio.FramesPerBuffer, realtime)
			if err != nil {
				return err
			}
			if cfg.Audio.Monitor {
				if err := audio.Initialize(); err != nil {
					return err
				}
				defer audio.Terminate()
			}

			var extra []transport.Transport
			if beats {
				extra = append(extra, &beatPrinter{w: w})
			}
			ctx := cmd.Context()
			out, err := setupOutputs(ctx, cfg, extra...)
			if err != nil {
				return err
			}
			defer out.Close()

			engineOpts := append(out.engineOptions(), audio.WithSource(func(context.Context, config.AudioConfig) (audio.Source, error) {
				return src, nil
			}))
			if !realtime {
				engineOpts = append(engineOpts, audio.WithPacedTicks())
			}
			e, err := audio.NewEngine(cfg, engineOpts...)
			if err != nil {
				return err
			}
			if err := e.Start(ctx); err != nil {
				return err
			}
			if err := out.startUDP(cfg, e); err != nil {
				applog.Warnf("UDP streaming disabled: %v", err)
			}

			select {
			case <-e.Done():
			case <-ctx.Done():
			}
			snap := e.Snapshot()
			if err := e.Stop(); err != nil {
				return err
			}
			fmt.Fprintf(w, "Replayed %s of %s\n", snap.Elapsed.Round(time.Millisecond), args[0])
			printRate(w, snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Replay at recording speed instead of as fast as possible")
	cmd.Flags().BoolVar(&beats, "beats", false, "Print every detected beat")
	return cmd
}

// beatPrinter is a transport that prints beat messages.
type beatPrinter struct {
	w io.Writer
}

func (p *beatPrinter) Send(data any) error {
	b, ok := data.(audio.BeatMessage)
	if !ok {
		return nil
	}
	rate := "unknown"
	if b.BPM != nil {
		rate = fmt.Sprintf("%d BPM", *b.BPM)
	}
	_, err := fmt.Fprintf(p.w, "beat at %8.3fs  energy %.4f  %s\n", float64(b.AtMs)/1000, b.Energy, rate)
	return err
}

func (p *beatPrinter) Close() error { return nil }

var _ transport.Transport = (*beatPrinter)(nil)

func newClassifier(cfg *config.Config, out *outputs) (*classify.Client, error) {
	c := cfg.Classifier
	opts := []classify.Option{
		classify.WithTimeout(c.Timeout),
		classify.WithPaths(c.PredictPath, c.FallbackPath),
		classify.WithDummy(c.Dummy),
	}
	if out.metrics != nil {
		opts = append(opts, classify.WithMetrics(out.metrics))
	}
	return classify.New(c.BaseURL, opts...)
}

// submitter turns a finished capture into a classification.
type submitter struct {
	cfg    *config.Config
	client *classify.Client
}

func newSubmitter(cfg *config.Config, client *classify.Client) submitter {
	return submitter{cfg: cfg, client: client}
}

// submit encodes c, saves it when configured and classifies it. Without a
// client it only saves and returns a nil result.
func (s submitter) submit(ctx context.Context, c *clip.Capture) (*classify.Result, error) {
	samples := c.Samples()
	if len(samples) == 0 {
		return nil, errors.New("recording is empty")
	}
	data, err := s.cfg.Capture.Encode(samples, c.SampleRate())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if s.cfg.Capture.Save {
		path, err := clip.SaveFile(s.cfg.Capture.OutputDir, "heartbeat", ".wav", data, now)
		if err != nil {
			applog.Warnf("Recording not saved: %v", err)
		} else {
			applog.Infof("Recording saved to %s", path)
		}
	}
	if s.client == nil {
		return nil, nil
	}

	res, err := s.client.Classify(ctx, data)
	if err != nil {
		return nil, err
	}
	saveImages(s.cfg, res, now)
	return res, nil
}

func saveImages(cfg *config.Config, res *classify.Result, at time.Time) {
	dir := cfg.Classifier.ImagesDir
	if dir == "" {
		return
	}
	paths, err := res.SaveImages(dir, at)
	if err != nil {
		applog.Warnf("Classification images not saved: %v", err)
	}
	for _, p := range paths {
		applog.Infof("Saved %s", p)
	}
}

func printRate(w io.Writer, snap audio.Snapshot) {
	rate := "unknown"
	if snap.BPM.Known {
		rate = fmt.Sprintf("%d BPM (%s)", snap.BPM.Value, snap.BPM.Status())
	}
	fmt.Fprintf(w, "Beats: %d\nHeart rate: %s\n", snap.Beats, rate)
}

func printResult(w io.Writer, res *classify.Result) {
	name := res.Info.Name
	if name == "" {
		name = "Unrecognized label"
	}
	fmt.Fprintf(w, "Result: %s (%s)\n", name, res.Label)
	if res.Info.Description != "" {
		fmt.Fprintf(w, "  %s\n", res.Info.Description)
	}
	fmt.Fprintf(w, "  Severity: %s\n", res.Info.Severity)
	via := fmt.Sprintf("  Served by %s in %s", res.Endpoint, res.Elapsed.Round(time.Millisecond))
	if res.Degraded {
		via += " (diagnostic endpoint, for testing only)"
	}
	fmt.Fprintln(w, via)
}

// redirectLogs sends log output to path while a full-screen view is shown
// and returns a function restoring stderr.
func redirectLogs(path string) func() {
	if path == "" {
		applog.SetOutput(io.Discard)
		return func() { applog.SetOutput(os.Stderr) }
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		applog.Warnf("Cannot open log file %s, logs are discarded: %v", path, err)
		applog.SetOutput(io.Discard)
		return func() { applog.SetOutput(os.Stderr) }
	}
	applog.SetOutput(f)
	return func() {
		applog.SetOutput(os.Stderr)
		f.Close()
	}
}

