// SPDX-License-Identifier: MIT
package cmd

import (
	"cardio/internal/audio"
	"cardio/internal/config"
	"cardio/internal/observe"
	"cardio/internal/transport"
	"cardio/internal/transport/udp"
	"cardio/pkg/build"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	applog "cardio/internal/log"
)

// outputs are the telemetry sinks of one command run.
type outputs struct {
	metrics   *observe.Metrics
	transport *transport.MultiTransport
	publisher *udp.Publisher
	closers   []func(context.Context) error
}

// setupOutputs starts the metrics provider and the transports enabled in
// cfg. extra transports are added as given.
func setupOutputs(ctx context.Context, cfg *config.Config, extra ...transport.Transport) (*outputs, error) {
	o := &outputs{transport: transport.NewMultiTransport(extra...)}

	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceVersion: build.GetBuildFlags().Version,
		})
		if err != nil {
			return nil, fmt.Errorf("start metrics: %w", err)
		}
		o.closers = append(o.closers, shutdown)
		o.metrics = observe.DefaultMetrics()
	}

	t := cfg.Transport
	metricsOnWS := cfg.Metrics.Enabled && t.WebSocketEnabled && cfg.Metrics.Address == t.WebSocketAddress
	if t.WebSocketEnabled {
		wsOpts := []transport.WebSocketOption{
			transport.WithRateLimit(t.BroadcastRate, t.BroadcastBurst),
			transport.WithUnlimited(audio.IsBeat),
		}
		if metricsOnWS {
			wsOpts = append(wsOpts, transport.WithHandler("/metrics", observe.Handler()))
		}
		ws, err := transport.NewWebSocketTransport(t.WebSocketAddress, wsOpts...)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.transport.Add(ws)
	}
	if cfg.Metrics.Enabled && !metricsOnWS {
		o.serveMetrics(cfg.Metrics.Address)
	}
	if applog.GetLevel() <= applog.LevelDebug {
		o.transport.Add(transport.NewLoggingTransport())
	}
	return o, nil
}

func (o *outputs) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		applog.Infof("Metrics: Serving on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("Metrics: Server error: %v", err)
		}
	}()
	o.closers = append(o.closers, srv.Shutdown)
}

// engineOptions wires the sinks into an engine.
func (o *outputs) engineOptions() []audio.Option {
	var opts []audio.Option
	if o.metrics != nil {
		opts = append(opts, audio.WithMetrics(o.metrics))
	}
	if o.transport.Len() > 0 {
		opts = append(opts, audio.WithTransport(o.transport))
	}
	return opts
}

// startUDP streams the trace of src when UDP is enabled.
func (o *outputs) startUDP(cfg *config.Config, src udp.TraceSource) error {
	t := cfg.Transport
	if !t.UDPEnabled {
		return nil
	}
	sender, err := udp.NewSender(t.UDPTargetAddress)
	if err != nil {
		return err
	}
	pub, err := udp.NewPublisher(t.UDPSendInterval, sender, src)
	if err != nil {
		sender.Close()
		return err
	}
	pub.Start()
	o.publisher = pub
	o.closers = append(o.closers, func(context.Context) error {
		return errors.Join(pub.Close(), sender.Close())
	})
	return nil
}

// Close stops every sink, newest first.
func (o *outputs) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i](ctx))
	}
	errs = append(errs, o.transport.Close())
	return errors.Join(errs...)
}
