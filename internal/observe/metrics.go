// SPDX-License-Identifier: MIT

// Package observe holds the OpenTelemetry instruments for the monitoring
// pipeline and the classification client.
//
// Metrics go through the OpenTelemetry Metrics API and are exported for
// scraping through a Prometheus bridge set up by [InitProvider]. Tests should
// build their own instance with [NewMetrics] over a manual reader instead of
// using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all cardio metrics.
const meterName = "cardio"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// --- Detector ---

	// Beats counts accepted beats.
	Beats metric.Int64Counter

	// Rejections counts candidates rejected by the detector. Use with
	//   attribute.String("reason", ...)
	Rejections metric.Int64Counter

	// SignalLost counts silence resets of the beat history.
	SignalLost metric.Int64Counter

	// BPM is the latest smoothed heart rate, 0 while unknown.
	BPM metric.Int64Gauge

	// --- Pipeline ---

	// TickDuration tracks the time spent in one display tick.
	TickDuration metric.Float64Histogram

	// DroppedFrames counts input frames discarded because the pipeline fell
	// behind the device.
	DroppedFrames metric.Int64Counter

	// ActiveSessions tracks running monitoring sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Classification ---

	// ClassifyRequests counts service calls. Use with
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	ClassifyRequests metric.Int64Counter

	// ClassifyDuration tracks service call latency per endpoint.
	ClassifyDuration metric.Float64Histogram
}

// tickBuckets covers a 60 Hz budget of roughly 16ms.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.05,
}

// requestBuckets covers model inference on a short recording.
var requestBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Beats, err = m.Int64Counter("cardio.beats",
		metric.WithDescription("Accepted heartbeats."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("cardio.detector.rejections",
		metric.WithDescription("Beat candidates rejected by reason."),
	); err != nil {
		return nil, err
	}
	if met.SignalLost, err = m.Int64Counter("cardio.signal_lost",
		metric.WithDescription("Beat history resets after prolonged silence."),
	); err != nil {
		return nil, err
	}
	if met.BPM, err = m.Int64Gauge("cardio.bpm",
		metric.WithDescription("Smoothed heart rate, 0 while unknown."),
		metric.WithUnit("{beat}/min"),
	); err != nil {
		return nil, err
	}

	if met.TickDuration, err = m.Float64Histogram("cardio.tick.duration",
		metric.WithDescription("Time spent processing one display tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("cardio.audio.dropped_frames",
		metric.WithDescription("Input frames dropped because processing fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cardio.active_sessions",
		metric.WithDescription("Running monitoring sessions."),
	); err != nil {
		return nil, err
	}

	if met.ClassifyRequests, err = m.Int64Counter("cardio.classify.requests",
		metric.WithDescription("Classification service calls by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("cardio.classify.duration",
		metric.WithDescription("Classification service latency by endpoint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRejection counts one rejected beat candidate.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClassifyRequest counts one service call and its latency.
func (m *Metrics) RecordClassifyRequest(ctx context.Context, endpoint, status string, elapsed time.Duration) {
	m.ClassifyRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
	m.ClassifyDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}
