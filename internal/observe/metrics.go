// Package observe provides the OpenTelemetry instruments of the capture
// pipeline and an optional Prometheus exporter for them.
//
// Components take a [*Metrics] built by [NewMetrics]. When no provider has
// been installed the global OTel meter provider is a no-op, so recording is
// always safe. Tests should pass an sdk MeterProvider with a ManualReader.
package observe

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/audiolibrelab/segcapture"

// Metrics holds all metric instruments of a capture session. The underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// FramesRead counts device reads that returned a frame
	FramesRead metric.Int64Counter

	// SegmentsCaptured counts segments handed to the queue
	SegmentsCaptured metric.Int64Counter

	// BytesCaptured counts PCM bytes handed to the queue
	BytesCaptured metric.Int64Counter

	// SegmentsProcessed counts segments taken off the queue by the
	// processing stage
	SegmentsProcessed metric.Int64Counter

	// SegmentsDropped counts segments evicted by a bounded drop_oldest queue
	// or refused by a closed queue
	SegmentsDropped metric.Int64Counter

	// DeviceErrors counts stream open and read failures
	DeviceErrors metric.Int64Counter

	// QueueDepth tracks segments waiting in the queue
	QueueDepth metric.Int64UpDownCounter

	// SessionDuration records the wall-clock length of finished sessions
	SessionDuration metric.Float64Histogram

	// FlushDuration records the time spent writing the session file
	FlushDuration metric.Float64Histogram
}

var durationBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800, 3600,
}

// NewMetrics creates all instruments from mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesRead, err = m.Int64Counter("segcapture.capture.frames",
		metric.WithDescription("Frames read from the input device."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsCaptured, err = m.Int64Counter("segcapture.capture.segments",
		metric.WithDescription("Segments enqueued by the capture stage."),
	); err != nil {
		return nil, err
	}
	if met.BytesCaptured, err = m.Int64Counter("segcapture.capture.bytes",
		metric.WithDescription("PCM bytes enqueued by the capture stage."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SegmentsProcessed, err = m.Int64Counter("segcapture.process.segments",
		metric.WithDescription("Segments consumed by the processing stage."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("segcapture.queue.dropped",
		metric.WithDescription("Segments evicted or refused by the segment queue."),
	); err != nil {
		return nil, err
	}
	if met.DeviceErrors, err = m.Int64Counter("segcapture.device.errors",
		metric.WithDescription("Input device open and read failures."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("segcapture.queue.depth",
		metric.WithDescription("Segments waiting in the queue."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("segcapture.session.duration",
		metric.WithDescription("Wall-clock duration of capture sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FlushDuration, err = m.Float64Histogram("segcapture.flush.duration",
		metric.WithDescription("Time spent writing the session file."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Default builds instruments on the global meter provider, falling back to
// no-op instruments if the provider rejects them.
func Default() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		m, _ = NewMetrics(noop.NewMeterProvider())
	}
	return m
}
