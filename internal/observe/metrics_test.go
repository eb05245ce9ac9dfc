package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SegmentsCaptured.Add(ctx, 2)
	m.SegmentsCaptured.Add(ctx, 1)
	m.BytesCaptured.Add(ctx, 192000)

	got := findMetric(t, reader, "segcapture.capture.segments")
	require.NotNil(t, got)
	sum, ok := got.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	bytes := findMetric(t, reader, "segcapture.capture.bytes")
	require.NotNil(t, bytes)
	assert.Equal(t, "By", bytes.Unit)
}

func TestQueueDepthGoesUpAndDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -2)

	got := findMetric(t, reader, "segcapture.queue.depth")
	require.NotNil(t, got)
	sum := got.Data.(metricdata.Sum[int64])
	assert.False(t, sum.IsMonotonic)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestSessionDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SessionDuration.Record(context.Background(), 5.2)

	got := findMetric(t, reader, "segcapture.session.duration")
	require.NotNil(t, got)
	hist := got.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, durationBuckets, hist.DataPoints[0].Bounds)
}

func TestDefaultIsUsable(t *testing.T) {
	m := Default()
	require.NotNil(t, m)
	m.DeviceErrors.Add(context.Background(), 1)
}
