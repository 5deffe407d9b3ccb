package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newRecorded(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestFrameRendered(t *testing.T) {
	m, reader := newRecorded(t)

	m.FrameRendered(10 * time.Millisecond)
	m.FrameRendered(2500 * time.Microsecond)

	got := collect(t, reader)

	frames, ok := got["circle.frames"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, frames.DataPoints, 1)
	assert.Equal(t, int64(2), frames.DataPoints[0].Value)
	assert.True(t, frames.IsMonotonic)

	duration := got["circle.frame.duration"]
	assert.Equal(t, "ms", duration.Unit)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.InDelta(t, 12.5, hist.DataPoints[0].Sum, 1e-9)
}

func TestSwapchainRecreated_ByReason(t *testing.T) {
	m, reader := newRecorded(t)

	m.SwapchainRecreated(ReasonResize)
	m.SwapchainRecreated(ReasonOutOfDate)
	m.SwapchainRecreated(ReasonOutOfDate)
	m.SwapchainRecreated(ReasonSuboptimal)

	sum, ok := collect(t, reader)["circle.swapchain.recreations"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byReason := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		reason, ok := dp.Attributes.Value("reason")
		require.True(t, ok)
		byReason[reason.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		"resize":      1,
		"out_of_date": 2,
		"suboptimal":  1,
	}, byReason)
}

func TestNew_NoopMeter(t *testing.T) {
	m, err := New(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.FrameRendered(16 * time.Millisecond)
		m.SwapchainRecreated(ReasonResize)
	})
}
