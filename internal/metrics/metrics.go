package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hellhand/vkcircle/internal/metrics"

// Reasons attached to swapchain recreations.
const (
	ReasonResize     = "resize"
	ReasonOutOfDate  = "out_of_date"
	ReasonSuboptimal = "suboptimal"
)

// Meter returns the meter from the global OTel provider, a no-op unless an
// SDK provider has been installed.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics records frame and swapchain activity.
type Metrics struct {
	frames       metric.Int64Counter
	recreations  metric.Int64Counter
	frameElapsed metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.frames, err = meter.Int64Counter(
		"circle.frames",
		metric.WithDescription("Frames submitted for presentation"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	m.recreations, err = meter.Int64Counter(
		"circle.swapchain.recreations",
		metric.WithDescription("Swapchain rebuilds by cause"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating recreations counter: %w", err)
	}

	m.frameElapsed, err = meter.Float64Histogram(
		"circle.frame.duration",
		metric.WithDescription("Wall time spent producing one frame"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frame duration histogram: %w", err)
	}
	return m, nil
}

// FrameRendered counts one presented frame that took d to produce.
func (m *Metrics) FrameRendered(d time.Duration) {
	ctx := context.Background()
	m.frames.Add(ctx, 1)
	m.frameElapsed.Record(ctx, float64(d)/float64(time.Millisecond))
}

// SwapchainRecreated counts one rebuild caused by reason.
func (m *Metrics) SwapchainRecreated(reason string) {
	m.recreations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}
