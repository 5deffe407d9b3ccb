package app

import (
	"context"
	"errors"
	"testing"
	"time"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hellhand/vkcircle/internal/animation"
	"github.com/hellhand/vkcircle/internal/metrics"
	"github.com/hellhand/vkcircle/internal/present"
)

type fakeWindow struct {
	width, height int
	closeAfter    int
	polls         int
	waits         int
	titles        []string
	onWait        func(w *fakeWindow)
}

func (w *fakeWindow) ShouldClose() bool { return w.polls >= w.closeAfter }
func (w *fakeWindow) PollEvents()       { w.polls++ }
func (w *fakeWindow) WaitEvents() {
	w.waits++
	if w.onWait != nil {
		w.onWait(w)
	}
}
func (w *fakeWindow) FramebufferSize() (int, int) { return w.width, w.height }
func (w *fakeWindow) SetTitle(title string)       { w.titles = append(w.titles, title) }

type fakeRenderer struct {
	extent      animation.Extent
	statuses    []present.Status
	drawErr     error
	recreateErr []error

	draws     []animation.PushConstants
	recreates [][2]uint32
	waitIdle  int
}

func (r *fakeRenderer) DrawFrame(pc animation.PushConstants) (present.Status, error) {
	if r.drawErr != nil {
		return present.StatusOK, r.drawErr
	}
	r.draws = append(r.draws, pc)
	if len(r.statuses) == 0 {
		return present.StatusOK, nil
	}
	s := r.statuses[0]
	r.statuses = r.statuses[1:]
	return s, nil
}

func (r *fakeRenderer) Recreate(width, height uint32) error {
	if len(r.recreateErr) > 0 {
		err := r.recreateErr[0]
		r.recreateErr = r.recreateErr[1:]
		if err != nil {
			return err
		}
	}
	r.recreates = append(r.recreates, [2]uint32{width, height})
	r.extent = animation.Extent{Width: width, Height: height}
	return nil
}

func (r *fakeRenderer) Extent() animation.Extent { return r.extent }

func (r *fakeRenderer) WaitIdle() error {
	r.waitIdle++
	return nil
}

// fakeTime is a manually advanced wall clock.
type fakeTime struct{ t time.Time }

func (f *fakeTime) now() time.Time      { return f.t }
func (f *fakeTime) add(d time.Duration) { f.t = f.t.Add(d) }

type fixture struct {
	window   *fakeWindow
	renderer *fakeRenderer
	clock    *fakeTime
	reader   *sdkmetric.ManualReader
	app      *Application
}

// counters returns the frame count and the swapchain recreations by reason.
func (f *fixture) counters(t *testing.T) (frames int64, recreations map[string]int64) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	recreations = make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case "circle.frames":
					frames += dp.Value
				case "circle.swapchain.recreations":
					reason, _ := dp.Attributes.Value("reason")
					recreations[reason.AsString()] += dp.Value
				}
			}
		}
	}
	return frames, recreations
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	m, err := metrics.New(provider.Meter("test"))
	require.NoError(t, err)

	f := &fixture{
		reader:   reader,
		window:   &fakeWindow{width: 800, height: 600, closeAfter: 1 << 30},
		renderer: &fakeRenderer{extent: animation.Extent{Width: 800, Height: 600}},
		clock:    &fakeTime{t: time.Unix(1000, 0)},
	}
	state := animation.NewState(mgl32.Vec2{400, 300}, mgl32.Vec2{150, 120}, 20, animation.Extent{})
	f.app, err = New(f.window, f.renderer, state, Options{
		Title:   "Vulkan Circle",
		Clock:   animation.NewClock(animation.DefaultStep, 5),
		Metrics: m,
		Logger:  zerolog.Nop(),
		Now:     f.clock.now,
	})
	require.NoError(t, err)
	return f
}

func TestNew_AdoptsRendererExtent(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, animation.Extent{Width: 800, Height: 600}, f.app.State().Extent())
}

func TestFrame_AdvancesAnimationByWallClock(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.app.Frame())
	for i := 0; i < 60; i++ {
		f.clock.add(animation.DefaultStep)
		require.NoError(t, f.app.Frame())
	}

	pos := f.app.State().Position
	assert.InDelta(t, 550, pos.X(), 0.05)
	assert.InDelta(t, 420, pos.Y(), 0.05)
	assert.Len(t, f.renderer.draws, 61)
	assert.Equal(t, f.app.State().MVP(), f.renderer.draws[60].MVP)
}

func TestFrame_OutOfDateRetryDoesNotDoubleTick(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.Frame())

	f.clock.add(animation.DefaultStep)
	f.renderer.statuses = []present.Status{present.StatusOutOfDate}
	require.NoError(t, f.app.Frame())
	afterFirst := f.app.State().Position
	require.Len(t, f.renderer.recreates, 1)

	// Retry immediately: no wall-clock time has passed.
	require.NoError(t, f.app.Frame())
	assert.Equal(t, afterFirst, f.app.State().Position)

	f.clock.add(animation.DefaultStep)
	require.NoError(t, f.app.Frame())
	assert.NotEqual(t, afterFirst, f.app.State().Position)
}

func TestFrame_SuboptimalRecreatesAfterPresent(t *testing.T) {
	f := newFixture(t)
	f.renderer.statuses = []present.Status{present.StatusSuboptimal}

	require.NoError(t, f.app.Frame())
	assert.Len(t, f.renderer.draws, 1)
	assert.Equal(t, [][2]uint32{{800, 600}}, f.renderer.recreates)
}

func TestHandleResize_RebuildsBeforeNextDraw(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.Frame())

	f.window.width, f.window.height = 1024, 300
	f.app.HandleResize(1024, 300)
	require.NoError(t, f.app.Frame())

	assert.Equal(t, [][2]uint32{{1024, 300}}, f.renderer.recreates)
	assert.Equal(t, animation.Extent{Width: 1024, Height: 300}, f.app.State().Extent())
	assert.LessOrEqual(t, f.app.State().Position.Y(), float32(300-20))
	assert.Len(t, f.renderer.draws, 2)

	require.NoError(t, f.app.Frame())
	assert.Len(t, f.renderer.recreates, 1, "resize handled once")
}

func TestFrame_MinimizedSkipsRendering(t *testing.T) {
	f := newFixture(t)
	f.window.width, f.window.height = 0, 0
	f.window.onWait = func(w *fakeWindow) { w.width, w.height = 640, 480 }

	require.NoError(t, f.app.Frame())
	assert.Equal(t, 1, f.window.waits)
	assert.Empty(t, f.renderer.draws)
	assert.Empty(t, f.renderer.recreates)

	require.NoError(t, f.app.Frame())
	assert.Equal(t, [][2]uint32{{640, 480}}, f.renderer.recreates, "restore rebuilds the swapchain")
	assert.Len(t, f.renderer.draws, 1)
}

func TestFrame_EmptySurfaceDefersRebuild(t *testing.T) {
	f := newFixture(t)
	f.app.HandleResize(800, 600)
	f.renderer.recreateErr = []error{present.ErrSurfaceEmpty}

	require.NoError(t, f.app.Frame())
	assert.Empty(t, f.renderer.draws)
	assert.Empty(t, f.renderer.recreates)

	require.NoError(t, f.app.Frame())
	assert.Len(t, f.renderer.recreates, 1)
	assert.Len(t, f.renderer.draws, 1)
}

func TestFrame_FatalErrors(t *testing.T) {
	f := newFixture(t)
	f.renderer.drawErr = &present.DeviceLostError{Op: "submit"}

	err := f.app.Frame()
	var lost *present.DeviceLostError
	assert.True(t, errors.As(err, &lost))

	f = newFixture(t)
	f.app.HandleResize(800, 600)
	f.renderer.recreateErr = []error{errors.New("out of memory")}
	assert.ErrorContains(t, f.app.Frame(), "recreate swapchain")
}

func TestFrame_FPSTitle(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 25; i++ {
		require.NoError(t, f.app.Frame())
		f.clock.add(40 * time.Millisecond)
	}
	assert.Empty(t, f.window.titles)

	require.NoError(t, f.app.Frame())
	require.Len(t, f.window.titles, 1)
	assert.Equal(t, "Vulkan Circle - FPS: 26.0", f.window.titles[0])
	assert.InDelta(t, 26.0, f.app.FPS(), 0.001)
}

func TestRun_StopsOnCloseAndWaitsIdle(t *testing.T) {
	f := newFixture(t)
	f.window.closeAfter = 3

	require.NoError(t, f.app.Run())
	assert.Len(t, f.renderer.draws, 3)
	assert.Equal(t, 1, f.renderer.waitIdle)
}

func TestRun_ReturnsFatalError(t *testing.T) {
	f := newFixture(t)
	f.renderer.drawErr = errors.New("boom")

	assert.ErrorContains(t, f.app.Run(), "boom")
	assert.Equal(t, 0, f.renderer.waitIdle)
}

func TestFrame_RecordsMetricsByOutcome(t *testing.T) {
	f := newFixture(t)

	f.renderer.statuses = []present.Status{present.StatusOutOfDate}
	require.NoError(t, f.app.Frame())
	frames, recreations := f.counters(t)
	assert.Zero(t, frames, "an aborted frame is not counted")
	assert.Equal(t, map[string]int64{metrics.ReasonOutOfDate: 1}, recreations)

	f.renderer.statuses = []present.Status{present.StatusSuboptimal}
	require.NoError(t, f.app.Frame())

	f.app.HandleResize(640, 480)
	f.window.width, f.window.height = 640, 480
	require.NoError(t, f.app.Frame())

	frames, recreations = f.counters(t)
	assert.Equal(t, int64(2), frames)
	assert.Equal(t, map[string]int64{
		metrics.ReasonOutOfDate:  1,
		metrics.ReasonSuboptimal: 1,
		metrics.ReasonResize:     1,
	}, recreations)
}
