package viewport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/scrollsync/internal/models"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func hourlyBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		price := 100 + float64(i%7)
		bars[i] = models.Bar{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   10,
		}
	}
	return bars
}

func newTestViewport(t *testing.T, bars []models.Bar, config Config, opts ...Option) *Viewport {
	t.Helper()
	key := models.NewKey("EURUSD", models.GranularityH1, models.ViewKindCandlestick)
	source := NewSliceSource()
	source.Add(key.Series(), bars...)

	v := New(key, source, config, opts...)
	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(func() { _ = v.Close() })

	err := v.Do(context.Background(), func() {
		_, err := v.Load(context.Background())
		assert.NoError(t, err)
	})
	require.NoError(t, err)
	return v
}

func TestSliceSource_PageBefore(t *testing.T) {
	series := models.SeriesKey{InstrumentID: "A", Granularity: models.GranularityH1}
	bars := hourlyBars(10)
	source := NewSliceSource()
	source.Add(series, bars[5:]...)
	source.Add(series, bars[:5]...)

	newest, err := source.PageBefore(context.Background(), series, time.Time{}, 3)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, bars[7].OpenTime, newest[0].OpenTime)

	older, err := source.PageBefore(context.Background(), series, bars[2].OpenTime, 5)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, bars[0].OpenTime, older[0].OpenTime)

	none, err := source.PageBefore(context.Background(), series, bars[0].OpenTime, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	other, err := source.PageBefore(context.Background(), models.SeriesKey{InstrumentID: "B"}, time.Time{}, 5)
	require.NoError(t, err)
	assert.Empty(t, other)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = source.PageBefore(ctx, series, time.Time{}, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestViewport_LoadShowsNewestWindow(t *testing.T) {
	bars := hourlyBars(500)
	v := newTestViewport(t, bars, Config{PageSize: 100, VisibleBars: 20})

	state, err := v.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, state.Buffered)
	assert.Equal(t, bars[400].OpenTime, state.Earliest)
	assert.Equal(t, bars[480].OpenTime, state.Leftmost)
	assert.Equal(t, bars[499].OpenTime, state.Rightmost)
}

func TestViewport_LoadOlderPageKeepsWindow(t *testing.T) {
	bars := hourlyBars(250)
	v := newTestViewport(t, bars, Config{PageSize: 100, VisibleBars: 10})

	var loaded []int
	err := v.Do(context.Background(), func() {
		for i := 0; i < 4; i++ {
			n, err := v.LoadOlderPage(context.Background())
			assert.NoError(t, err)
			loaded = append(loaded, n)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 50, 0, 0}, loaded)

	state, err := v.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, state.Buffered)
	assert.Equal(t, bars[0].OpenTime, state.Earliest)
	assert.Equal(t, bars[240].OpenTime, state.Leftmost)
}

func TestViewport_ApplyScrollNotifiesOnMove(t *testing.T) {
	bars := hourlyBars(100)
	tracker := NewTracker()
	v := newTestViewport(t, bars, Config{PageSize: 100, VisibleBars: 10}, WithTracker(tracker))

	var mu sync.Mutex
	var seen []time.Time
	v.SetScrollHandler(func(at time.Time) {
		mu.Lock()
		seen = append(seen, at)
		mu.Unlock()
	})

	// Between bars: the next bar at or after the target.
	require.NoError(t, v.ScrollTo(bars[30].OpenTime.Add(10*time.Minute)))
	// Same position again: no notification.
	require.NoError(t, v.ScrollTo(bars[31].OpenTime))
	// Before the buffer: clamps to the earliest bar.
	require.NoError(t, v.ScrollTo(start.Add(-time.Hour)))
	// Past the buffer: clamps to the newest bar.
	require.NoError(t, v.ScrollTo(start.Add(1000*time.Hour)))
	require.NoError(t, v.ScrollBy(-9))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Time{
		bars[31].OpenTime,
		bars[0].OpenTime,
		bars[99].OpenTime,
		bars[90].OpenTime,
	}, seen)
}

func TestViewport_DrawPersistentError(t *testing.T) {
	v := newTestViewport(t, hourlyBars(10), DefaultConfig())

	err := v.Do(context.Background(), func() {
		v.DrawPersistentError("ScrollError", "first")
		v.DrawPersistentError("ScrollError", "second")
		message, ok := v.Annotation("ScrollError")
		assert.True(t, ok)
		assert.Equal(t, "second", message)
	})
	require.NoError(t, err)

	state, err := v.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ScrollError": "second"}, state.Annotations)
}

func TestViewport_CloseRejectsWork(t *testing.T) {
	tracker := NewTracker()
	v := newTestViewport(t, hourlyBars(10), DefaultConfig(), WithTracker(tracker))
	require.True(t, v.Alive())

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	assert.False(t, v.Alive())
	assert.ErrorIs(t, v.RunOnOwnContext(func() {}), ErrClosed)
	assert.ErrorIs(t, v.Do(context.Background(), func() {}), ErrClosed)
	assert.ErrorIs(t, v.Start(context.Background()), ErrClosed)
	assert.Zero(t, tracker.Outstanding())
}

func TestViewport_CancelledContextCloses(t *testing.T) {
	key := models.NewKey("A", models.GranularityM1, models.ViewKindLine)
	v := New(key, NewSliceSource(), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, v.Start(ctx))
	assert.ErrorIs(t, v.Start(ctx), ErrAlreadyRunning)

	cancel()
	assert.Eventually(t, func() bool { return !v.Alive() }, 5*time.Second, 5*time.Millisecond)
}

func TestViewport_TaskPanicDoesNotStopLoop(t *testing.T) {
	v := newTestViewport(t, hourlyBars(10), DefaultConfig())

	require.NoError(t, v.RunOnOwnContext(func() { panic("boom") }))

	ran := false
	require.NoError(t, v.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestTracker_WaitReturnsWhenIdle(t *testing.T) {
	tracker := NewTracker()
	require.NoError(t, tracker.Wait(context.Background()))

	tracker.add(2)
	assert.Equal(t, 2, tracker.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.Wait(ctx), context.DeadlineExceeded)

	tracker.add(-1)
	tracker.add(-1)
	require.NoError(t, tracker.Wait(context.Background()))
}

func TestViewport_ScrollByPagesHistory(t *testing.T) {
	bars := hourlyBars(500)
	tracker := NewTracker()
	v := newTestViewport(t, bars, Config{PageSize: 100, VisibleBars: 10}, WithTracker(tracker))

	// Window starts at bar 490 with bars 400..499 buffered.
	require.NoError(t, v.ScrollBy(-250))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.Wait(ctx))

	state, err := v.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bars[240].OpenTime, state.Leftmost)
	assert.Equal(t, bars[200].OpenTime, state.Earliest)

	// Panning past the start of history stops at the first bar.
	require.NoError(t, v.ScrollBy(-1000))
	require.NoError(t, tracker.Wait(ctx))

	state, err = v.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bars[0].OpenTime, state.Leftmost)
}
