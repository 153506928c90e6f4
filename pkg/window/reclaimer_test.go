package window

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/processor"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/watermark"
)

type fixedWatermark struct {
	value atomic.Int64
}

func (f *fixedWatermark) GlobalWatermark() int64 { return f.value.Load() }

type release struct {
	start   int64
	partial bool
}

// fakeHolder serves a fixed set of windows and records releases
type fakeHolder struct {
	mu       sync.Mutex
	windows  map[int64]Info
	releases []release
	block    chan struct{}
	entered  chan struct{}
	stale    bool // report windows as gone when released
	fail     error
}

func newFakeHolder(infos ...Info) *fakeHolder {
	h := &fakeHolder{windows: make(map[int64]Info)}
	for _, info := range infos {
		h.windows[info.Start] = info
	}
	return h
}

func (h *fakeHolder) Windows() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.windows))
	for _, info := range h.windows {
		out = append(out, info)
	}
	return out
}

func (h *fakeHolder) ReleaseWindow(_ context.Context, start int64, partial bool) (bool, error) {
	if h.entered != nil {
		h.entered <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases = append(h.releases, release{start: start, partial: partial})
	if h.fail != nil {
		return false, h.fail
	}
	if h.stale {
		return false, nil
	}
	_, ok := h.windows[start]
	delete(h.windows, start)
	return ok, nil
}

func (h *fakeHolder) touch(start int64, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.windows[start]
	if !ok {
		info = Info{Start: start, End: start + 1000}
	}
	info.LastUpdated = at
	h.windows[start] = info
}

func (h *fakeHolder) Releases() []release {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]release(nil), h.releases...)
}

func TestReclaimer_ReleasesOnlyPastLateness(t *testing.T) {
	source := &fixedWatermark{}
	holder := newFakeHolder(Info{Start: 9000, End: 10000})
	r := NewReclaimer(source, WithAllowedLateness(5*time.Second), WithLogger(zap.NewNop()))
	r.Register(holder)
	ctx := context.Background()

	source.value.Store(14999)
	assert.Equal(t, 0, r.Reclaim(ctx))
	assert.Empty(t, holder.Releases())

	source.value.Store(15000)
	assert.Equal(t, 1, r.Reclaim(ctx))
	assert.Equal(t, []release{{start: 9000}}, holder.Releases())

	// Already released
	assert.Equal(t, 0, r.Reclaim(ctx))
}

func TestReclaimer_WithAggregator(t *testing.T) {
	tracker := watermark.NewTracker(watermark.WithAllowedLateness(5 * time.Second))
	sink := &collectingSink{}
	agg, err := NewAggregator(time.Second, processor.New(nil, tracker), WithSink(sink))
	require.NoError(t, err)

	r := NewReclaimer(tracker, WithAllowedLateness(tracker.AllowedLateness()))
	r.Register(agg)
	ctx := context.Background()

	_, err = agg.OnRecord(ctx, at(9500))
	require.NoError(t, err)
	_, err = agg.OnRecord(ctx, at(15000)) // watermark 14999
	require.NoError(t, err)
	require.Len(t, sink.Results(), 1, "window [9000, 10000) fired but is kept for late records")

	assert.Equal(t, 0, r.Reclaim(ctx))
	require.Len(t, agg.Windows(), 2)

	_, err = agg.OnRecord(ctx, at(14000)) // late, global stays 14999
	require.NoError(t, err)
	_, err = agg.OnRecord(ctx, at(15001)) // watermark 15000
	require.NoError(t, err)

	starts := []int64{}
	for _, info := range agg.Windows() {
		starts = append(starts, info.Start)
	}
	assert.NotContains(t, starts, int64(9000), "evaluation already expired the window")
	assert.Equal(t, 0, r.Reclaim(ctx))
}

func TestReclaimer_TickerDrivesPasses(t *testing.T) {
	clock := clockz.NewFakeClock()
	source := &fixedWatermark{}
	source.value.Store(20000)
	holder := newFakeHolder(Info{Start: 0, End: 1000})

	r := NewReclaimer(source, WithInterval(time.Second), WithClock(clock))
	r.Register(holder)
	require.NoError(t, r.Start(context.Background()))

	clock.Advance(time.Second)
	clock.BlockUntilReady()

	assert.Eventually(t, func() bool { return len(holder.Releases()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Shutdown(time.Second))
}

func TestReclaimer_Trigger(t *testing.T) {
	source := &fixedWatermark{}
	source.value.Store(20000)
	holder := newFakeHolder(Info{Start: 0, End: 1000}, Info{Start: 1000, End: 2000})
	collector := metrics.NewCollector(nil)

	r := NewReclaimer(source, WithInterval(time.Hour), WithMetrics(collector))
	r.Register(holder)
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)

	r.Trigger()
	r.Trigger()

	assert.Eventually(t, func() bool { return len(holder.Releases()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Shutdown(time.Second))

	// Stop after shutdown is a no-op
	r.Stop()
	assert.NoError(t, r.Shutdown(time.Second))
}

func TestReclaimer_IdlePartialRelease(t *testing.T) {
	clock := clockz.NewFakeClock()
	source := &fixedWatermark{}
	source.value.Store(0)
	holder := newFakeHolder(Info{Start: 5000, End: 6000, LastUpdated: clock.Now()})

	r := NewReclaimer(source, WithIdleTimeout(10*time.Second), WithClock(clock))
	r.Register(holder)
	ctx := context.Background()

	clock.Advance(9 * time.Second)
	assert.Equal(t, 0, r.Reclaim(ctx))

	clock.Advance(time.Second)
	assert.Equal(t, 1, r.Reclaim(ctx))
	assert.Equal(t, []release{{start: 5000, partial: true}}, holder.Releases())
	assert.Empty(t, holder.Windows(), "a partial release drops the window")

	clock.Advance(time.Minute)
	assert.Equal(t, 0, r.Reclaim(ctx))

	// A record reopens the window; the watermark then releases it for good
	holder.touch(5000, clock.Now())
	source.value.Store(6000)
	assert.Equal(t, 1, r.Reclaim(ctx))
	assert.Equal(t, release{start: 5000}, holder.Releases()[1])
}

func TestReclaimer_CountsOnlyRemovedWindows(t *testing.T) {
	source := &fixedWatermark{}
	source.value.Store(20000)
	ctx := context.Background()

	gone := newFakeHolder(Info{Start: 0, End: 1000}, Info{Start: 1000, End: 2000})
	gone.stale = true
	failing := newFakeHolder(Info{Start: 0, End: 1000})
	failing.fail = errors.New("sink unavailable")
	healthy := newFakeHolder(Info{Start: 3000, End: 4000})

	r := NewReclaimer(source, WithLogger(zap.NewNop()))
	r.Register(gone)
	r.Register(failing)
	r.Register(healthy)

	assert.Equal(t, 1, r.Reclaim(ctx))
	assert.Len(t, gone.Releases(), 2, "stale windows are still visited")
	assert.Len(t, failing.Releases(), 1)
	assert.Equal(t, []release{{start: 3000}}, healthy.Releases())
}

func TestReclaimer_IdleReleaseFreesAbandonedPartition(t *testing.T) {
	clock := clockz.NewFakeClock()
	tracker := watermark.NewTracker(watermark.WithAllowedLateness(time.Second))
	sink := &collectingSink{}
	agg, err := NewAggregator(time.Second, processor.New(nil, tracker),
		WithSink(sink), WithAggregatorClock(clock))
	require.NoError(t, err)

	r := NewReclaimer(tracker,
		WithAllowedLateness(tracker.AllowedLateness()),
		WithIdleTimeout(30*time.Second),
		WithClock(clock))
	r.Register(agg)
	ctx := context.Background()

	partitioned := func(partition string, ts int64) *stream.Record {
		rec := at(ts)
		rec.SetHeader(stream.PartitionHeader, partition)
		return rec
	}

	// Partition 1 goes silent and pins the global watermark at 99
	_, err = agg.OnRecord(ctx, partitioned("1", 100))
	require.NoError(t, err)
	for ts := int64(1000); ts < 20000; ts += 500 {
		_, err = agg.OnRecord(ctx, partitioned("0", ts))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(99), tracker.GlobalWatermark())
	require.Len(t, agg.Windows(), 20)
	assert.Empty(t, sink.Results())
	assert.Equal(t, 0, r.Reclaim(ctx))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 20, r.Reclaim(ctx))
	assert.Empty(t, agg.Windows(), "idle windows must not pile up behind a stuck watermark")

	results := sink.Results()
	require.Len(t, results, 20)
	for _, result := range results {
		assert.True(t, result.Partial)
	}

	// Nothing is left to release
	clock.Advance(time.Minute)
	assert.Equal(t, 0, r.Reclaim(ctx))
	assert.Len(t, sink.Results(), 20)
}

func TestReclaimer_ContextCancelStopsLoop(t *testing.T) {
	r := NewReclaimer(&fixedWatermark{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	cancel()
	assert.NoError(t, r.Shutdown(time.Second))
}

func TestReclaimer_ShutdownTimeout(t *testing.T) {
	source := &fixedWatermark{}
	source.value.Store(20000)
	holder := newFakeHolder(Info{Start: 0, End: 1000})
	holder.block = make(chan struct{})
	holder.entered = make(chan struct{}, 1)

	r := NewReclaimer(source, WithInterval(time.Hour))
	r.Register(holder)
	require.NoError(t, r.Start(context.Background()))

	r.Trigger()
	<-holder.entered

	assert.ErrorIs(t, r.Shutdown(20*time.Millisecond), ErrShutdownTimeout)

	// The in-flight release completes before the loop exits
	close(holder.block)
	require.NoError(t, r.Shutdown(time.Second))
	assert.Len(t, holder.Releases(), 1)
}
