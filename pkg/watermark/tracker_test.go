package watermark

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

func partitionHeaders(p int) map[string]string {
	return map[string]string{stream.PartitionHeader: strconv.Itoa(p)}
}

func TestTracker_Floor(t *testing.T) {
	tracker := NewTracker(WithMaxOutOfOrderness(2 * time.Second))

	assert.Equal(t, int64(math.MinInt64+2001), tracker.Floor())
	assert.Equal(t, tracker.Floor(), tracker.GlobalWatermark())
	assert.Empty(t, tracker.Partitions())
}

func TestTracker_LatenessScenario(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	tracker := NewTracker(WithAllowedLateness(5*time.Second), WithLogger(logger))
	headers := map[string]string{}

	status, err := tracker.UpdateWatermarks(headers, 10000)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, status)
	wm, ok := tracker.PartitionWatermark(0)
	require.True(t, ok)
	assert.Equal(t, int64(9999), wm)

	status, err = tracker.UpdateWatermarks(headers, 9000)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, status)
	wm, _ = tracker.PartitionWatermark(0)
	assert.Equal(t, int64(9999), wm)

	status, err = tracker.UpdateWatermarks(headers, 3000)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)
	wm, _ = tracker.PartitionWatermark(0)
	assert.Equal(t, int64(9999), wm)
	assert.Equal(t, int64(9999), tracker.GlobalWatermark())
}

func TestTracker_ClassificationBoundaries(t *testing.T) {
	tracker := NewTracker(WithAllowedLateness(100 * time.Millisecond))
	_, err := tracker.UpdateWatermarks(nil, 1001) // watermark 1000
	require.NoError(t, err)

	tests := []struct {
		name     string
		ts       int64
		expected Status
	}{
		{"equal to watermark", 1000, StatusValid},
		{"ahead of watermark", 1500, StatusValid},
		{"one behind watermark", 999, StatusLate},
		{"exactly at lateness bound", 900, StatusLate},
		{"one past lateness bound", 899, StatusDiscarded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Use a fresh partition per case so the global watermark stays at 1000
			fresh := NewTracker(WithAllowedLateness(100 * time.Millisecond))
			_, err := fresh.UpdateWatermarks(nil, 1001)
			require.NoError(t, err)

			status, err := fresh.UpdateWatermarks(nil, tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}
	assert.Equal(t, int64(1000), tracker.GlobalWatermark())
}

func TestTracker_NoLatenessDiscardsEverythingBehind(t *testing.T) {
	tracker := NewTracker()
	_, err := tracker.UpdateWatermarks(nil, 5000)
	require.NoError(t, err)

	status, err := tracker.UpdateWatermarks(nil, 4998)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)

	status, err = tracker.UpdateWatermarks(nil, 4999)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, status)
}

func TestTracker_MaxOutOfOrderness(t *testing.T) {
	tracker := NewTracker(WithMaxOutOfOrderness(time.Second))

	_, err := tracker.UpdateWatermarks(nil, 10000)
	require.NoError(t, err)
	wm, _ := tracker.PartitionWatermark(0)
	assert.Equal(t, int64(8999), wm)
}

func TestTracker_DiscardedUpdateIsNoop(t *testing.T) {
	tracker := NewTracker(WithAllowedLateness(time.Second))
	_, err := tracker.UpdateWatermarks(partitionHeaders(1), 10000)
	require.NoError(t, err)
	before := tracker.Partitions()

	for i := 0; i < 3; i++ {
		status, err := tracker.UpdateWatermarks(partitionHeaders(2), 100)
		require.NoError(t, err)
		assert.Equal(t, StatusDiscarded, status)
	}

	assert.Equal(t, before, tracker.Partitions())
	_, exists := tracker.PartitionWatermark(2)
	assert.False(t, exists, "a discarded record must not create partition state")
}

func TestTracker_GlobalWatermarkIsMinimum(t *testing.T) {
	tracker := NewTracker(WithAllowedLateness(time.Hour))

	_, err := tracker.UpdateWatermarks(partitionHeaders(0), 50000)
	require.NoError(t, err)
	_, err = tracker.UpdateWatermarks(partitionHeaders(1), 30000)
	require.NoError(t, err)
	assert.Equal(t, int64(29999), tracker.GlobalWatermark())

	// A new lower partition lowers the global watermark on the next read
	status, err := tracker.UpdateWatermarks(partitionHeaders(7), 20000)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, status)
	assert.Equal(t, int64(19999), tracker.GlobalWatermark())

	assert.Equal(t, map[int32]int64{0: 49999, 1: 29999, 7: 19999}, tracker.Partitions())
}

func TestTracker_PassThrough(t *testing.T) {
	tracker := NewTracker(WithMaxOutOfOrderness(10*time.Second), WithAllowedLateness(time.Second))

	headers := map[string]string{stream.WatermarkHeader: "42000"}
	status, err := tracker.UpdateWatermarks(headers, 99999)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, status)

	wm, ok := tracker.PartitionWatermark(0)
	require.True(t, ok)
	assert.Equal(t, int64(42000), wm, "inherited watermark must be used verbatim")

	// Lateness is judged on the inherited watermark, not on the event time
	headers[stream.WatermarkHeader] = "40000"
	status, err = tracker.UpdateWatermarks(headers, 99999)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)

	headers[stream.WatermarkHeader] = "41500"
	status, err = tracker.UpdateWatermarks(headers, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, status)
	wm, _ = tracker.PartitionWatermark(0)
	assert.Equal(t, int64(42000), wm)
}

func TestTracker_InvalidHeaders(t *testing.T) {
	tracker := NewTracker()

	tests := []struct {
		name    string
		headers map[string]string
		target  error
	}{
		{"empty partition", map[string]string{stream.PartitionHeader: ""}, eterrors.ErrInvalidPartition},
		{"non-numeric partition", map[string]string{stream.PartitionHeader: "abc"}, eterrors.ErrInvalidPartition},
		{"negative partition", map[string]string{stream.PartitionHeader: "-1"}, eterrors.ErrInvalidPartition},
		{"invalid watermark", map[string]string{stream.WatermarkHeader: "soon"}, eterrors.ErrInvalidWatermark},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracker.UpdateWatermarks(tt.headers, 1000)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, eterrors.IsConfigurationError(err))
		})
	}
	assert.Empty(t, tracker.Partitions())
}

func TestPartitionOf(t *testing.T) {
	p, err := PartitionOf(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), p)

	p, err = PartitionOf(map[string]string{stream.PartitionHeader: " 12 "})
	require.NoError(t, err)
	assert.Equal(t, int32(12), p)
}

func TestTracker_Predicates(t *testing.T) {
	tracker := NewTracker(WithAllowedLateness(5 * time.Second))
	_, err := tracker.UpdateWatermarks(nil, 15001) // watermark 15000

	require.NoError(t, err)
	assert.True(t, tracker.IsOlderThanWatermark(15000))
	assert.False(t, tracker.IsOlderThanWatermark(15001))
	assert.True(t, tracker.IsOlderThanAllowedLateness(9999))
	assert.False(t, tracker.IsOlderThanAllowedLateness(10000))
	assert.True(t, tracker.AllowedLatenessEnabled())
}

func TestTracker_NoTimestampDoesNotWrap(t *testing.T) {
	tracker := NewTracker(WithMaxOutOfOrderness(time.Second), WithAllowedLateness(time.Second))

	status, err := tracker.UpdateWatermarks(nil, math.MinInt64)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)
	assert.Equal(t, tracker.Floor(), tracker.GlobalWatermark())

	// A timestamp at the floor is valid; its candidate lies below the floor
	// so the new cell keeps its initial value
	status, err = tracker.UpdateWatermarks(nil, tracker.Floor())
	require.NoError(t, err)
	assert.Equal(t, StatusValid, status)
	wm, ok := tracker.PartitionWatermark(0)
	require.True(t, ok)
	assert.Equal(t, tracker.Floor(), wm)
}

func TestTracker_ConcurrentUpdatesAreMonotonic(t *testing.T) {
	tracker := NewTracker(WithAllowedLateness(time.Duration(math.MaxInt64)))

	const writers = 16
	const perWriter = 2000

	var maxTs int64
	var maxMu sync.Mutex

	stop := make(chan struct{})
	violations := make(chan int64, 1)
	var readerWg sync.WaitGroup
	readerWg.Add(1)
	go func() {
		defer readerWg.Done()
		last := int64(math.MinInt64)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if wm, ok := tracker.PartitionWatermark(0); ok {
				if wm < last {
					select {
					case violations <- wm:
					default:
					}
					return
				}
				last = wm
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			localMax := int64(0)
			for i := 0; i < perWriter; i++ {
				ts := r.Int63n(1_000_000)
				if ts > localMax {
					localMax = ts
				}
				_, err := tracker.UpdateWatermarks(nil, ts)
				assert.NoError(t, err)
			}
			maxMu.Lock()
			if localMax > maxTs {
				maxTs = localMax
			}
			maxMu.Unlock()
		}(int64(w))
	}
	wg.Wait()
	close(stop)
	readerWg.Wait()

	select {
	case wm := <-violations:
		t.Fatalf("partition watermark moved backward to %d", wm)
	default:
	}

	wm, ok := tracker.PartitionWatermark(0)
	require.True(t, ok)
	assert.Equal(t, maxTs-1, wm)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "valid", StatusValid.String())
	assert.Equal(t, "late", StatusLate.String())
	assert.Equal(t, "discarded", StatusDiscarded.String())
	assert.Equal(t, "unknown", Status(9).String())
}
