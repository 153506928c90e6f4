// Package window implements event-time tumbling windows on top of the
// watermark tracker and the idle-window reclaimer that evicts their state.
package window

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Window is a half-open event-time interval [Start, End) in milliseconds
type Window struct {
	Start int64
	End   int64
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.Start, w.End)
}

// TumblingWindowAssigner assigns timestamps to tumbling (non-overlapping) windows
type TumblingWindowAssigner struct {
	size   int64
	offset int64
}

// NewTumblingWindow creates a tumbling window assigner
func NewTumblingWindow(size time.Duration) *TumblingWindowAssigner {
	return &TumblingWindowAssigner{
		size: size.Milliseconds(),
	}
}

// WithOffset shifts window boundaries by offset
func (t *TumblingWindowAssigner) WithOffset(offset time.Duration) *TumblingWindowAssigner {
	t.offset = offset.Milliseconds()
	return t
}

// Size returns the window size in milliseconds
func (t *TumblingWindowAssigner) Size() int64 {
	return t.size
}

// AssignWindow returns the window containing ts
func (t *TumblingWindowAssigner) AssignWindow(ts int64) Window {
	rem := subSat(ts, t.offset) % t.size
	if rem < 0 {
		rem += t.size
	}
	start := subSat(ts, rem)
	return Window{Start: start, End: addSat(start, t.size)}
}

// WindowOf returns the window starting at start
func (t *TumblingWindowAssigner) WindowOf(start int64) Window {
	return Window{Start: start, End: addSat(start, t.size)}
}

// Info describes a window held by a Holder
type Info struct {
	Start       int64
	End         int64
	LastUpdated time.Time
	Fired       bool
}

// Holder owns window state that the reclaimer can release
type Holder interface {
	// Windows lists the windows currently holding state
	Windows() []Info
	// ReleaseWindow emits the window if it has not fired yet and removes its
	// state. A partial release is emitted flagged partial; records arriving
	// later open a fresh window. It reports whether any state was removed.
	ReleaseWindow(ctx context.Context, start int64, partial bool) (bool, error)
}

// expired reports whether a window ending at end can no longer receive
// records, i.e. end + lateness <= watermark.
func expired(end, lateness, watermark int64) bool {
	return end <= subSat(watermark, lateness)
}

func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func subSat(a, b int64) int64 {
	if b == math.MinInt64 {
		if a >= 0 {
			return math.MaxInt64
		}
		return a - b
	}
	return addSat(a, -b)
}
