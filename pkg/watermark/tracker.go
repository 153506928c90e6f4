package watermark

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// Status classifies a record against the current watermark
type Status int

const (
	// StatusValid means the record is at or ahead of the watermark
	StatusValid Status = iota
	// StatusLate means the record is behind the watermark but within allowed lateness
	StatusLate
	// StatusDiscarded means the record is behind the watermark by more than the allowed lateness
	StatusDiscarded
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusLate:
		return "late"
	case StatusDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Tracker tracks a monotonic low watermark per partition and derives the
// global watermark as the minimum across partitions.
//
// Each partition owns an atomic cell that only moves forward through a
// compare-and-swap loop, so concurrent callers never take a lock.
type Tracker struct {
	partitions        sync.Map // int32 -> *atomic.Int64
	maxOutOfOrderness time.Duration
	allowedLateness   time.Duration
	logger            *zap.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithMaxOutOfOrderness sets the slack subtracted from source timestamps
func WithMaxOutOfOrderness(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.maxOutOfOrderness = d
		}
	}
}

// WithAllowedLateness sets the grace period for late records
func WithAllowedLateness(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.allowedLateness = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a watermark tracker
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxOutOfOrderness returns the configured out-of-orderness slack
func (t *Tracker) MaxOutOfOrderness() time.Duration {
	return t.maxOutOfOrderness
}

// AllowedLateness returns the configured allowed lateness
func (t *Tracker) AllowedLateness() time.Duration {
	return t.allowedLateness
}

// AllowedLatenessEnabled reports whether late records get a grace period
func (t *Tracker) AllowedLatenessEnabled() bool {
	return t.allowedLateness > 0
}

// Floor is the initial watermark of every partition and the global
// watermark when no partition is known yet.
func (t *Tracker) Floor() int64 {
	return math.MinInt64 + t.maxOutOfOrderness.Milliseconds() + 1
}

// UpdateWatermarks classifies a record and advances the watermark of the
// partition it belongs to.
//
// Records without a watermark header are treated as coming from a source:
// the candidate watermark is eventTimestamp - maxOutOfOrderness - 1.
// Records carrying a watermark header come from an upstream stage: the
// inherited value is used verbatim both as candidate and for the lateness
// check, ignoring maxOutOfOrderness.
//
// Discarded records leave partition state untouched. A non-nil error is
// always a configuration error and the returned status must be ignored.
func (t *Tracker) UpdateWatermarks(headers map[string]string, eventTimestamp int64) (Status, error) {
	partition, err := PartitionOf(headers)
	if err != nil {
		return StatusDiscarded, err
	}

	raw, passThrough := headers[stream.WatermarkHeader]
	if !passThrough {
		return t.update(partition, eventTimestamp, t.sourceWatermark), nil
	}

	inherited, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return StatusDiscarded, eterrors.NewConfigurationError(eterrors.ErrInvalidWatermark,
			fmt.Sprintf("watermark header %q", raw)).
			WithMetadata("partition", partition)
	}
	return t.update(partition, inherited, identity), nil
}

func (t *Tracker) sourceWatermark(ts int64) int64 {
	return sub(sub(ts, t.maxOutOfOrderness.Milliseconds()), 1)
}

func identity(ts int64) int64 {
	return ts
}

func (t *Tracker) update(partition int32, ts int64, toWatermark func(int64) int64) Status {
	status := StatusValid

	global := t.GlobalWatermark()
	if global > ts {
		if sub(global, t.allowedLateness.Milliseconds()) > ts {
			t.logger.Debug("Discarding record older than watermark minus allowed lateness",
				zap.Int32("partition", partition),
				zap.Int64("timestamp", ts),
				zap.Int64("watermark", global))
			return StatusDiscarded
		}
		t.logger.Debug("Late record",
			zap.Int32("partition", partition),
			zap.Int64("timestamp", ts),
			zap.Int64("watermark", global))
		status = StatusLate
	}

	candidate := toWatermark(ts)
	cell := t.cell(partition)
	for {
		current := cell.Load()
		if candidate <= current {
			break
		}
		if cell.CompareAndSwap(current, candidate) {
			break
		}
	}

	return status
}

func (t *Tracker) cell(partition int32) *atomic.Int64 {
	if v, ok := t.partitions.Load(partition); ok {
		return v.(*atomic.Int64)
	}
	v, _ := t.partitions.LoadOrStore(partition, atomic.NewInt64(t.Floor()))
	return v.(*atomic.Int64)
}

// GlobalWatermark returns the minimum watermark across all known partitions,
// or Floor when none is known. It is recomputed on every call.
func (t *Tracker) GlobalWatermark() int64 {
	lowest := int64(math.MaxInt64)
	found := false
	t.partitions.Range(func(_, v any) bool {
		found = true
		if wm := v.(*atomic.Int64).Load(); wm < lowest {
			lowest = wm
		}
		return true
	})
	if !found {
		return t.Floor()
	}
	return lowest
}

// PartitionWatermark returns the watermark of a single partition
func (t *Tracker) PartitionWatermark(partition int32) (int64, bool) {
	v, ok := t.partitions.Load(partition)
	if !ok {
		return 0, false
	}
	return v.(*atomic.Int64).Load(), true
}

// Partitions returns a snapshot of all partition watermarks
func (t *Tracker) Partitions() map[int32]int64 {
	out := make(map[int32]int64)
	t.partitions.Range(func(k, v any) bool {
		out[k.(int32)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// IsOlderThanWatermark reports whether ts is at or behind the global watermark
func (t *Tracker) IsOlderThanWatermark(ts int64) bool {
	return t.GlobalWatermark() >= ts
}

// IsOlderThanAllowedLateness reports whether ts is behind the global
// watermark by more than the allowed lateness
func (t *Tracker) IsOlderThanAllowedLateness(ts int64) bool {
	return sub(t.GlobalWatermark(), t.allowedLateness.Milliseconds()) > ts
}

// PartitionOf returns the partition a record belongs to. An absent
// partition header means partition 0; an empty, non-numeric or negative
// value is a configuration error.
func PartitionOf(headers map[string]string) (int32, error) {
	raw, ok := headers[stream.PartitionHeader]
	if !ok {
		return 0, nil
	}
	p, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	if err != nil || p < 0 {
		return 0, eterrors.NewConfigurationError(eterrors.ErrInvalidPartition,
			fmt.Sprintf("partition header %q", raw))
	}
	return int32(p), nil
}

// sub returns a-b saturated to the int64 range
func sub(a, b int64) int64 {
	if b > 0 && a < math.MinInt64+b {
		return math.MinInt64
	}
	if b < 0 && a > math.MaxInt64+b {
		return math.MaxInt64
	}
	return a - b
}
