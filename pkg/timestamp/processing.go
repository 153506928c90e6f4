package timestamp

import (
	"github.com/zoobzio/clockz"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// ProcessingTimeAssigner stamps records with the current wall clock time
type ProcessingTimeAssigner struct {
	clock clockz.Clock
}

// NewProcessingTimeAssigner creates a processing-time assigner. A nil clock
// uses the real clock.
func NewProcessingTimeAssigner(clock clockz.Clock) *ProcessingTimeAssigner {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &ProcessingTimeAssigner{clock: clock}
}

// ExtractTimestamp returns the current time in milliseconds
func (a *ProcessingTimeAssigner) ExtractTimestamp(_ *stream.Record) int64 {
	return a.clock.Now().UnixMilli()
}
