// Package timestamp provides strategies that determine the event time of a
// record, in milliseconds since the Unix epoch.
package timestamp

import (
	"math"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// NoTimestamp is returned when no timestamp can be determined for a record
const NoTimestamp int64 = math.MinInt64

// Assigner extracts an event time from a record
type Assigner interface {
	ExtractTimestamp(rec *stream.Record) int64
}

// AssignerFunc adapts a function to the Assigner interface
type AssignerFunc func(rec *stream.Record) int64

// ExtractTimestamp calls f(rec)
func (f AssignerFunc) ExtractTimestamp(rec *stream.Record) int64 {
	return f(rec)
}
