// Package state holds the per-window buffers of the tumbling window aggregator.
package state

import (
	"time"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// Entry is the state of one window
type Entry struct {
	Start       int64             // Window start (ms)
	Headers     map[string]string // Headers of the first record, used as output template
	Records     []*stream.Record  // Buffered records in arrival order
	LastUpdated time.Time         // Time of the last Append
	Fired       bool              // Window was already emitted
}

// Backend stores window entries keyed by window start
type Backend interface {
	Append(start int64, rec *stream.Record, now time.Time) int
	Get(start int64) (Entry, bool)
	Delete(start int64) (Entry, bool)
	MarkFired(start int64) bool
	Keys() []int64
	Size() int
	Close() error
}
