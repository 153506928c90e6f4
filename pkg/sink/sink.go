// Package sink delivers released window results to external systems.
package sink

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// Headers added to every output record
const (
	WindowStartHeader = "windowStart"
	WindowEndHeader   = "windowEnd"
	PartialHeader     = "partial"
	LateHeader        = "late"
)

var (
	_ stream.Sink = (*KafkaSink)(nil)
	_ stream.Sink = (*TimescaleSink)(nil)
	_ stream.Sink = (Fanout)(nil)
)

// windowHeaders merges the record headers with the window geometry
func windowHeaders(result *stream.WindowResult, rec *stream.Record) map[string]string {
	h := rec.CopyHeaders()
	h[WindowStartHeader] = strconv.FormatInt(result.Start, 10)
	h[WindowEndHeader] = strconv.FormatInt(result.End, 10)
	if result.Partial {
		h[PartialHeader] = "true"
	}
	if result.Late {
		h[LateHeader] = "true"
	}
	return h
}

func joinBrokers(brokers []string) string {
	return strings.Join(brokers, ",")
}

// Fanout writes every result to all of its sinks
type Fanout []stream.Sink

// Write writes to every sink, collecting all errors
func (f Fanout) Write(ctx context.Context, result *stream.WindowResult) error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Write(ctx, result))
	}
	return err
}

// Flush flushes every sink
func (f Fanout) Flush(ctx context.Context) error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Flush(ctx))
	}
	return err
}

// Close closes every sink
func (f Fanout) Close() error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Close())
	}
	return err
}
