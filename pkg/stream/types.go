package stream

import (
	"context"
	"strconv"
)

// Reserved header names read and written by the event-time engine
const (
	PartitionHeader   = "partition"   // Partition id selecting the watermark cell
	WatermarkHeader   = "watermark"   // Watermark (ms) inherited from an upstream stage
	EventTimeHeader   = "eventtime"   // Explicit event time (ms)
	ContentTypeHeader = "contentType" // Payload content type
)

// Record is a single message flowing through the engine
type Record struct {
	Key     string            // Routing key
	Payload []byte            // Raw payload bytes
	Headers map[string]string // Metadata headers
}

// NewRecord creates a record with an initialized header map
func NewRecord(payload []byte, headers map[string]string) *Record {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &Record{
		Payload: payload,
		Headers: h,
	}
}

// Header returns a header value and whether it is present
func (r *Record) Header(name string) (string, bool) {
	if r == nil || r.Headers == nil {
		return "", false
	}
	v, ok := r.Headers[name]
	return v, ok
}

// SetHeader sets a header, allocating the header map if needed
func (r *Record) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
}

// SetInt64Header sets a header to the decimal form of v
func (r *Record) SetInt64Header(name string, v int64) {
	r.SetHeader(name, strconv.FormatInt(v, 10))
}

// ContentType returns the payload content type, empty if unknown
func (r *Record) ContentType() string {
	ct, _ := r.Header(ContentTypeHeader)
	return ct
}

// CopyHeaders returns a snapshot of the record headers
func (r *Record) CopyHeaders() map[string]string {
	out := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		out[k] = v
	}
	return out
}

// WindowResult is the output of a fired window
type WindowResult struct {
	Start     int64     // Window start (ms, inclusive)
	End       int64     // Window end (ms, exclusive)
	Watermark int64     // Global watermark at release time
	Partial   bool      // Released by idle timeout before the watermark closed it
	Late      bool      // Re-emission caused by a late record
	Records   []*Record // Aggregated output records
}

// Source produces records into the engine
type Source interface {
	Start(ctx context.Context, output chan<- *Record) error
	Stop() error
	Name() string
}

// Sink consumes released window results
type Sink interface {
	Write(ctx context.Context, result *WindowResult) error
	Flush(ctx context.Context) error
	Close() error
}
