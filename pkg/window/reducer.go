package window

import (
	"encoding/json"
	"fmt"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/schema"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/state"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// Reducer turns the buffered records of a window into output records.
// The aggregator stamps eventtime and watermark headers on the result.
type Reducer func(w Window, entry state.Entry, partial bool) ([]*stream.Record, error)

// Summary is the payload produced by CountReducer
type Summary struct {
	Start   int64 `json:"start"`
	End     int64 `json:"end"`
	Count   int   `json:"count"`
	Partial bool  `json:"partial"`
}

// CountReducer emits one JSON record counting the window's records
func CountReducer(w Window, entry state.Entry, partial bool) ([]*stream.Record, error) {
	payload, err := json.Marshal(Summary{
		Start:   w.Start,
		End:     w.End,
		Count:   len(entry.Records),
		Partial: partial,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode window summary: %w", err)
	}

	out := stream.NewRecord(payload, entry.Headers)
	out.SetHeader(stream.ContentTypeHeader, schema.ContentTypeJSON)
	return []*stream.Record{out}, nil
}

// CollectReducer re-emits every buffered record
func CollectReducer(_ Window, entry state.Entry, _ bool) ([]*stream.Record, error) {
	out := make([]*stream.Record, 0, len(entry.Records))
	for _, rec := range entry.Records {
		cp := stream.NewRecord(rec.Payload, rec.Headers)
		cp.Key = rec.Key
		out = append(out, cp)
	}
	return out, nil
}

// ReducerByName resolves a configured reducer name
func ReducerByName(name string) (Reducer, error) {
	switch name {
	case "", "count":
		return CountReducer, nil
	case "collect":
		return CollectReducer, nil
	default:
		return nil, fmt.Errorf("unknown window reducer %q", name)
	}
}
