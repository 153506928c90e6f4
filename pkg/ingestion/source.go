// Package ingestion contains the transports that feed records into the
// engine: Kafka, NATS, HTTP and WebSocket. Every source implements
// stream.Source and leaves event-time handling to the processor.
package ingestion

import (
	"fmt"
	"net/url"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

var (
	_ stream.Source = (*KafkaSource)(nil)
	_ stream.Source = (*NATSSource)(nil)
	_ stream.Source = (*HTTPSource)(nil)
	_ stream.Source = (*WebSocketSource)(nil)
)

func sourceName(kind, name, target string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s-%s", kind, target)
}

// queryHeaders maps the first value of each query parameter to a header
func queryHeaders(values url.Values) map[string]string {
	headers := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			headers[key] = vals[0]
		}
	}
	return headers
}
