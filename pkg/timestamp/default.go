package timestamp

import (
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// DefaultAssigner uses the eventtime header when present and falls back to
// processing time otherwise
type DefaultAssigner struct {
	header     *HeaderAssigner
	processing *ProcessingTimeAssigner
}

// NewDefaultAssigner creates the default assigner chain
func NewDefaultAssigner(clock clockz.Clock, logger *zap.Logger) *DefaultAssigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultAssigner{
		header:     &HeaderAssigner{header: stream.EventTimeHeader, logger: logger},
		processing: NewProcessingTimeAssigner(clock),
	}
}

// ExtractTimestamp implements Assigner
func (a *DefaultAssigner) ExtractTimestamp(rec *stream.Record) int64 {
	if _, ok := rec.Header(stream.EventTimeHeader); ok {
		return a.header.ExtractTimestamp(rec)
	}
	return a.processing.ExtractTimestamp(rec)
}
