package timestamp

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// HeaderAssigner reads the event time from a named header
type HeaderAssigner struct {
	header string
	logger *zap.Logger
}

// NewHeaderAssigner creates a header based assigner. An empty header name
// is a configuration error.
func NewHeaderAssigner(header string, logger *zap.Logger) (*HeaderAssigner, error) {
	if strings.TrimSpace(header) == "" {
		return nil, eterrors.NewConfigurationError(eterrors.ErrEmptyHeaderName, "header timestamp assigner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeaderAssigner{header: header, logger: logger}, nil
}

// Header returns the header name this assigner reads
func (a *HeaderAssigner) Header() string {
	return a.header
}

// ExtractTimestamp returns the header value as milliseconds, or NoTimestamp
// if the header is absent or not an integer
func (a *HeaderAssigner) ExtractTimestamp(rec *stream.Record) int64 {
	raw, ok := rec.Header(a.header)
	if !ok {
		return NoTimestamp
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		a.logger.Warn("Timestamp header is not an integer",
			zap.String("header", a.header),
			zap.String("value", raw),
			zap.Error(err))
		return NoTimestamp
	}
	return ts
}
