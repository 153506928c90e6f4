package timestamp

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/schema"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// RootPrefix is the prefix every path expression is normalized to
const RootPrefix = "$."

// PathAssigner evaluates a field path over the decoded payload
type PathAssigner struct {
	path    string
	query   string
	decoder schema.Decoder
	logger  *zap.Logger
}

// NewPathAssigner creates a path based assigner. The decoder is used for
// non-JSON payloads and may be nil when all payloads are JSON.
func NewPathAssigner(path string, decoder schema.Decoder, logger *zap.Logger) (*PathAssigner, error) {
	normalized := NormalizePath(path)
	if normalized == RootPrefix {
		return nil, eterrors.NewConfigurationError(eterrors.ErrEmptyPath, "path timestamp assigner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PathAssigner{
		path:    normalized,
		query:   ToQuery(normalized),
		decoder: decoder,
		logger:  logger,
	}, nil
}

// Path returns the normalized path expression
func (a *PathAssigner) Path() string {
	return a.path
}

// ExtractTimestamp implements Assigner. Decode and evaluation failures are
// logged and reported as NoTimestamp.
func (a *PathAssigner) ExtractTimestamp(rec *stream.Record) int64 {
	doc, err := schema.ToJSON(context.Background(), a.decoder, rec.Payload, rec.ContentType())
	if err != nil {
		a.logger.Warn("Failed to decode payload for timestamp extraction",
			zap.String("path", a.path),
			zap.Error(eterrors.NewExtractionError(err, "decode payload")))
		return NoTimestamp
	}

	result := gjson.GetBytes(doc, a.query)
	ts, ok := ToMillis(result)
	if !ok {
		a.logger.Warn("Path did not resolve to a timestamp",
			zap.String("path", a.path),
			zap.String("value", result.Raw))
		return NoTimestamp
	}
	return ts
}

// NormalizePath makes sure a path expression starts with the root prefix
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, RootPrefix) {
		return path
	}
	return RootPrefix + strings.TrimPrefix(path, ".")
}

// ToQuery converts a normalized path ($.a.b[0].c) to gjson syntax (a.b.0.c)
func ToQuery(path string) string {
	q := strings.TrimPrefix(path, RootPrefix)
	q = strings.ReplaceAll(q, "[", ".")
	q = strings.ReplaceAll(q, "]", "")
	return strings.TrimPrefix(q, ".")
}

// ToMillis converts a path result to epoch milliseconds. Numbers, numeric
// strings and RFC 3339 strings are accepted.
func ToMillis(result gjson.Result) (int64, bool) {
	switch result.Type {
	case gjson.Number:
		return result.Int(), true
	case gjson.String:
		s := strings.TrimSpace(result.Str)
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ts, true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
