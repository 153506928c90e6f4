// Package augment derives extra record headers from existing headers or from
// JSON paths evaluated over the decoded payload.
package augment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/schema"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/timestamp"
)

// Expression prefixes
const (
	HeaderPrefix  = "header."
	PayloadPrefix = "payload."
)

type rule struct {
	name       string
	fromHeader string // set for header.<name> expressions
	query      string // gjson query for payload expressions
}

// Augmenter maps output header names to value expressions
type Augmenter struct {
	rules   []rule
	decoder schema.Decoder
	logger  *zap.Logger
}

// New compiles the header expressions. An empty expression is a
// configuration error.
func New(headers map[string]string, decoder schema.Decoder, logger *zap.Logger) (*Augmenter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]rule, 0, len(names))
	for _, name := range names {
		expr := strings.TrimSpace(headers[name])
		if expr == "" {
			return nil, eterrors.NewConfigurationError(
				fmt.Errorf("empty value expression for header %q", name), "header augmenter")
		}

		if strings.HasPrefix(expr, HeaderPrefix) {
			rules = append(rules, rule{name: name, fromHeader: strings.TrimPrefix(expr, HeaderPrefix)})
			continue
		}
		path := strings.TrimPrefix(expr, PayloadPrefix)
		rules = append(rules, rule{name: name, query: timestamp.ToQuery(timestamp.NormalizePath(path))})
	}

	return &Augmenter{rules: rules, decoder: decoder, logger: logger}, nil
}

// Empty reports whether no headers are configured
func (a *Augmenter) Empty() bool {
	return len(a.rules) == 0
}

// Augment returns a copy of rec carrying the derived headers. Expressions
// that do not resolve are logged and skipped.
func (a *Augmenter) Augment(ctx context.Context, rec *stream.Record) *stream.Record {
	if a.Empty() {
		return rec
	}

	out := stream.NewRecord(rec.Payload, rec.Headers)
	out.Key = rec.Key

	var (
		doc     []byte
		decoded bool
		docErr  error
	)

	for _, r := range a.rules {
		if r.fromHeader != "" {
			v, ok := rec.Header(r.fromHeader)
			if !ok {
				a.logger.Warn("Failed to extract header value",
					zap.String("header", r.name),
					zap.String("source_header", r.fromHeader))
				continue
			}
			out.SetHeader(r.name, v)
			continue
		}

		if !decoded {
			doc, docErr = schema.ToJSON(ctx, a.decoder, rec.Payload, rec.ContentType())
			decoded = true
		}
		if docErr != nil {
			a.logger.Warn("Failed to decode payload for header",
				zap.String("header", r.name),
				zap.Error(eterrors.NewExtractionError(docErr, "header augmenter")))
			continue
		}

		result := gjson.GetBytes(doc, r.query)
		if !result.Exists() {
			a.logger.Warn("Failed to extract header value",
				zap.String("header", r.name),
				zap.String("query", r.query))
			continue
		}
		out.SetHeader(r.name, result.String())
	}

	return out
}
