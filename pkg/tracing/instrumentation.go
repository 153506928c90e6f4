package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextLogger returns a logger carrying the trace context of ctx
func ContextLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := TraceID(ctx)
	if traceID == "" {
		return logger
	}
	return logger.With(
		zap.String("trace_id", traceID),
		zap.String("span_id", SpanID(ctx)),
	)
}

// StartRecordSpan starts the span wrapping the assignment and classification of one record
func StartRecordSpan(ctx context.Context, tracer trace.Tracer, partition, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventtime.on_record",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("record.partition", partition),
			attribute.String("record.key", key),
		))
}

// StartWindowSpan starts a span for a window release
func StartWindowSpan(ctx context.Context, tracer trace.Tracer, op string, start, end int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("window.%s", op),
		trace.WithAttributes(
			attribute.Int64("window.start", start),
			attribute.Int64("window.end", end),
		))
}

// StructuredLogConfig describes the process logger
type StructuredLogConfig struct {
	Level            zapcore.Level
	AtomicLevel      *zap.AtomicLevel // takes precedence over Level and can be changed at runtime
	Format           string           // json or console
	Development      bool
	EnableStacktrace bool
	OutputPaths      []string
	ErrorOutputPaths []string
	InitialFields    map[string]interface{}
}

// DefaultStructuredLogConfig logs JSON at info level to stdout
func DefaultStructuredLogConfig() *StructuredLogConfig {
	return &StructuredLogConfig{
		Level:            zapcore.InfoLevel,
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{},
	}
}

// NewStructuredLogger builds the process logger. Messages are keyed
// "message" and times are ISO8601.
func NewStructuredLogger(cfg *StructuredLogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultStructuredLogConfig()
	}

	zc := zap.NewProductionConfig()
	switch cfg.Format {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	if cfg.AtomicLevel != nil {
		zc.Level = *cfg.AtomicLevel
	} else {
		zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	}
	zc.Development = cfg.Development
	zc.DisableStacktrace = !cfg.EnableStacktrace
	zc.Sampling = nil
	zc.InitialFields = cfg.InitialFields
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	if len(cfg.ErrorOutputPaths) > 0 {
		zc.ErrorOutputPaths = cfg.ErrorOutputPaths
	}

	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
