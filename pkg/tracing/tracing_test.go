package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestProvider_Disabled(t *testing.T) {
	tp, err := NewProvider(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, tp.Enabled())

	ctx, span := StartRecordSpan(context.Background(), tp.Tracer(), "0", "k")
	span.End()
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestProvider_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Writer = &buf

	tp, err := NewProvider(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, tp.Enabled())

	ctx, span := StartWindowSpan(context.Background(), tp.Tracer(), "release", 0, 1000)
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))

	headers := map[string]string{}
	InjectTraceContext(ctx, headers)
	assert.Contains(t, headers, "traceparent")

	extracted := ExtractTraceContext(context.Background(), headers)
	assert.Equal(t, TraceID(ctx), TraceID(extracted))
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "window.release")
}

func TestProvider_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ExporterType = "zipkin"

	_, err := NewProvider(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewStructuredLogger(t *testing.T) {
	logger, err := NewStructuredLogger(&StructuredLogConfig{
		Level:       zapcore.DebugLevel,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewStructuredLogger(&StructuredLogConfig{Format: "xml"})
	assert.Error(t, err)

	assert.Same(t, logger, ContextLogger(context.Background(), logger))
}

func TestNewStructuredLogger_AtomicLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	logger, err := NewStructuredLogger(&StructuredLogConfig{
		AtomicLevel: &level,
		OutputPaths: []string{"stderr"},
	})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
