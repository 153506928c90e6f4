package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Exporter names
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const instrumentationName = "github.com/therealutkarshpriyadarshi/eventtime"

// Config holds tracing configuration
type Config struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	ServiceName      string  `yaml:"service_name" json:"service_name"`
	ServiceVersion   string  `yaml:"service_version" json:"service_version"`
	Environment      string  `yaml:"environment" json:"environment"`
	SamplingRate     float64 `yaml:"sampling_rate" json:"sampling_rate"`
	ExporterType     string  `yaml:"exporter_type" json:"exporter_type"` // "stdout", "otlp"
	ExporterEndpoint string  `yaml:"exporter_endpoint" json:"exporter_endpoint"`
	Insecure         bool    `yaml:"insecure" json:"insecure"`

	// Writer receives stdout exporter output, os.Stdout when nil
	Writer io.Writer `yaml:"-" json:"-"`
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:          false,
		ServiceName:      "eventtime",
		ServiceVersion:   "1.0.0",
		Environment:      "development",
		SamplingRate:     1.0,
		ExporterType:     ExporterStdout,
		ExporterEndpoint: "localhost:4318",
		Insecure:         true,
	}
}

// TracerProvider manages the OpenTelemetry tracer for the engine
type TracerProvider struct {
	sdk     *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
	logger  *zap.Logger
}

// NewProvider creates a tracing provider. A disabled config yields a no-op tracer.
func NewProvider(ctx context.Context, config *Config, logger *zap.Logger) (*TracerProvider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !config.Enabled {
		logger.Info("Distributed tracing is disabled")
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer(instrumentationName),
			logger: logger,
		}, nil
	}

	exporter, err := newExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.ServiceVersion),
		attribute.String("deployment.environment", config.Environment),
	)

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("Distributed tracing initialized",
		zap.String("service", config.ServiceName),
		zap.String("exporter", config.ExporterType),
		zap.String("endpoint", config.ExporterEndpoint))

	return &TracerProvider{
		sdk:     sdk,
		tracer:  sdk.Tracer(instrumentationName),
		enabled: true,
		logger:  logger,
	}, nil
}

func newExporter(ctx context.Context, config *Config) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterStdout, "":
		w := config.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.ExporterEndpoint)}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", config.ExporterType)
	}
}

// Tracer returns the tracer used for engine spans
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Enabled reports whether spans are exported
func (tp *TracerProvider) Enabled() bool {
	return tp.enabled
}

// Shutdown flushes pending spans and shuts down the exporter
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if !tp.enabled {
		return nil
	}

	tp.logger.Info("Shutting down tracing provider")
	return tp.sdk.Shutdown(ctx)
}

// TraceID returns the trace id of the span in ctx, empty if none
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the span id of the span in ctx, empty if none
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// InjectTraceContext writes W3C trace context headers for propagation
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// ExtractTraceContext reads W3C trace context headers
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
