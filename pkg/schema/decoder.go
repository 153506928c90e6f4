package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	decodeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_payload_decode_total",
			Help: "Total number of payload decode operations",
		},
		[]string{"schema_type", "status"},
	)

	decodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventtime_payload_decode_duration_seconds",
			Help:    "Duration of payload decode operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"schema_type"},
	)
)

// DecoderManager routes payloads to a decoder based on their content type
type DecoderManager struct {
	decoders map[SchemaType]Decoder
	logger   *zap.Logger
}

// NewDecoderManager creates a decoder manager from configuration. Avro
// payloads are decoded through the registry when one is configured.
func NewDecoderManager(config *Config, lookup SchemaLookup, logger *zap.Logger) (*DecoderManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = &Config{}
	}

	jsonDecoder, err := NewJSONDecoder(config.JSONSchema)
	if err != nil {
		return nil, err
	}

	avroDecoder, err := NewAvroDecoder(lookup, config.AvroSchema, logger)
	if err != nil {
		return nil, err
	}

	dm := &DecoderManager{
		decoders: map[SchemaType]Decoder{
			SchemaTypeJSON:     jsonDecoder,
			SchemaTypeAvro:     avroDecoder,
			SchemaTypeProtobuf: NewProtobufDecoder(),
		},
		logger: logger,
	}

	logger.Info("Decoder manager initialized",
		zap.Int("decoder_count", len(dm.decoders)),
		zap.Bool("registry", lookup != nil))

	return dm, nil
}

// Register replaces the decoder used for a schema type
func (dm *DecoderManager) Register(schemaType SchemaType, decoder Decoder) {
	dm.decoders[schemaType] = decoder
}

// Decode decodes payload with the decoder matching contentType
func (dm *DecoderManager) Decode(ctx context.Context, payload []byte, contentType string) (interface{}, error) {
	schemaType := TypeOf(contentType)
	start := time.Now()
	defer func() {
		decodeDuration.WithLabelValues(string(schemaType)).Observe(time.Since(start).Seconds())
	}()

	decoder, ok := dm.decoders[schemaType]
	if !ok {
		decodeOperations.WithLabelValues(string(schemaType), "error").Inc()
		return nil, fmt.Errorf("no decoder registered for %s", schemaType)
	}

	value, err := decoder.Decode(ctx, payload, contentType)
	if err != nil {
		decodeOperations.WithLabelValues(string(schemaType), "error").Inc()
		return nil, err
	}

	decodeOperations.WithLabelValues(string(schemaType), "success").Inc()
	return value, nil
}

// ToJSON renders a payload as JSON bytes so a field path can be evaluated
// over it. JSON payloads are returned as-is; other content types go
// through the decoder first.
func ToJSON(ctx context.Context, decoder Decoder, payload []byte, contentType string) ([]byte, error) {
	if TypeOf(contentType) == SchemaTypeJSON {
		if !json.Valid(payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		if decoder == nil {
			return payload, nil
		}
	}

	if decoder == nil {
		return nil, fmt.Errorf("no decoder available for content type %q", contentType)
	}

	value, err := decoder.Decode(ctx, payload, contentType)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decoded payload: %w", err)
	}
	return out, nil
}
