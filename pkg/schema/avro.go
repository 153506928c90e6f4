package schema

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"
	"go.uber.org/zap"
)

const (
	// Magic byte prefix for Confluent wire format
	magicByte byte = 0x0

	wireHeaderSize = 5
)

// AvroDecoder decodes Avro payloads. Payloads in Confluent wire format
// (magic byte + 4-byte schema id) are resolved through the schema lookup;
// anything else is decoded with the configured writer schema.
type AvroDecoder struct {
	lookup SchemaLookup
	logger *zap.Logger

	writer *goavro.Codec

	mu     sync.RWMutex
	codecs map[int]*goavro.Codec
}

// NewAvroDecoder creates an Avro decoder. Either lookup or writerSchema
// (or both) should be provided.
func NewAvroDecoder(lookup SchemaLookup, writerSchema string, logger *zap.Logger) (*AvroDecoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &AvroDecoder{
		lookup: lookup,
		logger: logger,
		codecs: make(map[int]*goavro.Codec),
	}

	if writerSchema != "" {
		codec, err := goavro.NewCodec(writerSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid Avro schema: %w", err)
		}
		d.writer = codec
	}

	return d, nil
}

// Decode deserializes an Avro payload into native Go values
func (d *AvroDecoder) Decode(ctx context.Context, payload []byte, _ string) (interface{}, error) {
	if d.lookup != nil && len(payload) >= wireHeaderSize && payload[0] == magicByte {
		schemaID := int(binary.BigEndian.Uint32(payload[1:wireHeaderSize]))
		codec, err := d.codecFor(ctx, schemaID)
		if err != nil {
			return nil, err
		}
		return decodeAvro(codec, payload[wireHeaderSize:])
	}

	if d.writer == nil {
		return nil, errors.New("no Avro writer schema available for payload")
	}
	return decodeAvro(d.writer, payload)
}

func decodeAvro(codec *goavro.Codec, data []byte) (interface{}, error) {
	native, _, err := codec.NativeFromBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Avro: %w", err)
	}
	return native, nil
}

// codecFor retrieves or creates a codec for the given schema id
func (d *AvroDecoder) codecFor(ctx context.Context, id int) (*goavro.Codec, error) {
	d.mu.RLock()
	codec, ok := d.codecs[id]
	d.mu.RUnlock()
	if ok {
		return codec, nil
	}

	schemaText, err := d.lookup.SchemaByID(ctx, id)
	if err != nil {
		return nil, err
	}

	codec, err = goavro.NewCodec(schemaText)
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro codec for schema %d: %w", id, err)
	}

	d.mu.Lock()
	d.codecs[id] = codec
	d.mu.Unlock()

	d.logger.Debug("Created Avro codec", zap.Int("schema_id", id))
	return codec, nil
}

// EncodeWireFormat serializes native data with codec and prefixes the
// Confluent wire header for schemaID
func EncodeWireFormat(codec *goavro.Codec, schemaID int, native interface{}) ([]byte, error) {
	body, err := codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Avro: %w", err)
	}

	out := make([]byte, wireHeaderSize, wireHeaderSize+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:wireHeaderSize], uint32(schemaID))
	return append(out, body...), nil
}
