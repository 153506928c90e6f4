package schema

import (
	"context"
	"strings"
	"time"
)

// SchemaType represents the format of a payload
type SchemaType string

const (
	SchemaTypeAvro     SchemaType = "AVRO"
	SchemaTypeProtobuf SchemaType = "PROTOBUF"
	SchemaTypeJSON     SchemaType = "JSON"
)

// Well-known content types
const (
	ContentTypeJSON     = "application/json"
	ContentTypeAvro     = "application/avro"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Decoder converts a binary payload into a structured value (maps, slices,
// numbers, strings) that can be walked with a field path. Decoders never
// mutate the payload.
type Decoder interface {
	Decode(ctx context.Context, payload []byte, contentType string) (interface{}, error)
}

// SchemaLookup resolves writer schemas by registry id
type SchemaLookup interface {
	SchemaByID(ctx context.Context, id int) (string, error)
}

// Config contains configuration for schema registry integration
type Config struct {
	// RegistryURL is the URL of the schema registry
	RegistryURL string `json:"registry_url" yaml:"registry_url"`

	// Username for basic auth (optional)
	Username string `json:"username,omitempty" yaml:"username,omitempty"`

	// Password for basic auth (optional)
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// Timeout for registry operations
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// AvroSchema is the writer schema for raw (non wire-format) Avro payloads
	AvroSchema string `json:"avro_schema,omitempty" yaml:"avro_schema,omitempty"`

	// JSONSchema validates JSON payloads before they are used (optional)
	JSONSchema string `json:"json_schema,omitempty" yaml:"json_schema,omitempty"`
}

// TypeOf maps a content type to a schema type. Empty or unknown content
// types are treated as JSON.
func TypeOf(contentType string) SchemaType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch {
	case strings.Contains(ct, "avro"):
		return SchemaTypeAvro
	case strings.Contains(ct, "protobuf"), strings.Contains(ct, "proto"):
		return SchemaTypeProtobuf
	default:
		return SchemaTypeJSON
	}
}
