package schema

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufDecoder decodes payloads serialized as google.protobuf.Struct
type ProtobufDecoder struct{}

// NewProtobufDecoder creates a protobuf decoder
func NewProtobufDecoder() *ProtobufDecoder {
	return &ProtobufDecoder{}
}

// Decode unmarshals the payload into a map
func (d *ProtobufDecoder) Decode(_ context.Context, payload []byte, _ string) (interface{}, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf payload: %w", err)
	}
	return s.AsMap(), nil
}
