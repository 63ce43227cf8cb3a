// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec encodes and decodes a single message type. It is selected per
// service method (MethodDesc.Codec) so the framework stays agnostic to any
// particular wire serialization, per spec §6's codec contract.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// ProtoCodec encodes proto.Message payloads with google.golang.org/protobuf.
// It is the default codec for methods whose request/response types
// implement proto.Message.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("grpcframe: ProtoCodec.Encode requires a proto.Message, got %T", v)
	}
	return proto.Marshal(msg)
}

func (ProtoCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("grpcframe: ProtoCodec.Decode requires a proto.Message, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}

// JSONCodec is a JSON-based fallback codec, used by methods whose messages
// are plain Go structs rather than generated proto types (and by tests).
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// defaultCodecImpl picks ProtoCodec for proto.Message values and falls
// back to JSONCodec otherwise, decided at encode/decode time rather than
// at registration time so a single descriptor can mix message shapes
// across tests and production services.
type defaultCodecImpl struct{}

func (defaultCodecImpl) Name() string { return "default" }

func (defaultCodecImpl) Encode(v any) ([]byte, error) {
	if _, ok := v.(proto.Message); ok {
		return ProtoCodec{}.Encode(v)
	}
	return JSONCodec{}.Encode(v)
}

func (defaultCodecImpl) Decode(data []byte, v any) error {
	if _, ok := v.(proto.Message); ok {
		return ProtoCodec{}.Decode(data, v)
	}
	return JSONCodec{}.Decode(data, v)
}

// DefaultCodec is the Codec used when a MethodDesc does not specify one
// explicitly.
var DefaultCodec Codec = defaultCodecImpl{}
