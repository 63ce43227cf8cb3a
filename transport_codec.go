// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawBytesCodecName is the gRPC content-subtype this framework's calls
// negotiate, via grpc.CallContentSubtype in driver.go's NewStream call.
// grpchan and grpcbridge both register their passthrough codecs under a
// distinct subtype rather than grpc-go's unnamed default ("proto") for the
// same reason: encoding.RegisterCodec is process-global, so overriding
// "proto" itself would silently swap the wire codec out from under any
// other grpc client or server sharing the binary.
const rawBytesCodecName = "grpcframe"

// rawBytesCodec is a pure passthrough: every message crossing the
// transport is already the []byte a MethodDesc.Codec produced, since the
// framework has no protoc-generated types to hand grpc-go's own proto
// codec. This is the same trick generic proxy layers (grpc-gateway's
// dynamic forwarding, bridge/bridgeless gRPC gateways) use to carry
// arbitrary payloads over an unmodified grpc-go transport.
type rawBytesCodec struct{}

func (rawBytesCodec) Name() string { return rawBytesCodecName }

func (rawBytesCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if ok {
		return *b, nil
	}
	if bs, ok := v.([]byte); ok {
		return bs, nil
	}
	return nil, fmt.Errorf("grpcframe: transport codec expected []byte, got %T", v)
}

func (rawBytesCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpcframe: transport codec expected *[]byte, got %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawBytesCodec{})
}
