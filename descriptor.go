// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import "fmt"

// MethodDesc describes one RPC method: its streaming shape and the codec
// used for its request/response messages.
type MethodDesc struct {
	// Name is the method name only (no leading slash, no service name).
	Name string
	// RequestStream is true for client-streaming and bidi-streaming methods.
	RequestStream bool
	// ResponseStream is true for server-streaming and bidi-streaming methods.
	ResponseStream bool
	// Codec selects the message serializer for this method. If nil,
	// DefaultCodec is used.
	Codec Codec
	// NewRequest, if set, returns a fresh zero value the dispatcher can
	// decode into; required for proto.Message request types, since the
	// framework cannot construct them via reflection alone without the
	// generated type.
	NewRequest func() any
	// NewResponse mirrors NewRequest for the response type, used by the
	// client driver for server-streaming/unary responses.
	NewResponse func() any
}

func (m *MethodDesc) codec() Codec {
	if m.Codec != nil {
		return m.Codec
	}
	return DefaultCodec
}

// ServiceDesc ties a service name to its methods, mirroring the
// {serviceName, methods} shape from spec §6 but as a Go value usable
// without any protoc-generated stub.
type ServiceDesc struct {
	ServiceName string
	Methods     []MethodDesc
}

// methodPath returns the canonical "/package.Service/Method" path.
func (d *ServiceDesc) methodPath(methodName string) string {
	return fmt.Sprintf("/%s/%s", d.ServiceName, methodName)
}

func (d *ServiceDesc) method(name string) (*MethodDesc, bool) {
	for i := range d.Methods {
		if d.Methods[i].Name == name {
			return &d.Methods[i], true
		}
	}
	return nil, false
}

// MethodInfo is the read-only view of a method a middleware's Call exposes
// (spec §4.C "call.method"), distinct from MethodDesc so middleware cannot
// mutate registration data mid-call.
type MethodInfo struct {
	FullMethod     string
	ServiceName    string
	MethodName     string
	RequestStream  bool
	ResponseStream bool
}

func newMethodInfo(desc *ServiceDesc, md *MethodDesc) *MethodInfo {
	return &MethodInfo{
		FullMethod:     desc.methodPath(md.Name),
		ServiceName:    desc.ServiceName,
		MethodName:     md.Name,
		RequestStream:  md.RequestStream,
		ResponseStream: md.ResponseStream,
	}
}
