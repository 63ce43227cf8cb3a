// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware starts one span per call, named after the method's
// full path, and records the call's outcome on the span the way the
// teacher's observability/tracing package configures its OTLP exporter
// for other RPC-shaped work - adapted here to a middleware rather than a
// transport-level interceptor, since grpcframe's own dispatcher is the
// transport boundary.
func TracingMiddleware(tracerName string) Middleware {
	if tracerName == "" {
		tracerName = "github.com/arcwave/grpcframe"
	}
	tracer := otel.Tracer(tracerName)
	return func(call *Call) *Stream {
		cc := call.Context
		spanCtx, span := tracer.Start(cc.Context(), call.Method.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpcframe"),
				attribute.String("rpc.service", call.Method.ServiceName),
				attribute.String("rpc.method", call.Method.MethodName),
				attribute.String("grpcframe.call_id", cc.CallID()),
			),
		)
		overridden := cc.withOverride(spanCtx, cc.cancel)
		responses := call.Next(overridden, nil, nil)
		return WithFinally(spanCtx, responses, func(terminal error) {
			defer span.End()
			if terminal == nil || errors.Is(terminal, io.EOF) {
				span.SetStatus(codes.Ok, "")
				return
			}
			st := toTrailerStatus(terminal)
			span.RecordError(terminal)
			span.SetStatus(codes.Error, fmt.Sprintf("%s: %s", st.Code(), st.Message()))
		})
	}
}
