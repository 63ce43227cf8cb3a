// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package grpcframe provides an ergonomic programming model for the four
// gRPC call patterns (unary, server-streaming, client-streaming,
// bidirectional-streaming) on both client and server, layered directly over
// google.golang.org/grpc.
//
// # Architecture
//
// The package separates concerns:
//
//   - metadata.go: ordered header/trailer multimap (Metadata).
//   - status.go, errors.go: canonical status codes and the ServerError /
//     ClientError / AbortError kinds.
//   - context.go: CallContext (server) and CallOptions (client).
//   - middleware.go, stream.go: the middleware chain algebra and the lazy
//     response/request sequence primitives it operates on.
//   - descriptor.go, codec.go: service descriptors and pluggable codecs.
//   - server.go, dispatch.go: the server-side call dispatcher.
//   - client.go, driver.go: the client-side call driver.
//   - terminator.go: opt-in graceful-shutdown abort registration.
//   - logging.go, tracing.go, recovery.go: ambient middleware built on the
//     domain stack (zap, OpenTelemetry).
//
// Application code depends on CallContext, Metadata, the Middleware type,
// and the Server/Client surfaces; it never needs to touch
// google.golang.org/grpc directly.
//
// # Usage
//
// Server:
//
//	srv := grpcframe.NewServer(grpcframe.WithLogger(log))
//	srv.Use(grpcframe.RecoveryMiddleware(log), grpcframe.LoggingMiddleware(log))
//	srv.Add(echoServiceDesc, &echoImpl{})
//	addr, err := srv.Listen(":9000")
//
// Client:
//
//	conn, err := grpcframe.Dial(ctx, "localhost:9000", grpcframe.WithInsecure())
//	client := grpcframe.NewClient(conn, echoServiceDesc)
//	resp, err := client.CallUnary(ctx, "Echo", &EchoRequest{Id: "test"})
package grpcframe
