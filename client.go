// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client is the client-side call driver of spec §4.D: it drives one RPC of
// any of the four call kinds against a ServiceDesc's methods over an
// already-established google.golang.org/grpc connection, the way
// dial_grpc.go's grpcClient drove a single Invoke per call before this
// framework generalized it to streaming call kinds.
type Client struct {
	cc   grpc.ClientConnInterface
	desc *ServiceDesc
}

// NewClient binds a ServiceDesc to an established connection. cc is
// typically the result of Dial, but any grpc.ClientConnInterface (including
// a *grpc.ClientConn obtained outside this package) works.
func NewClient(cc grpc.ClientConnInterface, desc *ServiceDesc) *Client {
	return &Client{cc: cc, desc: desc}
}

// CallUnary performs an input-unary, output-unary RPC: it sends req and
// returns the single response, or a *ClientError/*AbortError. A server that
// sends more than one response gets a *ServerError with StatusInternal.
func (c *Client) CallUnary(ctx context.Context, methodName string, req any, opts ...CallOption) (any, error) {
	md, err := c.method(methodName)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(opts...)
	responses := c.driveCall(ctx, md, c.desc.methodPath(methodName), o, singleValueStream(req))
	v, err := responses.Next(ctx)
	if err != nil {
		return nil, err
	}
	if _, drainErr := responses.Next(ctx); drainErr == nil {
		return nil, NewServerError(StatusInternal, "unary call received more than one response")
	}
	return v, nil
}

// CallServerStream performs an input-unary, output-stream RPC: it sends
// req once and returns the lazy sequence of responses.
func (c *Client) CallServerStream(ctx context.Context, methodName string, req any, opts ...CallOption) (*Stream, error) {
	md, err := c.method(methodName)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(opts...)
	return c.driveCall(ctx, md, c.desc.methodPath(methodName), o, singleValueStream(req)), nil
}

// CallClientStream performs an input-stream, output-unary RPC: it sends
// every value produced by requests and returns the single response once
// the server replies and the call ends.
func (c *Client) CallClientStream(ctx context.Context, methodName string, requests *Stream, opts ...CallOption) (any, error) {
	md, err := c.method(methodName)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(opts...)
	responses := c.driveCall(ctx, md, c.desc.methodPath(methodName), o, requests)
	v, err := responses.Next(ctx)
	if err != nil {
		return nil, err
	}
	if _, drainErr := responses.Next(ctx); drainErr == nil {
		return nil, NewServerError(StatusInternal, "client-streaming call received more than one response")
	}
	return v, nil
}

// CallBidiStream performs an input-stream, output-stream RPC: it sends
// every value produced by requests while concurrently returning the lazy
// sequence of responses.
func (c *Client) CallBidiStream(ctx context.Context, methodName string, requests *Stream, opts ...CallOption) (*Stream, error) {
	md, err := c.method(methodName)
	if err != nil {
		return nil, err
	}
	o := newCallOptions(opts...)
	return c.driveCall(ctx, md, c.desc.methodPath(methodName), o, requests), nil
}

func (c *Client) method(name string) (*MethodDesc, error) {
	md, ok := c.desc.method(name)
	if !ok {
		return nil, fmt.Errorf("grpcframe: %s: unknown method %q", c.desc.ServiceName, name)
	}
	return md, nil
}
