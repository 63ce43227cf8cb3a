// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DialOption configures Dial, mirroring grpc.DialOption but keeping this
// package's public surface free of a direct google.golang.org/grpc import
// requirement for the common case.
type DialOption func(*dialOptions)

type dialOptions struct {
	insecure bool
	grpcOpts []grpc.DialOption
}

// WithInsecure disables transport security, for use against a plaintext
// listener (tests, local development) - named after, and grounded on,
// dial_grpc.go's original use of credentials/insecure.
func WithInsecure() DialOption {
	return func(o *dialOptions) { o.insecure = true }
}

// WithGRPCDialOptions passes options straight through to
// google.golang.org/grpc.NewClient.
func WithGRPCDialOptions(opts ...grpc.DialOption) DialOption {
	return func(o *dialOptions) { o.grpcOpts = append(o.grpcOpts, opts...) }
}

// Dial opens a connection to addr and returns the *grpc.ClientConn, ready
// to hand to NewClient. It generalizes dial_grpc.go's dialGRPC, which
// previously lived behind a "grpc" build tag alongside a default
// custom-wire-protocol transport this framework no longer carries.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*grpc.ClientConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := &dialOptions{}
	for _, opt := range opts {
		opt(o)
	}
	dialOpts := append([]grpc.DialOption(nil), o.grpcOpts...)
	if o.insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpcframe: dial %s: %w", addr, err)
	}
	return conn, nil
}
