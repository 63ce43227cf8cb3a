// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// driveCall runs the call-kind-agnostic client algorithm of spec §4.D: open
// the transport stream, pump requests onto it, surface the peer's headers
// through the opts callback, and return a Stream of decoded responses whose
// terminal error is io.EOF (clean end), a *ClientError (non-OK trailer), an
// *AbortError (signal fired before the peer finished), or a codec error if
// a response fails to decode.
func (c *Client) driveCall(ctx context.Context, md *MethodDesc, path string, opts *callOptions, requests *Stream) *Stream {
	out := NewStream(1)

	if opts.metadata != nil {
		opts.metadata.Freeze()
		ctx = metadata.NewOutgoingContext(ctx, opts.metadata.toMD())
	}
	cancelDeadline := context.CancelFunc(func() {})
	if opts.hasDeadline {
		ctx, cancelDeadline = context.WithDeadline(ctx, opts.deadline)
	}
	ctx, stopAbort := mergeAbortSignal(ctx, opts.abortSignal)
	ctx, failCall := context.WithCancelCause(ctx)

	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    md.Name,
		ClientStreams: true,
		ServerStreams: true,
	}, path, grpc.CallContentSubtype(rawBytesCodecName))
	if err != nil {
		failCall(err)
		stopAbort()
		out.Close(mapClientTransportError(path, ctx, err, nil))
		cancelDeadline()
		return out
	}

	// Requests and responses pump concurrently, not sequentially: a
	// bidi-streaming call interleaves both directions, and even a plain
	// client-streaming call must let the server's early response (spec
	// scenario 3) unblock while the client is still sending.
	go c.pumpRequests(ctx, stream, md, requests, failCall)
	go func() {
		defer cancelDeadline()
		defer stopAbort()
		c.pumpResponses(ctx, stream, md, path, opts, out)
	}()

	return out
}

// pumpRequests sends every value requests produces to the transport. If
// requests ends with a real error (the request-producer's own failure,
// not a clean end or consumer Stop), failCall cancels the call's context
// with that error as its cause, so the response side observes the same
// failure rather than a misleadingly clean half-close - spec scenario 7.
func (c *Client) pumpRequests(ctx context.Context, stream grpc.ClientStream, md *MethodDesc, requests *Stream, failCall context.CancelCauseFunc) {
	for {
		v, err := requests.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				failCall(err)
			}
			break
		}
		raw, encErr := md.codec().Encode(v)
		if encErr != nil {
			failCall(&codecError{op: "encode", err: encErr})
			break
		}
		if err := stream.SendMsg(raw); err != nil {
			requests.Stop()
			break
		}
	}
	_ = stream.CloseSend()
}

func (c *Client) pumpResponses(ctx context.Context, stream grpc.ClientStream, md *MethodDesc, path string, opts *callOptions, out *Stream) {
	// stream.Header() blocks until the peer's headers arrive or the call
	// fails, so reading it synchronously here - before the first RecvMsg -
	// is what actually guarantees spec §4.D's "onHeader fires strictly
	// before any response is observable". A side goroutine racing the
	// RecvMsg loop below cannot make that guarantee: it can just as easily
	// be scheduled after the first response is already decoded.
	if opts.onHeader != nil {
		hmd, err := stream.Header()
		if err == nil {
			opts.onHeader(fromMD(hmd))
		}
	}
	for {
		var raw []byte
		err := stream.RecvMsg(&raw)
		if err != nil {
			c.finishClientStream(ctx, stream, path, opts, out, err)
			return
		}
		target := newRequestTarget(md)
		if md.NewResponse != nil {
			target = md.NewResponse()
		}
		if decErr := md.codec().Decode(raw, target); decErr != nil {
			out.Close(&codecError{op: "decode", err: decErr})
			return
		}
		if sendErr := out.Send(ctx, target); sendErr != nil {
			return
		}
	}
}

func (c *Client) finishClientStream(ctx context.Context, stream grpc.ClientStream, path string, opts *callOptions, out *Stream, recvErr error) {
	trailer := fromMD(stream.Trailer())
	if opts.onTrailer != nil {
		opts.onTrailer(trailer)
	}
	if errors.Is(recvErr, io.EOF) {
		out.Close(nil)
		return
	}
	out.Close(mapClientTransportError(path, ctx, recvErr, trailer))
}

// mapClientTransportError translates an error surfaced by grpc-go's
// transport (always convertible via status.FromError, per grpc-go's own
// contract) into the framework's ClientError/AbortError vocabulary, per
// spec §7. When the call's context was cancelled locally by pumpRequests
// (the request-producer's own failure), context.Cause recovers that
// original error instead of the generic context.Canceled grpc-go reports.
func mapClientTransportError(path string, ctx context.Context, err error, trailer *Metadata) error {
	// grpc-go reports a locally cancelled call as a Canceled/DeadlineExceeded
	// status error, which does not match context.Canceled via errors.Is.
	code := statusFromGRPC(status.Code(err))
	localCancel := ctx.Err() != nil && (code == StatusCancelled || code == StatusDeadlineExceeded)
	if localCancel || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cause := context.Cause(ctx); cause != nil {
			var ae *AbortError
			if errors.As(cause, &ae) {
				return ae
			}
			if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
				return &AbortError{Cause: cause}
			}
		}
		return &AbortError{Cause: err}
	}
	if IsAbortError(err) {
		return &AbortError{Cause: err}
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AbortError{Cause: err}
	}
	return newClientError(path, st, trailer)
}
