// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"errors"
	"io"
)

// Handler is the innermost or intermediate step of a middleware chain: it
// takes a context, a single request value (for input-unary methods), or a
// request sequence (for input-stream methods), and returns the lazy
// response sequence, per spec §4.C.
type Handler func(cc *CallContext, request any, requests *Stream) *Stream

// Call is what a Middleware observes and may delegate to. It bundles the
// method descriptor, the call's context, its request (or request
// sequence), and a bound continuation to the next middleware or the
// handler itself.
type Call struct {
	Method   *MethodInfo
	Context  *CallContext
	Request  any
	Requests *Stream

	next Handler
}

// Next invokes the next middleware (or the handler, if this is the
// innermost middleware), returning the lazy response sequence it
// produces. Any non-nil ctx, request, or requests overrides what the
// current call carries, implementing spec §4.C's "context override" (and,
// for requests, the "transform requests" capability); passing nil for any
// of them forwards the call's own value unchanged.
func (c *Call) Next(ctx *CallContext, request any, requests *Stream) *Stream {
	if ctx == nil {
		ctx = c.Context
	}
	if request == nil {
		request = c.Request
	}
	if requests == nil {
		requests = c.Requests
	}
	return c.next(ctx, request, requests)
}

// Middleware wraps a Handler into a new Handler. It may observe the call
// start, transform the request(s) or replace the context before
// delegating, yield responses both before and after delegating, transform
// or observe the responses flowing back, and observe completion -
// spec §4.C's full capability set.
type Middleware func(call *Call) *Stream

// Chain composes middlewares outermost-first: Chain(m1, m2) applied to
// handler h behaves as m1(ctx -> m2(ctx -> h(ctx))), matching spec §4.C's
// composition law for server.use(m1).use(m2). It is implemented the same
// way grpc-go's own chainUnaryInterceptors/chainStreamInterceptors compose
// a slice of interceptors around a terminal handler.
func Chain(mws ...Middleware) Middleware {
	if len(mws) == 0 {
		return func(call *Call) *Stream { return call.Next(nil, nil, nil) }
	}
	if len(mws) == 1 {
		return mws[0]
	}
	return func(call *Call) *Stream {
		h := buildHandler(mws, call.next)
		return h(call.Context, call.Request, call.Requests)
	}
}

// buildHandler turns an ordered middleware slice plus a terminal Handler
// into a single Handler, by nesting from the innermost middleware outward.
func buildHandler(mws []Middleware, terminal Handler) Handler {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		prevNext := next
		next = func(cc *CallContext, request any, requests *Stream) *Stream {
			call := &Call{Method: cc.Method(), Context: cc, Request: request, Requests: requests, next: prevNext}
			return mw(call)
		}
	}
	return next
}

// Forward copies src onto a new Stream verbatim, preserving order and
// backpressure, and propagates the consumer's early Stop back to src so
// its producer's cleanup runs - the passthrough building block most
// observe-only middleware (logging, tracing, recovery) is built from.
func Forward(ctx context.Context, src *Stream) *Stream {
	return WithFinally(ctx, src, nil)
}

// WithFinally behaves like Forward, additionally invoking fn exactly once
// when the sequence reaches its terminal state: with io.EOF on a clean
// end, with the propagated error otherwise, or with ErrStreamStopped if
// the consumer stopped reading early. fn runs before the terminal value
// becomes observable to the consumer, matching spec §4.C's requirement
// that "finally-style cleanup... execute on every termination path."
func WithFinally(ctx context.Context, src *Stream, fn func(terminal error)) *Stream {
	out := NewStream(1)
	run := func() {
		terminal := io.EOF
		closeOut := false
		var closeErr error
		defer func() {
			if fn != nil {
				fn(terminal)
			}
			if closeOut {
				out.Close(closeErr)
			}
		}()
		for {
			select {
			case <-out.stopc:
				src.Stop()
				terminal = ErrStreamStopped
				return
			default:
			}
			v, err := src.Next(ctx)
			if err != nil {
				terminal = err
				closeOut = true
				if !errors.Is(err, io.EOF) {
					closeErr = err
				}
				return
			}
			if sendErr := out.Send(ctx, v); sendErr != nil {
				terminal = sendErr
				src.Stop()
				return
			}
		}
	}
	go run()
	return out
}
