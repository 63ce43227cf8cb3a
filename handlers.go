// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"fmt"
)

// UnaryHandler completes a unary RPC: it receives the single decoded
// request and returns the single response.
type UnaryHandler func(ctx context.Context, cc *CallContext, req any) (any, error)

// ServerStreamHandler completes a server-streaming RPC: it receives the
// single decoded request and writes zero or more responses to out before
// returning (nil for a clean end, or an error).
type ServerStreamHandler func(cc *CallContext, req any, out *ResponseSink) error

// ClientStreamHandler completes a client-streaming RPC: it reads zero or
// more requests from in and returns the single response.
type ClientStreamHandler func(cc *CallContext, in *RequestSource) (any, error)

// BidiStreamHandler completes a bidirectional-streaming RPC: it reads from
// in and writes to out as it sees fit.
type BidiStreamHandler func(cc *CallContext, in *RequestSource, out *ResponseSink) error

// serviceHandler is the single internal representation every one of the
// four user-facing handler kinds is adapted into, per spec §4.B step 2:
// "Construct a wrapper handler adapter that exposes the handler as a lazy
// sequence of response producing zero or more responses and completing
// with a terminal status." The dispatcher drives every call kind through
// this one shape.
type serviceHandler func(cc *CallContext, requests *Stream) *Stream

// recoverHandlerPanic must run as the first deferred call in the exact
// goroutine that invokes a user handler. recover() only sees a panic on
// its own goroutine's stack, so catching a handler panic anywhere else -
// e.g. in a middleware observing the response Stream from the outside -
// never works. If RecoveryMiddleware installed cc.panicHandler, the panic
// becomes that handler's error closing out; otherwise it is re-raised,
// crashing the process exactly as an unguarded handler panic always has.
func recoverHandlerPanic(cc *CallContext, out *Stream) {
	r := recover()
	if r == nil {
		return
	}
	if cc.panicHandler == nil {
		panic(r)
	}
	out.Close(cc.panicHandler(r))
}

func adaptUnary(h UnaryHandler) serviceHandler {
	return func(cc *CallContext, requests *Stream) *Stream {
		out := NewStream(1)
		go func() {
			defer recoverHandlerPanic(cc, out)
			req, err := requests.Next(cc.Context())
			if err != nil {
				out.Close(err)
				return
			}
			resp, err := h(cc.Context(), cc, req)
			if err != nil {
				out.Close(err)
				return
			}
			if err := out.Send(cc.Context(), resp); err != nil {
				out.Close(err)
				return
			}
			out.Close(nil)
		}()
		return out
	}
}

func adaptServerStream(h ServerStreamHandler) serviceHandler {
	return func(cc *CallContext, requests *Stream) *Stream {
		out := NewStream(1)
		go func() {
			defer recoverHandlerPanic(cc, out)
			req, err := requests.Next(cc.Context())
			if err != nil {
				out.Close(err)
				return
			}
			err = h(cc, req, &ResponseSink{s: out})
			out.Close(err)
		}()
		return out
	}
}

func adaptClientStream(h ClientStreamHandler) serviceHandler {
	return func(cc *CallContext, requests *Stream) *Stream {
		out := NewStream(1)
		go func() {
			defer recoverHandlerPanic(cc, out)
			resp, err := h(cc, &RequestSource{s: requests})
			if err != nil {
				out.Close(err)
				return
			}
			if err := out.Send(cc.Context(), resp); err != nil {
				out.Close(err)
				return
			}
			out.Close(nil)
		}()
		return out
	}
}

func adaptBidiStream(h BidiStreamHandler) serviceHandler {
	return func(cc *CallContext, requests *Stream) *Stream {
		out := NewStream(1)
		go func() {
			defer recoverHandlerPanic(cc, out)
			err := h(cc, &RequestSource{s: requests}, &ResponseSink{s: out})
			out.Close(err)
		}()
		return out
	}
}

// adaptHandler type-asserts impl's method for md into one of the four
// handler kinds implied by md's streaming flags, and returns the adapted
// serviceHandler.
func adaptHandler(md *MethodDesc, fn any) (serviceHandler, error) {
	switch {
	case !md.RequestStream && !md.ResponseStream:
		h, ok := fn.(func(context.Context, *CallContext, any) (any, error))
		if !ok {
			return nil, fmt.Errorf("grpcframe: method %q: expected UnaryHandler signature, got %T", md.Name, fn)
		}
		return adaptUnary(UnaryHandler(h)), nil
	case !md.RequestStream && md.ResponseStream:
		h, ok := fn.(func(*CallContext, any, *ResponseSink) error)
		if !ok {
			return nil, fmt.Errorf("grpcframe: method %q: expected ServerStreamHandler signature, got %T", md.Name, fn)
		}
		return adaptServerStream(ServerStreamHandler(h)), nil
	case md.RequestStream && !md.ResponseStream:
		h, ok := fn.(func(*CallContext, *RequestSource) (any, error))
		if !ok {
			return nil, fmt.Errorf("grpcframe: method %q: expected ClientStreamHandler signature, got %T", md.Name, fn)
		}
		return adaptClientStream(ClientStreamHandler(h)), nil
	default:
		h, ok := fn.(func(*CallContext, *RequestSource, *ResponseSink) error)
		if !ok {
			return nil, fmt.Errorf("grpcframe: method %q: expected BidiStreamHandler signature, got %T", md.Name, fn)
		}
		return adaptBidiStream(BidiStreamHandler(h)), nil
	}
}
