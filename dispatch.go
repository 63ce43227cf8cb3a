// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// dispatch runs the call-kind-agnostic server algorithm of spec §4.B for a
// single RPC: build the CallContext from the transport, decode the
// request(s), drive them through the middleware chain and the registered
// handler, and translate the resulting response sequence (and its
// terminal error) back onto the transport.
//
// enterCall/leaveCall track this call against s.inFlight so Shutdown can
// wait for every in-flight call to finish draining, independently of
// grpc-go's own GracefulStop bookkeeping. A call that arrives after
// Shutdown has started draining is rejected immediately with UNAVAILABLE,
// never reaching the registered handler, and never incrementing the
// WaitGroup Shutdown is already waiting on.
func (s *Server) dispatch(desc *ServiceDesc, rm *registeredMethod, stream grpc.ServerStream) error {
	if !s.enterCall() {
		return NewServerError(StatusUnavailable, "Server shutting down").grpcStatus().Err()
	}
	defer s.leaveCall()
	return s.runDispatch(desc, rm, stream)
}

func (s *Server) runDispatch(desc *ServiceDesc, rm *registeredMethod, stream grpc.ServerStream) error {
	ctx := stream.Context()

	var incoming *Metadata
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		incoming = fromMD(md)
	} else {
		incoming = New()
		incoming.Freeze()
	}
	peerAddr := ""
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		peerAddr = p.Addr.String()
	}

	cc := newCallContext(ctx, rm.info, incoming, peerAddr, func(h *Metadata) error {
		return stream.SendHeader(h.toMD())
	})

	var request any
	var requests *Stream
	if rm.desc.RequestStream {
		requests = pumpIncoming(cc, stream, rm.desc)
	} else {
		v, err := decodeOne(stream, rm.desc)
		if err != nil {
			return s.finish(cc, stream, err)
		}
		request = v
		requests = singleValueStream(v)
	}

	terminal := Handler(func(cc *CallContext, request any, requests *Stream) *Stream {
		if rm.desc.RequestStream {
			return rm.handler(cc, requests)
		}
		return rm.handler(cc, singleValueStream(request))
	})

	s.mu.Lock()
	mws := append([]Middleware(nil), s.middleware...)
	s.mu.Unlock()

	h := buildHandler(mws, terminal)
	responses := h(cc, request, requests)

	return s.drainResponses(cc, stream, rm.desc, responses)
}

// decodeOne reads exactly one message for an input-unary method.
func decodeOne(stream grpc.ServerStream, md *MethodDesc) (any, error) {
	var raw []byte
	if err := stream.RecvMsg(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewServerError(StatusInvalidArgument, "client closed the stream before sending a request")
		}
		return nil, err
	}
	target := newRequestTarget(md)
	if err := md.codec().Decode(raw, target); err != nil {
		return nil, &codecError{op: "decode", err: err}
	}
	return target, nil
}

func newRequestTarget(md *MethodDesc) any {
	if md.NewRequest != nil {
		return md.NewRequest()
	}
	return &map[string]any{}
}

// pumpIncoming spawns a goroutine decoding every message the client sends
// onto a Stream, closing it cleanly on io.EOF (CloseSend observed) or with
// the transport error otherwise.
func pumpIncoming(cc *CallContext, stream grpc.ServerStream, md *MethodDesc) *Stream {
	out := NewStream(1)
	go func() {
		for {
			var raw []byte
			if err := stream.RecvMsg(&raw); err != nil {
				if errors.Is(err, io.EOF) {
					out.Close(nil)
				} else {
					out.Close(err)
				}
				return
			}
			target := newRequestTarget(md)
			if err := md.codec().Decode(raw, target); err != nil {
				out.Close(&codecError{op: "decode", err: err})
				return
			}
			if err := out.Send(cc.Context(), target); err != nil {
				return
			}
		}
	}()
	return out
}

// drainResponses writes every response the handler/middleware chain
// produces to the transport, sending the implicit header before the first
// one (spec §9's pinned resolution of the open question on header-send
// timing), then maps the terminal error to a trailer status and returns
// it to grpc-go.
func (s *Server) drainResponses(cc *CallContext, stream grpc.ServerStream, md *MethodDesc, responses *Stream) error {
	var terminal error
	for {
		v, err := responses.Next(cc.Context())
		if err != nil {
			terminal = err
			break
		}
		if !cc.headerSent() {
			if err := cc.SendHeader(); err != nil {
				terminal = err
				break
			}
		}
		raw, err := md.codec().Encode(v)
		if err != nil {
			terminal = &codecError{op: "encode", err: err}
			break
		}
		if err := stream.SendMsg(raw); err != nil {
			terminal = err
			break
		}
	}
	return s.finish(cc, stream, terminal)
}

// finish flushes the implicit header (if no response ever triggered it),
// sets the trailer, maps terminal into a grpc status, logs it through the
// server's error hook when it's an opaque StatusUnknown, and returns the
// status error for grpc-go to deliver to the peer.
func (s *Server) finish(cc *CallContext, stream grpc.ServerStream, terminal error) error {
	if !cc.headerSent() {
		_ = cc.SendHeader()
	}
	if !errors.Is(terminal, io.EOF) {
		st := toTrailerStatus(terminal)
		if st.Code() == codes.Unknown {
			s.opts.errorHook(cc.Context(), cc.CallID(), terminal)
		}
		cc.Trailer().Freeze()
		stream.SetTrailer(cc.Trailer().toMD())
		return st.Err()
	}
	cc.Trailer().Freeze()
	stream.SetTrailer(cc.Trailer().toMD())
	return nil
}
