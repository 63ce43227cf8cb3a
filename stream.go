// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStreamStopped is returned from Stream.Send once the stream's consumer
// has called Stop, so the producer can detect early termination and run
// its own cleanup rather than blocking forever.
var ErrStreamStopped = errors.New("grpcframe: stream consumer stopped early")

// Stream is the lazy sequence primitive used throughout the package to
// model spec §9's "producer yielding values on demand, with explicit
// completion and cancellation": a channel-returning operation plus a
// completion signal. The same type backs request sequences (client
// producer -> server handler, or user producer -> transport) and response
// sequences (handler -> middleware -> transport, or transport -> consumer).
//
// Close ends a Stream; once ended and drained, every subsequent Next call
// returns the same terminal error (io.EOF for a clean end). A Next whose
// ctx is done returns ctx.Err() for that call only, without ending the
// Stream.
type Stream struct {
	ch    chan any
	done  chan struct{}
	once  sync.Once
	stopc chan struct{}
	sOnce sync.Once

	mu       sync.Mutex
	terminal error
}

// NewStream returns a Stream with the given backpressure buffer depth. A
// depth of 0 makes Send block until a concurrent Next call is ready,
// giving the strictest backpressure.
func NewStream(depth int) *Stream {
	if depth < 0 {
		depth = 0
	}
	return &Stream{
		ch:    make(chan any, depth),
		done:  make(chan struct{}),
		stopc: make(chan struct{}),
	}
}

// Send delivers v to the consumer, blocking for backpressure until the
// buffer has room, ctx is done, or the consumer has called Stop.
func (s *Stream) Send(ctx context.Context, v any) error {
	select {
	case s.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopc:
		return ErrStreamStopped
	}
}

// Close ends the stream. err == nil means a clean end, observed by
// consumers as io.EOF; any other error becomes the terminal value. Close
// is idempotent; only the first call's error is kept.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	if s.terminal == nil {
		if err == nil {
			err = io.EOF
		}
		s.terminal = err
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Stop signals the producer that the consumer is no longer interested.
// A producer blocked in Send observes ErrStreamStopped and should run its
// cleanup path; Stop does not by itself deliver a terminal value to Next.
func (s *Stream) Stop() {
	s.sOnce.Do(func() { close(s.stopc) })
}

// Next returns the next value, or the terminal error once the stream has
// ended and its buffer is drained. Terminal is io.EOF for a clean end.
func (s *Stream) Next(ctx context.Context) (any, error) {
	// Prefer already-buffered values over an already-fired done signal, so
	// a producer that sent N values then closed is fully drained in order.
	select {
	case v := <-s.ch:
		return v, nil
	default:
	}
	select {
	case v := <-s.ch:
		return v, nil
	case <-s.done:
		select {
		case v := <-s.ch:
			return v, nil
		default:
		}
		s.mu.Lock()
		err := s.terminal
		s.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Collect drains every value from the stream until its terminal error,
// returning the values and the terminal error translated to nil for a
// clean io.EOF end.
func (s *Stream) Collect(ctx context.Context) ([]any, error) {
	var out []any
	for {
		v, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, v)
	}
}

// ResponseIterator is the read side of a lazy response sequence, as used
// by middleware wrapping a handler (spec §9's design note on exposing a
// stream handle with both intermediate frames and the terminal value).
// *Stream satisfies this directly.
type ResponseIterator interface {
	Next(ctx context.Context) (any, error)
}

// RequestSource is the read-only view of an incoming request sequence
// handed to ClientStreamHandler and BidiStreamHandler implementations. It
// restricts *Stream to the consumer half of its API.
type RequestSource struct{ s *Stream }

// Recv returns the next request, or io.EOF once the client has finished
// sending (CloseSend observed), or a non-nil error if the stream broke.
func (r *RequestSource) Recv(ctx context.Context) (any, error) { return r.s.Next(ctx) }

// ResponseSink is the write-only view of an outgoing response sequence
// handed to ServerStreamHandler and BidiStreamHandler implementations. It
// restricts *Stream to the producer half of its API.
type ResponseSink struct{ s *Stream }

// Send yields one response, blocking for backpressure until the consumer
// is ready, the call's signal fires, or the consumer has stopped reading.
func (w *ResponseSink) Send(ctx context.Context, v any) error { return w.s.Send(ctx, v) }

// singleValueStream returns a Stream that yields exactly v and then ends
// cleanly; it adapts an input-unary or output-unary value into the
// sequence abstraction the middleware chain operates on uniformly.
func singleValueStream(v any) *Stream {
	s := NewStream(1)
	s.ch <- v
	s.Close(nil)
	return s
}
