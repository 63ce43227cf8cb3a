// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Terminator tracks every in-flight call that has opted in via
// CallContext.AbortOnTerminate, and force-aborts them on Terminate, per
// spec §4.E. It is the graceful-shutdown companion to Server.Shutdown:
// Shutdown stops accepting new calls and waits for existing ones to
// finish on their own, while Terminate cuts the ones that registered
// short immediately.
type Terminator struct {
	mu    sync.Mutex
	calls map[*CallContext]context.CancelCauseFunc
	fired bool
	cause error
}

// NewTerminator returns an empty Terminator.
func NewTerminator() *Terminator {
	return &Terminator{calls: make(map[*CallContext]context.CancelCauseFunc)}
}

// Middleware returns server middleware implementing spec §4.E's forced
// abort exactly: every call gets its own inner signal, derived from (and
// therefore still subject to) the call's outer signal, but independently
// cancelable by Terminate. A handler opts in by calling
// CallContext.AbortOnTerminate, which registers this call's inner-signal
// cancel function; Terminate fires it for every registered call.
//
// On a post-delegation error, the middleware itself decides whether that
// error came from the terminator or from something else: if the inner
// signal fired but the outer one did not, the error is replaced with
// ServerError(UNAVAILABLE, "Server shutting down") regardless of what
// Terminate's cause or the handler's own return value were - the client
// never needs to cooperate by returning any particular error to observe
// the documented status.
func (t *Terminator) Middleware() Middleware {
	return func(call *Call) *Stream {
		outer := call.Context
		inner, cancelInner := context.WithCancelCause(outer.Context())
		cc := outer.withOverride(inner, cancelInner)
		prevHook := outer.abortOnTerminate
		cc.abortOnTerminate = func() {
			prevHook()
			t.register(cc, cancelInner)
		}

		responses := call.Next(cc, nil, nil)
		out := NewStream(1)
		go func() {
			defer func() {
				t.unregister(cc)
				cancelInner(nil)
			}()
			for {
				v, err := responses.Next(inner)
				if err != nil {
					if errors.Is(err, io.EOF) {
						out.Close(nil)
					} else {
						out.Close(t.translate(outer, inner, err))
					}
					return
				}
				if sendErr := out.Send(inner, v); sendErr != nil {
					responses.Stop()
					return
				}
			}
		}()
		return out
	}
}

// translate replaces err with ServerError(UNAVAILABLE, "Server shutting
// down") exactly when this call's inner signal fired (Terminate cut it
// short) while its outer signal - the one the transport/client/deadline
// controls - did not; any other error (a client disconnect, a deadline,
// the handler's own application error) passes through unchanged.
func (t *Terminator) translate(outer *CallContext, inner context.Context, err error) error {
	if outer.Aborted() {
		return err
	}
	select {
	case <-inner.Done():
		return NewServerError(StatusUnavailable, "Server shutting down")
	default:
		return err
	}
}

func (t *Terminator) register(cc *CallContext, cancel context.CancelCauseFunc) {
	t.mu.Lock()
	fired, cause := t.fired, t.cause
	if !fired {
		t.calls[cc] = cancel
	}
	t.mu.Unlock()
	if fired {
		cancel(cause)
	}
}

func (t *Terminator) unregister(cc *CallContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.calls, cc)
}

// Terminate cancels the inner signal of every call currently registered,
// and of every call that registers afterward, with cause as the
// cancellation cause observable via context.Cause inside the handler.
// The client-visible status is always UNAVAILABLE/"Server shutting down",
// independent of cause - see translate. A Terminate call after the first
// is a no-op.
func (t *Terminator) Terminate(cause error) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.cause = cause
	cancels := make([]context.CancelCauseFunc, 0, len(t.calls))
	for _, cancel := range t.calls {
		cancels = append(cancels, cancel)
	}
	t.calls = make(map[*CallContext]context.CancelCauseFunc)
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel(cause)
	}
}

// Pending returns the number of calls currently registered for forced
// abort, for tests and diagnostics.
func (t *Terminator) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
