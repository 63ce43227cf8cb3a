// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallContext is the per-call bag of signal, deadline, peer, metadata, and
// header/trailer write access a server handler and every middleware in the
// chain observe, per spec §3/§4.C.
type CallContext struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	metadata *Metadata
	header   *Metadata
	trailer  *Metadata
	peer     string
	method   *MethodInfo
	callID   string

	headerOnce sync.Once
	sendHeader func(*Metadata) error

	mu  sync.Mutex
	ext map[string]any

	abortOnTerminate func()

	// panicHandler, if set by RecoveryMiddleware, converts a panic
	// recovered in the goroutine that runs the handler into the error the
	// call ends with. Left nil, a handler panic crashes the process, the
	// same as an unrecovered panic in any other goroutine.
	panicHandler func(r any) error
}

// newCallContext builds the base CallContext the dispatcher constructs
// from transport metadata, peer, and deadline, per spec §4.B step 1.
func newCallContext(parent context.Context, method *MethodInfo, incoming *Metadata, peer string, sendHeader func(*Metadata) error) *CallContext {
	ctx, cancel := context.WithCancelCause(parent)
	return &CallContext{
		ctx:              ctx,
		cancel:           cancel,
		metadata:         incoming,
		header:           New(),
		trailer:          New(),
		peer:             peer,
		method:           method,
		callID:           uuid.NewString(),
		sendHeader:       sendHeader,
		ext:              make(map[string]any),
		abortOnTerminate: func() {},
	}
}

// Context returns the context for this call. Its Done channel closes, and
// Err/context.Cause report the reason, exactly when signal.aborted becomes
// true per spec §3 invariant 3 (monotonic, latched).
func (c *CallContext) Context() context.Context { return c.ctx }

// Done is a convenience accessor equivalent to Context().Done().
func (c *CallContext) Done() <-chan struct{} { return c.ctx.Done() }

// Aborted reports whether the call's signal has fired.
func (c *CallContext) Aborted() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Deadline proxies the call context's deadline, if any.
func (c *CallContext) Deadline() (time.Time, bool) { return c.ctx.Deadline() }

// Metadata returns the incoming request metadata. It is always frozen.
func (c *CallContext) Metadata() *Metadata { return c.metadata }

// Header returns the outgoing response-header metadata, mutable until
// SendHeader (explicit or implicit) has fired.
func (c *CallContext) Header() *Metadata { return c.header }

// Trailer returns the outgoing response-trailer metadata, mutable until
// the call ends.
func (c *CallContext) Trailer() *Metadata { return c.trailer }

// Peer returns the textual peer address.
func (c *CallContext) Peer() string { return c.peer }

// Method returns the service method descriptor for this call.
func (c *CallContext) Method() *MethodInfo { return c.method }

// CallID returns a process-unique identifier generated once per call, for
// correlating log lines and trace spans across a call's lifetime.
func (c *CallContext) CallID() string { return c.callID }

// SendHeader flushes the current Header() to the transport, if it has not
// already been sent. It is idempotent: subsequent calls are no-ops, and
// Header() is frozen the moment it is sent so later mutation attempts are
// silently ignored, per spec §3 invariant 1 and invariant 5.
func (c *CallContext) SendHeader() error {
	var err error
	c.headerOnce.Do(func() {
		// A withOverride copy carries its own headerOnce but shares header,
		// so a header frozen by another layer's SendHeader is already sent.
		if c.header.Frozen() {
			return
		}
		c.header.Freeze()
		if c.sendHeader != nil {
			err = c.sendHeader(c.header)
		}
	})
	return err
}

// headerSent reports whether SendHeader has already fired, without
// triggering it.
func (c *CallContext) headerSent() bool {
	return c.header.Frozen()
}

// Set attaches a named extension value to the call, for middleware to
// pass data to downstream middleware and the handler.
func (c *CallContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ext[key] = value
}

// Get retrieves a named extension value previously attached with Set.
func (c *CallContext) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.ext[key]
	return v, ok
}

// AbortOnTerminate opts this call into the terminator's forced-abort set,
// per spec §4.E. The base CallContext's implementation is a no-op; the
// terminator middleware overrides it via withOverride before calling next.
func (c *CallContext) AbortOnTerminate() {
	c.abortOnTerminate()
}

// abort cancels the call's signal with cause, latching Aborted() to true.
// Safe to call multiple times; only the first cause sticks.
func (c *CallContext) abort(cause error) {
	c.cancel(cause)
}

// withOverride returns a shallow copy of c with ctx/cancel and
// abortOnTerminate replaceable, used by middleware.go's call.Next when a
// middleware supplies a contextOverride (spec §4.C "context override").
// Mutating fields (header/trailer/ext) are shared by reference: downstream
// middleware and the handler see the same header/trailer objects and the
// same extension map as upstream; only the signal and the
// abortOnTerminate hook may differ per layer.
func (c *CallContext) withOverride(ctx context.Context, cancel context.CancelCauseFunc) *CallContext {
	clone := *c
	clone.ctx = ctx
	clone.cancel = cancel
	clone.abortOnTerminate = c.abortOnTerminate
	return &clone
}

// CallOption configures a single client call or a Client's defaults.
type CallOption func(*callOptions)

type callOptions struct {
	metadata    *Metadata
	onHeader    func(*Metadata)
	onTrailer   func(*Metadata)
	abortSignal context.Context
	deadline    time.Time
	hasDeadline bool
}

func newCallOptions(opts ...CallOption) *callOptions {
	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMetadata attaches request metadata to a call, sent as initial
// headers (spec §4.D step 2).
func WithMetadata(md *Metadata) CallOption {
	return func(o *callOptions) { o.metadata = md }
}

// WithOnHeader registers a callback invoked exactly once with the
// server's initial response headers.
func WithOnHeader(fn func(*Metadata)) CallOption {
	return func(o *callOptions) { o.onHeader = fn }
}

// WithOnTrailer registers a callback invoked exactly once with the
// server's response trailer.
func WithOnTrailer(fn func(*Metadata)) CallOption {
	return func(o *callOptions) { o.onTrailer = fn }
}

// WithAbortSignal supplies an external context whose cancellation aborts
// the call independently of the ctx passed to the Call* method itself,
// per spec §4.D step 7.
func WithAbortSignal(signal context.Context) CallOption {
	return func(o *callOptions) { o.abortSignal = signal }
}

// WithDeadline sets an absolute deadline for the call, encoded to the
// transport as grpc-timeout.
func WithDeadline(d time.Time) CallOption {
	return func(o *callOptions) {
		o.deadline = d
		o.hasDeadline = true
	}
}

// mergeAbortSignal returns a context derived from ctx that also cancels
// when signal fires, plus a stop function that MUST be called on every
// exit path to detach the forwarding listener (spec §9's warning about
// leaking the forward listener).
func mergeAbortSignal(ctx context.Context, signal context.Context) (context.Context, func()) {
	if signal == nil {
		return ctx, func() {}
	}
	merged, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(signal, func() {
		cancel(&AbortError{Cause: signal.Err()})
	})
	return merged, func() {
		stop()
		cancel(nil)
	}
}
