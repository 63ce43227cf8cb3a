// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerError is raised by a handler or middleware to end a call with a
// non-OK status. It is the only error kind a handler should construct
// directly; any other error value returned from a handler is mapped by
// toTrailerStatus (codec and context errors to their own codes, anything
// else to StatusUnknown). A handler panic crashes the process unless
// RecoveryMiddleware is installed, which turns it into StatusInternal.
type ServerError struct {
	Status  Status
	Details string
}

// NewServerError constructs a ServerError. status must not be StatusOK; a
// handler that wants to succeed should simply return a response and a nil
// error.
func NewServerError(status Status, details string) *ServerError {
	return &ServerError{Status: status, Details: details}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("grpcframe: server error %s: %s", e.Status, e.Details)
}

func (e *ServerError) grpcStatus() *status.Status {
	return status.New(e.Status.grpcCode(), e.Details)
}

// ClientError is raised on the client when the peer's trailer conveys a
// non-OK status. It carries the trailer metadata sent alongside the
// status, so callers can inspect application-level details attached there.
type ClientError struct {
	Path     string
	Status   Status
	Details  string
	Trailer  *Metadata
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("grpcframe: rpc error calling %s: %s: %s", e.Path, e.Status, e.Details)
}

// Is supports errors.Is(err, &ClientError{}) style matching on the kind,
// ignoring the payload.
func (e *ClientError) Is(target error) bool {
	_, ok := target.(*ClientError)
	return ok
}

func newClientError(path string, st *status.Status, trailer *Metadata) *ClientError {
	if trailer == nil {
		trailer = New()
		trailer.Freeze()
	}
	return &ClientError{
		Path:    path,
		Status:  statusFromGRPC(st.Code()),
		Details: st.Message(),
		Trailer: trailer,
	}
}

// AbortError is raised at the awaiting consumer (client) or observed by a
// server handler via CallContext.Done()/Context().Err() when the call's signal fires
// before completion.
type AbortError struct {
	// Cause is the reason the signal fired: peer cancellation, deadline,
	// local shutdown (terminator), or an externally supplied signal.
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("grpcframe: call aborted: %v", e.Cause)
	}
	return "grpcframe: call aborted"
}

func (e *AbortError) Unwrap() error { return e.Cause }

// IsAbortError reports whether err (or something it wraps) is an
// AbortError, or is context.Canceled/context.DeadlineExceeded, which the
// driver treats equivalently when surfaced from the transport layer.
func IsAbortError(err error) bool {
	if err == nil {
		return false
	}
	var ae *AbortError
	if errors.As(err, &ae) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// toTrailerStatus maps any error surfaced out of the middleware chain to
// the *status.Status the server dispatcher writes as the call's trailer,
// per spec §7's error-kind table.
func toTrailerStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.grpcStatus()
	}
	var ce *codecError
	if errors.As(err, &ce) {
		return status.New(codes.Internal, ce.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.New(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.New(codes.Canceled, err.Error())
	}
	// Any other thrown error: never leak details to the peer.
	return status.New(codes.Unknown, "internal error")
}

// codecError wraps an encode/decode failure so toTrailerStatus and the
// client driver can recognize it distinctly from an application error.
type codecError struct {
	op  string
	err error
}

func (e *codecError) Error() string { return fmt.Sprintf("grpcframe: codec %s: %v", e.op, e.err) }
func (e *codecError) Unwrap() error { return e.err }
