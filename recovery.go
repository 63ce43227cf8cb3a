// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// RecoveryMiddleware converts a handler panic into a StatusInternal
// ServerError instead of crashing the process, in the spirit of the
// teacher's go-kit-style panic-recovery endpoint middleware.
//
// recover() only ever sees a panic on its own goroutine's stack, and the
// handler always runs in the goroutine handlers.go's adapt* functions
// spawn for it - never in the goroutine a middleware happens to be
// running on. So rather than wrapping its own draining loop in a
// recover() that can never fire, RecoveryMiddleware installs a hook
// (CallContext.panicHandler) that adaptUnary/adaptServerStream/
// adaptClientStream/adaptBidiStream's own deferred recover calls on the
// handler's goroutine.
func RecoveryMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(call *Call) *Stream {
		cc := call.Context
		cc.panicHandler = func(r any) error {
			log.Error("grpcframe: panic recovered in handler",
				zap.String("method", call.Method.FullMethod),
				zap.String("call_id", cc.CallID()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			return NewServerError(StatusInternal, fmt.Sprintf("panic: %v", r))
		}
		return call.Next(cc, nil, nil)
	}
}
