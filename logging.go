// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"io"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs one structured line per call: method, call ID,
// peer, duration, and the final status, through the given *zap.Logger (a
// no-op logger when log is nil).
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(call *Call) *Stream {
		start := time.Now()
		cc := call.Context
		responses := call.Next(nil, nil, nil)
		return WithFinally(cc.Context(), responses, func(terminal error) {
			fields := []zap.Field{
				zap.String("method", call.Method.FullMethod),
				zap.String("call_id", cc.CallID()),
				zap.String("peer", cc.Peer()),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case terminal == nil || terminal == io.EOF:
				log.Info("grpcframe: call completed", append(fields, zap.String("status", StatusOK.String()))...)
			case IsAbortError(terminal):
				log.Warn("grpcframe: call aborted", append(fields, zap.Error(terminal))...)
			default:
				st := toTrailerStatus(terminal)
				log.Error("grpcframe: call failed",
					append(fields, zap.String("status", st.Code().String()), zap.Error(terminal))...)
			}
		})
	}
}
