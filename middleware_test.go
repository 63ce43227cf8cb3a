// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// loggingMW returns a Middleware that records "<name>-start" before
// delegating and "<name>-response" after observing the single response the
// terminal handler in this test always produces.
func loggingMW(log *actionLog, name string, inject func(cc *CallContext)) Middleware {
	return func(call *Call) *Stream {
		log.record(name + "-start")
		if inject != nil {
			inject(call.Context)
		}
		log.record(name + "-request")
		responses := call.Next(nil, nil, nil)
		out := NewStream(1)
		go func() {
			v, err := responses.Next(call.Context.Context())
			if err != nil {
				out.Close(err)
				return
			}
			log.record(name + "-response")
			out.Send(call.Context.Context(), v)
			out.Close(nil)
		}()
		return out
	}
}

func TestMiddlewareChainOrdering(t *testing.T) {
	log := newActionLog()

	m1 := loggingMW(log, "m1", func(cc *CallContext) { cc.Set("m1", "present") })
	m2 := loggingMW(log, "m2", func(cc *CallContext) { cc.Set("m2", "present") })

	var sawM1, sawM2 bool
	terminal := Handler(func(cc *CallContext, request any, requests *Stream) *Stream {
		log.record("request")
		_, sawM1 = cc.Get("m1")
		_, sawM2 = cc.Get("m2")
		return singleValueStream(&TestResponse{ID: request.(*TestRequest).ID})
	})

	h := buildHandler([]Middleware{m1, m2}, terminal)

	desc := newTestServiceDesc()
	md, _ := desc.method("Echo")
	cc := newCallContext(context.Background(), newMethodInfo(desc, md), New(), "test-peer", nil)

	responses := h(cc, &TestRequest{ID: "test"}, nil)
	v, err := responses.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test", v.(*TestResponse).ID)

	require.True(t, sawM1, "handler should observe m1's injected context value")
	require.True(t, sawM2, "handler should observe m2's injected context value")
	require.Equal(t, []string{
		"m1-start", "m1-request",
		"m2-start", "m2-request",
		"request",
		"m2-response", "m1-response",
	}, log.snapshot())
}
