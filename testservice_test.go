// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"sync"
)

// TestRequest and TestResponse are the plain Go structs used by the test
// service below; neither implements proto.Message, so DefaultCodec falls
// back to its JSON path for them.
type TestRequest struct {
	ID string `json:"id"`
}

type TestResponse struct {
	ID string `json:"id"`
}

func newTestRequest() any  { return &TestRequest{} }
func newTestResponse() any { return &TestResponse{} }

// testImpl backs the "test.Echo" service exercised by middleware_test.go,
// integration_test.go, and terminator_test.go. Every method matches one of
// the four handler signatures exactly, so Server.Add's reflection-based
// lookup in server.go can adapt it without protoc-generated stubs.
type testImpl struct {
	term *Terminator
}

// Echo is a unary method returning the request's id unchanged.
func (t *testImpl) Echo(ctx context.Context, cc *CallContext, req any) (any, error) {
	r := req.(*TestRequest)
	return &TestResponse{ID: r.ID}, nil
}

// Fail is a unary method that sets a trailer then fails with NOT_FOUND,
// exercising spec scenario 4.
func (t *testImpl) Fail(ctx context.Context, cc *CallContext, req any) (any, error) {
	r := req.(*TestRequest)
	cc.Trailer().Set("test", "v1", "v2")
	return nil, NewServerError(StatusNotFound, r.ID)
}

// Wait is a unary method that blocks until its call's signal fires,
// exercising spec scenario 5 (cancellation).
func (t *testImpl) Wait(ctx context.Context, cc *CallContext, req any) (any, error) {
	<-cc.Done()
	return nil, context.Cause(cc.Context())
}

// HangTerminate opts into forced abort and then blocks forever, exercising
// spec scenario 6 (terminator).
func (t *testImpl) HangTerminate(ctx context.Context, cc *CallContext, req any) (any, error) {
	cc.AbortOnTerminate()
	<-cc.Done()
	return nil, context.Cause(cc.Context())
}

// Panic is a unary method that panics unconditionally, exercising
// RecoveryMiddleware's handler-panic-to-ServerError conversion.
func (t *testImpl) Panic(ctx context.Context, cc *CallContext, req any) (any, error) {
	panic("boom")
}

// Concat is a client-streaming method joining every request id with a
// space, exercising spec scenario 2.
func (t *testImpl) Concat(cc *CallContext, in *RequestSource) (any, error) {
	var ids []string
	for {
		v, err := in.Recv(cc.Context())
		if err != nil {
			break
		}
		ids = append(ids, v.(*TestRequest).ID)
	}
	joined := ""
	for i, id := range ids {
		if i > 0 {
			joined += " "
		}
		joined += id
	}
	return &TestResponse{ID: joined}, nil
}

// FirstWins is a client-streaming method that answers after the first
// request without draining the rest, exercising spec scenario 3.
func (t *testImpl) FirstWins(cc *CallContext, in *RequestSource) (any, error) {
	v, err := in.Recv(cc.Context())
	if err != nil {
		return nil, err
	}
	return &TestResponse{ID: v.(*TestRequest).ID}, nil
}

func newTestServiceDesc() *ServiceDesc {
	return &ServiceDesc{
		ServiceName: "test.Echo",
		Methods: []MethodDesc{
			{Name: "Echo", NewRequest: newTestRequest, NewResponse: newTestResponse},
			{Name: "Fail", NewRequest: newTestRequest, NewResponse: newTestResponse},
			{Name: "Wait", NewRequest: newTestRequest, NewResponse: newTestResponse},
			{Name: "HangTerminate", NewRequest: newTestRequest, NewResponse: newTestResponse},
			{Name: "Panic", NewRequest: newTestRequest, NewResponse: newTestResponse},
			{Name: "Concat", RequestStream: true, NewRequest: newTestRequest, NewResponse: newTestResponse},
			{Name: "FirstWins", RequestStream: true, NewRequest: newTestRequest, NewResponse: newTestResponse},
		},
	}
}

// actionLog is a concurrency-safe recorder used by middleware_test.go to
// assert ordering invariants.
type actionLog struct {
	mu   sync.Mutex
	logs []string
}

func newActionLog() *actionLog { return &actionLog{} }

func (l *actionLog) record(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, s)
}

func (l *actionLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.logs...)
}
