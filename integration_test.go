// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// newTestPair boots a Server over an in-memory bufconn listener and a
// *Client bound to it, the way the pack's bufconn-based tests (and
// grpc-go's own) avoid binding real sockets.
func newTestPair(t *testing.T, opts ...ServerOption) (*Server, *Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := NewServer(opts...)
	srv.Use(RecoveryMiddleware(zap.NewNop()))
	require.NoError(t, srv.Add(newTestServiceDesc(), &testImpl{}))
	go srv.Serve(lis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	require.NoError(t, err)

	client := NewClient(conn, newTestServiceDesc())
	cleanup := func() {
		conn.Close()
		srv.ForceShutdown()
	}
	return srv, client, cleanup
}

// TestClientStreamingBasic covers spec scenario 2.
func TestClientStreamingBasic(t *testing.T) {
	_, client, cleanup := newTestPair(t)
	defer cleanup()

	requests := NewStream(2)
	go func() {
		requests.Send(context.Background(), &TestRequest{ID: "test-1"})
		requests.Send(context.Background(), &TestRequest{ID: "test-2"})
		requests.Close(nil)
	}()

	resp, err := client.CallClientStream(context.Background(), "Concat", requests)
	require.NoError(t, err)
	require.Equal(t, "test-1 test-2", resp.(*TestResponse).ID)
}

// TestClientStreamingEarlyResponse covers spec scenario 3: the handler
// answers after the first request while the client is still producing,
// and the client receives that first request's id. It then stops the
// request stream and waits up to a second for the producer to observe
// the Stop, without failing if the producer had already finished.
func TestClientStreamingEarlyResponse(t *testing.T) {
	_, client, cleanup := newTestPair(t)
	defer cleanup()

	cleanedUp := make(chan struct{}, 1)
	requests := NewStream(1)
	go func() {
		requests.Send(context.Background(), &TestRequest{ID: "test-0"})
		for i := 1; i < 1000; i++ {
			if requests.Send(context.Background(), &TestRequest{ID: "test-n"}) != nil {
				select {
				case cleanedUp <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	resp, err := client.CallClientStream(context.Background(), "FirstWins", requests)
	require.NoError(t, err)
	require.Equal(t, "test-0", resp.(*TestResponse).ID)

	requests.Stop()
	select {
	case <-cleanedUp:
	case <-time.After(time.Second):
	}
}

// TestServerErrorWithTrailerMetadata covers spec scenario 4.
func TestServerErrorWithTrailerMetadata(t *testing.T) {
	_, client, cleanup := newTestPair(t)
	defer cleanup()

	var trailer *Metadata
	_, err := client.CallUnary(context.Background(), "Fail", &TestRequest{ID: "test-0"}, WithOnTrailer(func(m *Metadata) { trailer = m }))
	require.Error(t, err)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, StatusNotFound, ce.Status)
	require.Equal(t, "test-0", ce.Details)
	require.Equal(t, []string{"v1", "v2"}, trailer.GetAll("test"))
}

// TestCancellation covers spec scenario 5: the client aborts via an
// external signal while the handler awaits forever.
func TestCancellation(t *testing.T) {
	_, client, cleanup := newTestPair(t)
	defer cleanup()

	abortCtx, abort := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.CallUnary(context.Background(), "Wait", &TestRequest{ID: "test"}, WithAbortSignal(abortCtx))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	abort()

	select {
	case err := <-done:
		require.True(t, IsAbortError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("call did not observe the abort signal")
	}
}

// TestRecoveryMiddlewareCatchesHandlerPanic exercises RecoveryMiddleware
// against a handler that actually panics (rather than relying on a
// middleware-side recover(), which cannot see a panic raised in the
// separate goroutine handlers.go spawns to run the handler).
func TestRecoveryMiddlewareCatchesHandlerPanic(t *testing.T) {
	_, client, cleanup := newTestPair(t)
	defer cleanup()

	_, err := client.CallUnary(context.Background(), "Panic", &TestRequest{ID: "test"})
	require.Error(t, err)
	var ce *ClientError
	require.True(t, errors.As(err, &ce), "expected a *ClientError, got %T: %v", err, err)
	require.Equal(t, StatusInternal, ce.Status)
}

// TestRequestProducerError covers spec scenario 7: the client's request
// sequence fails after yielding one message.
func TestRequestProducerError(t *testing.T) {
	_, client, cleanup := newTestPair(t)
	defer cleanup()

	requests := NewStream(1)
	boom := errors.New("test")
	go func() {
		requests.Send(context.Background(), &TestRequest{ID: "test-1"})
		requests.Close(boom)
	}()

	_, err := client.CallClientStream(context.Background(), "Concat", requests)
	require.Error(t, err)
}
