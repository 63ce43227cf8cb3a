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
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// TestTerminator covers spec scenario 6: a handler opts into forced abort,
// Terminate aborts it, and a second Terminate is a no-op.
func TestTerminator(t *testing.T) {
	term := NewTerminator()
	lis := bufconn.Listen(1024 * 1024)
	srv := NewServer()
	srv.Use(term.Middleware())
	require.NoError(t, srv.Add(newTestServiceDesc(), &testImpl{}))
	go srv.Serve(lis)
	defer srv.ForceShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := NewClient(conn, newTestServiceDesc())

	done := make(chan error, 1)
	go func() {
		_, callErr := client.CallUnary(context.Background(), "HangTerminate", &TestRequest{ID: "test"})
		done <- callErr
	}()

	require.Eventually(t, func() bool { return term.Pending() == 1 }, time.Second, 10*time.Millisecond)

	// Terminate with an arbitrary cause, unrelated to the status/message the
	// spec mandates, to prove the client-visible error comes from the
	// middleware's own translation rather than from the cause or any
	// cooperation by the handler (HangTerminate just returns
	// context.Cause(cc.Context()) unchanged).
	term.Terminate(errors.New("bye"))

	select {
	case err := <-done:
		var ce *ClientError
		require.True(t, errors.As(err, &ce), "expected a *ClientError, got %T: %v", err, err)
		require.Equal(t, StatusUnavailable, ce.Status)
		require.Equal(t, "Server shutting down", ce.Details)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not observe termination")
	}

	require.Zero(t, term.Pending())
	term.Terminate(errors.New("bye again"))
	require.Zero(t, term.Pending())
}
