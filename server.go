// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// ErrorHook receives every error the dispatcher maps to StatusUnknown
// before sanitizing it for the peer, per spec §7's "full error is
// surfaced to a local error hook but never to the peer."
type ErrorHook func(ctx context.Context, callID string, err error)

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger    *zap.Logger
	errorHook ErrorHook
	grpcOpts  []grpc.ServerOption
	drainTime time.Duration
}

// WithLogger sets the *zap.Logger used by the server's default error hook.
// LoggingMiddleware takes its own logger and does not use this one.
func WithLogger(log *zap.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = log }
}

// WithErrorHook overrides the default (logging) error hook.
func WithErrorHook(fn ErrorHook) ServerOption {
	return func(o *serverOptions) { o.errorHook = fn }
}

// WithGRPCServerOptions passes options straight through to the underlying
// google.golang.org/grpc server (keepalive, TLS credentials, etc.) - the
// transport remains a black box the framework does not reimplement.
func WithGRPCServerOptions(opts ...grpc.ServerOption) ServerOption {
	return func(o *serverOptions) { o.grpcOpts = append(o.grpcOpts, opts...) }
}

// WithDrainTimeout bounds how long Shutdown waits for in-flight calls to
// finish draining before it force-stops the transport, even when the
// caller's context has no deadline.
func WithDrainTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.drainTime = d }
}

// Server is the server-side call dispatcher (spec §4.B): it registers
// service implementations, composes the middleware chain, and bridges the
// underlying google.golang.org/grpc transport to user handlers.
type Server struct {
	opts serverOptions

	mu         sync.Mutex
	middleware []Middleware
	services   map[string]*registeredService
	listener   net.Listener
	draining   bool
	inFlight   sync.WaitGroup

	gs *grpc.Server
}

// enterCall is the accept-gate dispatch checks before running a call: it
// atomically tests-and-increments under s.mu so a call can never register
// itself into inFlight after Shutdown has already observed inFlight.Wait()
// return - the documented hazard with calling WaitGroup.Add concurrently
// with a Wait that is in the process of seeing the counter hit zero.
func (s *Server) enterCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inFlight.Add(1)
	return true
}

func (s *Server) leaveCall() {
	s.inFlight.Done()
}

type registeredService struct {
	desc    *ServiceDesc
	methods map[string]*registeredMethod
}

type registeredMethod struct {
	desc    *MethodDesc
	info    *MethodInfo
	handler serviceHandler
}

// NewServer returns a Server with no services registered and not yet
// listening.
func NewServer(opts ...ServerOption) *Server {
	o := serverOptions{drainTime: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.errorHook == nil {
		hookLogger := o.logger
		o.errorHook = func(ctx context.Context, callID string, err error) {
			hookLogger.Error("grpcframe: unexpected handler error", zap.String("call_id", callID), zap.Error(err))
		}
	}
	return &Server{
		opts:     o,
		services: make(map[string]*registeredService),
	}
}

// Use appends middleware to the server's chain. The first Use call is
// outermost, per spec §4.C's composition law.
func (s *Server) Use(mw ...Middleware) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, mw...)
	return s
}

// Add registers a service implementation against its descriptor. impl
// must expose a method per MethodDesc.Name whose signature matches one of
// UnaryHandler/ServerStreamHandler/ClientStreamHandler/BidiStreamHandler
// according to that method's RequestStream/ResponseStream flags.
func (s *Server) Add(desc *ServiceDesc, impl any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[desc.ServiceName]; exists {
		return fmt.Errorf("grpcframe: duplicate service registration for %q", desc.ServiceName)
	}
	rv := reflect.ValueOf(impl)
	rs := &registeredService{desc: desc, methods: make(map[string]*registeredMethod, len(desc.Methods))}
	for i := range desc.Methods {
		md := &desc.Methods[i]
		m := rv.MethodByName(md.Name)
		if !m.IsValid() {
			return fmt.Errorf("grpcframe: %s: implementation %T missing method %q", desc.ServiceName, impl, md.Name)
		}
		handler, err := adaptHandler(md, m.Interface())
		if err != nil {
			return err
		}
		rs.methods[md.Name] = &registeredMethod{desc: md, info: newMethodInfo(desc, md), handler: handler}
	}
	s.services[desc.ServiceName] = rs
	return nil
}

// Listen binds the transport at addr and begins serving in a background
// goroutine, returning the bound address.
func (s *Server) Listen(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.serveOn(lis)
	return lis.Addr(), nil
}

// Serve begins serving on an already-bound listener (e.g. a
// bufconn.Listener in tests) and blocks the caller's goroutine the same
// way google.golang.org/grpc.Server.Serve does.
func (s *Server) Serve(lis net.Listener) error {
	gs := s.buildGRPCServer()
	s.mu.Lock()
	s.gs = gs
	s.listener = lis
	s.mu.Unlock()
	return gs.Serve(lis)
}

func (s *Server) serveOn(lis net.Listener) {
	gs := s.buildGRPCServer()
	s.mu.Lock()
	s.gs = gs
	s.listener = lis
	s.mu.Unlock()
	go gs.Serve(lis)
}

func (s *Server) buildGRPCServer() *grpc.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs := grpc.NewServer(s.opts.grpcOpts...)
	for _, svc := range s.services {
		gs.RegisterService(svc.grpcServiceDesc(s), nil)
	}
	return gs
}

// grpcServiceDesc builds a google.golang.org/grpc ServiceDesc whose every
// method is a generic grpc.StreamDesc - exactly the mechanism grpc-go's
// own UnknownServiceHandler uses to run without protoc-generated stubs -
// delegating to s.dispatch for the call-kind-agnostic algorithm of
// spec §4.B.
func (svc *registeredService) grpcServiceDesc(s *Server) *grpc.ServiceDesc {
	streams := make([]grpc.StreamDesc, 0, len(svc.methods))
	for name, rm := range svc.methods {
		rm := rm
		streams = append(streams, grpc.StreamDesc{
			StreamName:    name,
			ClientStreams: true,
			ServerStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				return s.dispatch(svc.desc, rm, stream)
			},
		})
	}
	return &grpc.ServiceDesc{
		ServiceName: svc.desc.ServiceName,
		HandlerType: (*any)(nil),
		Streams:     streams,
		Metadata:    "grpcframe",
	}
}

// Shutdown performs a graceful drain: it stops accepting new calls, then
// waits (bounded by ctx and WithDrainTimeout) for in-flight calls to
// finish or be aborted by a Terminator's Terminate().
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	gs := s.gs
	s.mu.Unlock()
	if gs == nil {
		return nil
	}
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		s.inFlight.Wait()
		close(done)
	}()
	deadline := ctx
	if s.opts.drainTime > 0 {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(ctx, s.opts.drainTime)
		defer cancel()
	}
	select {
	case <-done:
		return nil
	case <-deadline.Done():
		gs.Stop()
		<-done
		return deadline.Err()
	}
}

// ForceShutdown aborts all in-flight calls immediately.
func (s *Server) ForceShutdown() {
	s.mu.Lock()
	gs := s.gs
	s.mu.Unlock()
	if gs != nil {
		gs.Stop()
	}
}
