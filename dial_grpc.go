// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpcpeer "google.golang.org/grpc/peer"
)

func init() {
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

const (
	grpcServiceName = "netevent.Link"
	grpcStreamName  = "Stream"
	grpcStreamPath  = "/" + grpcServiceName + "/" + grpcStreamName
)

// grpcMessage is the single stream message type: one encoded frame body.
type grpcMessage struct {
	body []byte
}

// frameCodec moves frame bodies through gRPC without protobuf.
type frameCodec struct{}

func (frameCodec) Name() string { return "netevent-frame" }

func (frameCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*grpcMessage)
	if !ok {
		return nil, fmt.Errorf("%w: grpc message type %T", ErrInvalidFrame, v)
	}
	return m.body, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*grpcMessage)
	if !ok {
		return fmt.Errorf("%w: grpc message type %T", ErrInvalidFrame, v)
	}
	m.body = append(m.body[:0], data...)
	return nil
}

// grpcStream is the subset shared by client and server streams.
type grpcStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

type grpcConn struct {
	stream   grpcStream
	remote   string
	maxFrame int
	closeFn  func() error
	closed   atomic.Bool
}

func (g *grpcConn) ReadFrame() (Frame, error) {
	var m grpcMessage
	if err := g.stream.RecvMsg(&m); err != nil {
		return Frame{}, err
	}
	if len(m.body) > g.maxFrame {
		return Frame{}, fmt.Errorf("%w: length %d", ErrInvalidFrame, len(m.body))
	}
	return decodeFrame(m.body)
}

func (g *grpcConn) WriteFrame(f Frame) error {
	body, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return g.stream.SendMsg(&grpcMessage{body: body})
}

func (g *grpcConn) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	return g.closeFn()
}

func (g *grpcConn) RemoteAddr() string { return g.remote }

func (g *grpcConn) setReadLimit(n int) { g.maxFrame = n }

// streamServer is the handler type registered for the link service.
type streamServer interface {
	serveStream(stream grpc.ServerStream) error
}

var linkServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*streamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    grpcStreamName,
		ServerStreams: true,
		ClientStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(streamServer).serveStream(stream)
		},
	}},
	Metadata: "netevent/link",
}

// GRPCListener serves links as bidirectional gRPC streams.
type GRPCListener struct {
	*FrameHub
	listener net.Listener
	opts     *transportOptions
	server   *grpc.Server
	closed   atomic.Bool
}

func listenGRPC(addr string, o *transportOptions) (Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newGRPCListener(listener, o), nil
}

func newGRPCListener(listener net.Listener, o *transportOptions) *GRPCListener {
	s := &GRPCListener{
		FrameHub: newFrameHub(o),
		listener: listener,
		opts:     o,
		server: grpc.NewServer(
			grpc.ForceServerCodec(frameCodec{}),
			grpc.MaxRecvMsgSize(o.maxFrame),
			grpc.MaxSendMsgSize(o.maxFrame),
		),
	}
	s.server.RegisterService(&linkServiceDesc, s)
	return s
}

func (s *GRPCListener) serveStream(stream grpc.ServerStream) error {
	ctx := stream.Context()
	done := make(chan struct{})
	conn := &grpcConn{
		stream:   stream,
		remote:   peerAddr(ctx),
		maxFrame: s.opts.maxFrame,
		// Returning from the handler ends the stream; closing unblocks it.
		closeFn: func() error { close(done); return nil },
	}
	go func() {
		s.serveConn(ctx, conn)
		_ = conn.Close()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = conn.Close()
	}
	return nil
}

func peerAddr(ctx context.Context) string {
	if p, ok := grpcpeer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// Serve runs the gRPC server until ctx is cancelled or Close is called.
func (s *GRPCListener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	err := s.server.Serve(s.listener)
	if s.closed.Load() {
		return nil
	}
	return err
}

// Close stops the server and drops every stream.
func (s *GRPCListener) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.closeAll()
	s.server.Stop()
	return nil
}

// Addr returns the listener address
func (s *GRPCListener) Addr() string {
	return s.listener.Addr().String()
}

func dialGRPC(ctx context.Context, addr string, o *transportOptions) (Link, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(frameCodec{}),
			grpc.MaxCallRecvMsgSize(o.maxFrame),
			grpc.MaxCallSendMsgSize(o.maxFrame),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(streamCtx, &linkServiceDesc.Streams[0], grpcStreamPath)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("grpc stream: %w", err)
	}
	conn := &grpcConn{
		stream:   stream,
		remote:   addr,
		maxFrame: o.maxFrame,
		closeFn: func() error {
			cancel()
			return cc.Close()
		},
	}
	l, err := newFrameLink(ctx, conn, o)
	if err != nil {
		return nil, err
	}
	return l, nil
}
