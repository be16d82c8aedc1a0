// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// zapConn frames messages over a stream connection as
// [4 len][1 type][2 nameLen][name][payload].
type zapConn struct {
	conn         net.Conn
	maxFrame     int
	readLimit    int
	writeTimeout time.Duration
	header       [4]byte
}

func newZAPConn(conn net.Conn, o *transportOptions) *zapConn {
	return &zapConn{conn: conn, maxFrame: o.maxFrame, readLimit: o.maxFrame, writeTimeout: o.writeTimeout}
}

func (z *zapConn) setReadLimit(n int) { z.readLimit = n }

func (z *zapConn) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(z.conn, z.header[:]); err != nil {
		return Frame{}, err
	}
	msgLen := binary.BigEndian.Uint32(z.header[:])
	if msgLen == 0 || int64(msgLen) > int64(z.readLimit) {
		return Frame{}, fmt.Errorf("%w: length %d", ErrInvalidFrame, msgLen)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(z.conn, msg); err != nil {
		return Frame{}, err
	}
	return decodeFrame(msg)
}

func (z *zapConn) WriteFrame(f Frame) error {
	body, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if len(body) > z.maxFrame {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidFrame, len(body), z.maxFrame)
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:], body)

	if z.writeTimeout > 0 {
		_ = z.conn.SetWriteDeadline(time.Now().Add(z.writeTimeout))
	}
	_, err = z.conn.Write(buf)
	return err
}

func (z *zapConn) Close() error       { return z.conn.Close() }
func (z *zapConn) RemoteAddr() string { return z.conn.RemoteAddr().String() }

// ZAPListener accepts ZAP connections and serves them through a FrameHub.
type ZAPListener struct {
	*FrameHub
	listener net.Listener
	opts     *transportOptions
	conns    sync.Map
	closed   atomic.Bool
}

// NewZAPListener serves ZAP links accepted from listener.
func NewZAPListener(listener net.Listener, opts ...TransportOption) *ZAPListener {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportZAP)}, opts...))
	return newZAPListener(listener, o)
}

func newZAPListener(listener net.Listener, o *transportOptions) *ZAPListener {
	return &ZAPListener{
		FrameHub: newFrameHub(o),
		listener: listener,
		opts:     o,
	}
}

func listenZAP(addr string, o *transportOptions) (Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newZAPListener(listener, o), nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *ZAPListener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *ZAPListener) handleConn(ctx context.Context, conn net.Conn) {
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)
	s.serveConn(ctx, newZAPConn(conn, s.opts))
}

// Close stops accepting and drops every connection.
func (s *ZAPListener) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.listener.Close()
	s.conns.Range(func(key, _ any) bool {
		_ = key.(net.Conn).Close()
		return true
	})
	s.closeAll()
	return err
}

// Addr returns the listener address
func (s *ZAPListener) Addr() string {
	return s.listener.Addr().String()
}

// dialZAP connects to a ZAP listener
func dialZAP(ctx context.Context, addr string, o *transportOptions) (Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}
	l, err := newFrameLink(ctx, newZAPConn(conn, o), o)
	if err != nil {
		return nil, err
	}
	return l, nil
}
