// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn carries one frame per binary websocket message.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, o *transportOptions) *wsConn {
	conn.SetReadLimit(int64(o.maxFrame))
	return &wsConn{conn: conn, writeTimeout: o.writeTimeout}
}

func (w *wsConn) ReadFrame() (Frame, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return decodeFrame(data)
	}
}

func (w *wsConn) WriteFrame(f Frame) error {
	body, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, body)
}

func (w *wsConn) Close() error       { return w.conn.Close() }
func (w *wsConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

func (w *wsConn) setReadLimit(n int) { w.conn.SetReadLimit(int64(n)) }

// WSListener serves websocket links on one HTTP path.
type WSListener struct {
	*FrameHub
	listener net.Listener
	opts     *transportOptions
	upgrader websocket.Upgrader
	server   *http.Server
	conns    sync.Map
	closed   atomic.Bool
	baseCtx  atomic.Pointer[context.Context]
}

func listenWS(addr string, o *transportOptions) (Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newWSListener(listener, o), nil
}

func newWSListener(listener net.Listener, o *transportOptions) *WSListener {
	s := &WSListener{
		FrameHub: newFrameHub(o),
		listener: listener,
		opts:     o,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are identified by the handshake, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(o.path, s.handleUpgrade)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: o.handshakeTimeout}
	return s
}

// Handler exposes the upgrade endpoint so it can be mounted on another mux.
func (s *WSListener) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)

	ctx := context.Background()
	if p := s.baseCtx.Load(); p != nil {
		ctx = *p
	}
	s.serveConn(ctx, newWSConn(conn, s.opts))
}

// Serve runs the HTTP server until ctx is cancelled or Close is called.
func (s *WSListener) Serve(ctx context.Context) error {
	s.baseCtx.Store(&ctx)
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the HTTP server and drops every hijacked connection.
func (s *WSListener) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.server.Close()
	s.conns.Range(func(key, _ any) bool {
		_ = key.(*websocket.Conn).Close()
		return true
	})
	s.closeAll()
	return err
}

// Addr returns the listener address
func (s *WSListener) Addr() string {
	return s.listener.Addr().String()
}

// dialWS accepts "host:port" (the configured path is appended) or a full
// ws:// or wss:// URL.
func dialWS(ctx context.Context, addr string, o *transportOptions) (Link, error) {
	url := addr
	if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
		url = "ws://" + addr + o.path
	}
	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	l, err := newFrameLink(ctx, newWSConn(conn, o), o)
	if err != nil {
		return nil, err
	}
	return l, nil
}
