// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/luxfi/netevent/logging"
)

// FrameHub is the Hub shared by the network transports. Each accepted
// connection becomes a peer with its own outbound queue drained by one
// writer goroutine, so frames to one client keep their order.
type FrameHub struct {
	codec            Codec
	maxFrame         int
	sendQueue        int
	handshakeTimeout time.Duration
	logger           logging.Logger

	mu           sync.RWMutex
	peers        map[ClientID]*peer
	channels     map[string]*hubChannel
	onConnect    []func(ClientID)
	onDisconnect []func(ClientID)
}

var _ Hub = (*FrameHub)(nil)

func newFrameHub(o *transportOptions) *FrameHub {
	return &FrameHub{
		codec:            o.codec,
		maxFrame:         o.maxFrame,
		sendQueue:        o.sendQueue,
		handshakeTimeout: o.handshakeTimeout,
		logger:           o.logger.With("component", "hub", "transport", o.transport),
		peers:            make(map[ClientID]*peer),
		channels:         make(map[string]*hubChannel),
	}
}

// Open creates a server channel.
func (h *FrameHub) Open(name string, reliable bool) (ServerChannel, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrInvalidArgument)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelExists, name)
	}
	ch := &hubChannel{hub: h, name: name, reliable: reliable}
	h.channels[name] = ch
	return ch, nil
}

// Connected returns the connected client ids in sorted order.
func (h *FrameHub) Connected() []ClientID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]ClientID, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *FrameHub) OnConnect(fn func(ClientID)) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.mu.Unlock()
}

func (h *FrameHub) OnDisconnect(fn func(ClientID)) {
	h.mu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.mu.Unlock()
}

// serveConn runs one connection to completion: handshake, registration,
// inbound dispatch, and removal once the connection fails or closes.
func (h *FrameHub) serveConn(ctx context.Context, conn frameConn) {
	defer conn.Close()

	p, err := h.accept(conn)
	if err != nil {
		h.logger.Debug("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	go p.writeLoop(h.logger)

	h.mu.RLock()
	hooks := append([]func(ClientID){}, h.onConnect...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(p.id)
	}

	h.readLoop(ctx, p)
	h.remove(p)
}

// accept reads the hello frame, settles the client id and writes the
// welcome frame before the peer's writer starts.
func (h *FrameHub) accept(conn frameConn) (*peer, error) {
	timer := time.AfterFunc(h.handshakeTimeout, func() { _ = conn.Close() })
	defer timer.Stop()

	limiter, limited := conn.(readLimiter)
	if limited {
		limiter.setReadLimit(min(maxHelloFrame, h.maxFrame))
	}
	f, err := conn.ReadFrame()
	if limited {
		limiter.setReadLimit(h.maxFrame)
	}
	if err != nil {
		return nil, err
	}
	if f.Type != MsgHello {
		return nil, fmt.Errorf("%w: expected hello, got %s", ErrInvalidFrame, f.Type)
	}
	id := ClientID(f.Payload)
	if id == "" {
		id = ClientID(xid.New().String())
	}

	h.mu.Lock()
	if _, dup := h.peers[id]; dup {
		h.mu.Unlock()
		_ = conn.WriteFrame(Frame{Type: MsgReject, Payload: []byte(ErrDuplicateClient.Error())})
		return nil, fmt.Errorf("%w: %q", ErrDuplicateClient, id)
	}
	p := newPeer(id, conn, h.sendQueue)
	h.peers[id] = p
	h.mu.Unlock()

	if err := conn.WriteFrame(Frame{Type: MsgWelcome, Payload: []byte(id)}); err != nil {
		h.remove(p)
		return nil, err
	}
	return p, nil
}

func (h *FrameHub) readLoop(ctx context.Context, p *peer) {
	for {
		if ctx.Err() != nil {
			return
		}
		f, err := p.conn.ReadFrame()
		if err != nil {
			return
		}
		if f.Type != MsgEvent {
			h.logger.Debug("ignored frame", "client", p.id, "type", f.Type)
			continue
		}
		h.mu.RLock()
		ch := h.channels[f.Channel]
		h.mu.RUnlock()
		if ch == nil {
			h.logger.Debug("frame for unknown channel", "client", p.id, "channel", f.Channel)
			continue
		}
		args, err := h.codec.Decode(f.Payload)
		if err != nil {
			h.logger.Warn("undecodable payload", "client", p.id, "channel", f.Channel, "error", err)
			continue
		}
		ch.dispatch(p.id, args)
	}
}

// remove unregisters p and runs disconnect hooks once.
func (h *FrameHub) remove(p *peer) {
	p.close()
	h.mu.Lock()
	cur, ok := h.peers[p.id]
	if !ok || cur != p {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p.id)
	hooks := append([]func(ClientID){}, h.onDisconnect...)
	h.mu.Unlock()
	for _, fn := range hooks {
		fn(p.id)
	}
}

// closeAll drops every peer.
func (h *FrameHub) closeAll() {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()
	for _, p := range peers {
		p.close()
	}
}

func (h *FrameHub) peer(id ClientID) *peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[id]
}

type hubChannel struct {
	hub      *FrameHub
	name     string
	reliable bool

	mu       sync.RWMutex
	handlers []ServerHandler
}

func (c *hubChannel) Name() string   { return c.name }
func (c *hubChannel) Reliable() bool { return c.reliable }

func (c *hubChannel) frame(args Args) (Frame, error) {
	payload, err := c.hub.codec.Encode(args)
	if err != nil {
		return Frame{}, fmt.Errorf("encode args: %w", err)
	}
	return Frame{Type: MsgEvent, Channel: c.name, Payload: payload}, nil
}

func (c *hubChannel) SendTo(ctx context.Context, client ClientID, args Args) error {
	p := c.hub.peer(client)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrNotConnected, client)
	}
	f, err := c.frame(args)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, f, c.reliable)
}

func (c *hubChannel) SendAll(ctx context.Context, args Args) error {
	f, err := c.frame(args)
	if err != nil {
		return err
	}
	c.hub.mu.RLock()
	peers := make([]*peer, 0, len(c.hub.peers))
	for _, p := range c.hub.peers {
		peers = append(peers, p)
	}
	c.hub.mu.RUnlock()

	var errs []error
	for _, p := range peers {
		if err := p.enqueue(ctx, f, c.reliable); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *hubChannel) Subscribe(h ServerHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *hubChannel) dispatch(from ClientID, args Args) {
	c.mu.RLock()
	handlers := append([]ServerHandler{}, c.handlers...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(from, args)
	}
}

type peer struct {
	id        ClientID
	conn      frameConn
	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(id ClientID, conn frameConn, queue int) *peer {
	return &peer{
		id:   id,
		conn: conn,
		out:  make(chan Frame, queue),
		done: make(chan struct{}),
	}
}

// enqueue blocks for reliable frames until there is room or ctx ends;
// unreliable frames are dropped when the queue is full.
func (p *peer) enqueue(ctx context.Context, f Frame, reliable bool) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if !reliable {
		select {
		case p.out <- f:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) writeLoop(logger logging.Logger) {
	for {
		select {
		case f := <-p.out:
			if err := p.conn.WriteFrame(f); err != nil {
				logger.Debug("write failed", "client", p.id, "error", err)
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
