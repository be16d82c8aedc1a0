// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed          = errors.New("netevent: connection closed")
	ErrQueueFull       = errors.New("netevent: send queue full")
	ErrNotConnected    = errors.New("netevent: client not connected")
	ErrChannelExists   = errors.New("netevent: channel already open")
	ErrUnknownChannel  = errors.New("netevent: unknown channel")
	ErrDuplicateClient = errors.New("netevent: client id already connected")
)

// ControlChannel is the name of the reliable broadcast channel carrying
// registration announcements from the server to every client.
const ControlChannel = "netevent.control"

// Args is an opaque payload. The core passes it through untouched; network
// transports encode it with their Codec.
type Args []any

// ServerHandler receives inbound messages on the server.
type ServerHandler func(from ClientID, args Args)

// ClientHandler receives inbound messages on a client.
type ClientHandler func(args Args)

// Channel is a named messaging channel of a fixed reliability mode.
type Channel interface {
	Name() string
	Reliable() bool
}

// ServerChannel is the server end of a channel.
type ServerChannel interface {
	Channel
	// SendTo delivers args to exactly one connected client.
	SendTo(ctx context.Context, client ClientID, args Args) error
	// SendAll delivers args to every connected client.
	SendAll(ctx context.Context, args Args) error
	// Subscribe registers h for messages arriving from any client.
	Subscribe(h ServerHandler)
}

// ClientChannel is the client end of a channel.
type ClientChannel interface {
	Channel
	// Send delivers args to the server.
	Send(ctx context.Context, args Args) error
	// Subscribe registers h for messages arriving from the server.
	Subscribe(h ClientHandler)
}

// Connections tracks which clients are currently connected.
type Connections interface {
	Connected() []ClientID
	OnConnect(fn func(ClientID))
	OnDisconnect(fn func(ClientID))
}

// Hub is the server side of a transport.
type Hub interface {
	Connections
	// Open creates the server end of a new channel. Opening a name twice fails.
	Open(name string, reliable bool) (ServerChannel, error)
}

// ChannelRef is the handle the server hands out in announcements; a Link
// turns it into a ClientChannel bound to the server's channel.
type ChannelRef struct {
	Name     string `json:"name"`
	Reliable bool   `json:"reliable"`
}

// Link is the client side of a transport.
type Link interface {
	ID() ClientID
	Resolve(ref ChannelRef) (ClientChannel, error)
	Close() error
}

// clientHandlers is the subscriber list of a client channel. A holding list
// keeps messages until its first subscriber arrives and replays them to it
// in arrival order.
type clientHandlers struct {
	mu       sync.Mutex
	handlers []ClientHandler
	hold     bool
	held     []Args
}

func (c *clientHandlers) subscribe(h ClientHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
	held := c.held
	c.held, c.hold = nil, false
	// Replay under the lock so later messages queue behind the held ones.
	for _, args := range held {
		h(args)
	}
}

func (c *clientHandlers) dispatch(args Args) {
	c.mu.Lock()
	if c.hold {
		c.held = append(c.held, args)
		c.mu.Unlock()
		return
	}
	handlers := append([]ClientHandler{}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(args)
	}
}
