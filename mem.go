// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// MemHub is an in-process transport. Delivery is synchronous: a send returns
// after every receiving handler has run. Reliable and unreliable channels
// behave identically.
type MemHub struct {
	mu           sync.RWMutex
	links        map[ClientID]*MemLink
	channels     map[string]*memChannel
	onConnect    []func(ClientID)
	onDisconnect []func(ClientID)
}

var _ Hub = (*MemHub)(nil)

// NewMemHub returns an empty in-process hub.
func NewMemHub() *MemHub {
	return &MemHub{
		links:    make(map[ClientID]*MemLink),
		channels: make(map[string]*memChannel),
	}
}

// Open creates a server channel.
func (h *MemHub) Open(name string, reliable bool) (ServerChannel, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrInvalidArgument)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelExists, name)
	}
	ch := &memChannel{hub: h, name: name, reliable: reliable}
	h.channels[name] = ch
	return ch, nil
}

// Connected returns the connected client ids in sorted order.
func (h *MemHub) Connected() []ClientID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]ClientID, 0, len(h.links))
	for id := range h.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *MemHub) OnConnect(fn func(ClientID)) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.mu.Unlock()
}

func (h *MemHub) OnDisconnect(fn func(ClientID)) {
	h.mu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.mu.Unlock()
}

// Connect attaches a client. An empty id gets a generated one; an id that is
// already connected is refused.
func (h *MemHub) Connect(id ClientID) (*MemLink, error) {
	if id == "" {
		id = ClientID(xid.New().String())
	}
	h.mu.Lock()
	if _, ok := h.links[id]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateClient, id)
	}
	l := &MemLink{hub: h, id: id, channels: make(map[string]*memLinkChannel)}
	l.channels[ControlChannel] = &memLinkChannel{
		link:     l,
		name:     ControlChannel,
		reliable: true,
		subs:     clientHandlers{hold: true},
	}
	h.links[id] = l
	hooks := append([]func(ClientID){}, h.onConnect...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return l, nil
}

// Disconnect detaches a client. Unknown ids are ignored.
func (h *MemHub) Disconnect(id ClientID) {
	h.mu.Lock()
	l, ok := h.links[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.links, id)
	l.closed.Store(true)
	hooks := append([]func(ClientID){}, h.onDisconnect...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
}

func (h *MemHub) link(id ClientID) *MemLink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.links[id]
}

func (h *MemHub) channel(name string) *memChannel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[name]
}

type memChannel struct {
	hub      *MemHub
	name     string
	reliable bool

	mu       sync.RWMutex
	handlers []ServerHandler
}

func (c *memChannel) Name() string   { return c.name }
func (c *memChannel) Reliable() bool { return c.reliable }

func (c *memChannel) SendTo(ctx context.Context, client ClientID, args Args) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := c.hub.link(client)
	if l == nil {
		return fmt.Errorf("%w: %q", ErrNotConnected, client)
	}
	l.deliver(c.name, args)
	return nil
}

func (c *memChannel) SendAll(ctx context.Context, args Args) error {
	for _, id := range c.hub.Connected() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l := c.hub.link(id); l != nil {
			l.deliver(c.name, args)
		}
	}
	return nil
}

func (c *memChannel) Subscribe(h ServerHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *memChannel) dispatch(from ClientID, args Args) {
	c.mu.RLock()
	handlers := append([]ServerHandler{}, c.handlers...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(from, args)
	}
}

// MemLink is the client end of a MemHub connection.
type MemLink struct {
	hub    *MemHub
	id     ClientID
	closed atomic.Bool

	mu       sync.RWMutex
	channels map[string]*memLinkChannel
}

var _ Link = (*MemLink)(nil)

func (l *MemLink) ID() ClientID { return l.id }

// Resolve binds to a channel the hub has already opened.
func (l *MemLink) Resolve(ref ChannelRef) (ClientChannel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.channels[ref.Name]; ok {
		return ch, nil
	}
	if l.hub.channel(ref.Name) == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ref.Name)
	}
	ch := &memLinkChannel{link: l, name: ref.Name, reliable: ref.Reliable}
	l.channels[ref.Name] = ch
	return ch, nil
}

// Close disconnects the link from its hub.
func (l *MemLink) Close() error {
	l.hub.Disconnect(l.id)
	return nil
}

func (l *MemLink) deliver(name string, args Args) {
	if l.closed.Load() {
		return
	}
	l.mu.RLock()
	ch := l.channels[name]
	l.mu.RUnlock()
	if ch != nil {
		ch.dispatch(args)
	}
}

type memLinkChannel struct {
	link     *MemLink
	name     string
	reliable bool

	subs clientHandlers
}

func (c *memLinkChannel) Name() string   { return c.name }
func (c *memLinkChannel) Reliable() bool { return c.reliable }

func (c *memLinkChannel) Send(ctx context.Context, args Args) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.link.closed.Load() {
		return ErrClosed
	}
	sc := c.link.hub.channel(c.name)
	if sc == nil {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, c.name)
	}
	sc.dispatch(c.link.id, args)
	return nil
}

func (c *memLinkChannel) Subscribe(h ClientHandler) { c.subs.subscribe(h) }

func (c *memLinkChannel) dispatch(args Args) { c.subs.dispatch(args) }
