// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/netevent/logging"
)

// ClientOption configures a Client
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger logging.Logger
}

// WithClientLogger sets the logger used for warnings.
func WithClientLogger(l logging.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// Client mirrors the server's registry from control channel announcements
// and sends and receives on the mirrored channels. It never creates
// namespaces or events on its own.
type Client struct {
	link   Link
	logger logging.Logger

	mu       sync.Mutex
	registry Registry
}

// NewClient subscribes to the control channel of link. Announcements the
// link received since it connected are mirrored first, in order.
func NewClient(link Link, opts ...ClientOption) (*Client, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: nil link", ErrInvalidArgument)
	}
	var cfg clientConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	control, err := link.Resolve(ChannelRef{Name: ControlChannel, Reliable: true})
	if err != nil {
		return nil, fmt.Errorf("resolve control channel: %w", err)
	}
	c := &Client{
		link:     link,
		logger:   logging.Ensure(cfg.logger).With("component", "client", "client", link.ID()),
		registry: NewRegistry(),
	}
	control.Subscribe(c.handleAnnouncement)
	return c, nil
}

// ID returns the identity the server knows this client by.
func (c *Client) ID() ClientID {
	return c.link.ID()
}

func (c *Client) handleAnnouncement(args Args) {
	a, err := decodeAnnouncement(args)
	if err != nil {
		c.logger.Warn("malformed announcement", "error", err)
		return
	}
	switch a.Type {
	case AnnounceNamespace:
		c.mu.Lock()
		err = RegisterNamespace(c.registry, a.Namespace)
		c.mu.Unlock()
	case AnnounceEvent:
		err = c.mirrorEvent(a)
	default:
		err = fmt.Errorf("%w: announcement type %q", ErrInvalidArgument, a.Type)
	}
	if err != nil {
		c.logger.Warn("announcement not mirrored", "type", a.Type, "namespace", a.Namespace, "event", a.EventName, "error", err)
	}
}

func (c *Client) mirrorEvent(a Announcement) error {
	if a.ChannelRef == nil {
		return fmt.Errorf("%w: event announcement without channel", ErrInvalidArgument)
	}
	ch, err := c.link.Resolve(*a.ChannelRef)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := RegisterEvent(c.registry, a.Namespace, a.EventName, a.OpaqueID, a.Reliable); err != nil {
		return err
	}
	return AttachChannel(c.registry, a.Namespace, a.EventName, ch)
}

func (c *Client) channelFor(namespace, eventName string) (ClientChannel, bool) {
	c.mu.Lock()
	rec, ok := Lookup(c.registry, namespace, eventName)
	c.mu.Unlock()
	if !ok || rec.Channel == nil {
		return nil, false
	}
	ch, ok := rec.Channel.(ClientChannel)
	return ch, ok
}

// FireServer sends args to the server over the event's channel.
func (c *Client) FireServer(ctx context.Context, namespace, eventName string, args ...any) {
	ch, ok := c.channelFor(namespace, eventName)
	if !ok {
		c.logger.Warn("fire on unknown event", "namespace", namespace, "event", eventName)
		return
	}
	if err := ch.Send(ctx, Args(args)); err != nil {
		c.logger.Warn("send failed", "namespace", namespace, "event", eventName, "error", err)
	}
}

// OnClientEvent subscribes h to messages the server sends on the event.
func (c *Client) OnClientEvent(namespace, eventName string, h ClientHandler) {
	ch, ok := c.channelFor(namespace, eventName)
	if !ok {
		c.logger.Warn("listen on unknown event", "namespace", namespace, "event", eventName)
		return
	}
	if h == nil {
		c.logger.Warn("nil handler", "namespace", namespace, "event", eventName)
		return
	}
	ch.Subscribe(h)
}

// NamespaceExists reports whether the namespace has been mirrored.
func (c *Client) NamespaceExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NamespaceExists(c.registry, name)
}

// EventExists reports whether the event has been mirrored.
func (c *Client) EventExists(namespace, eventName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return EventExists(c.registry, namespace, eventName)
}

// OpaqueID returns the wire channel name of a mirrored event.
func (c *Client) OpaqueID(namespace, eventName string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := Lookup(c.registry, namespace, eventName)
	if !ok {
		return "", false
	}
	return rec.ID, true
}

// Close closes the underlying link.
func (c *Client) Close() error {
	return c.link.Close()
}
