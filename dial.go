// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/netevent/logging"
)

const (
	DefaultSendQueue        = 256
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultWSPath           = "/netevent"
)

// Listener is a network Hub that accepts client links.
type Listener interface {
	Hub
	// Serve accepts connections until ctx is cancelled or Close is called.
	Serve(ctx context.Context) error
	Close() error
	Addr() string
}

// TransportOption configures Listen and Dial
type TransportOption func(*transportOptions)

type transportOptions struct {
	transport        string
	codec            Codec
	maxFrame         int
	sendQueue        int
	clientID         ClientID
	path             string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	logger           logging.Logger
}

func newTransportOptions(opts []TransportOption) *transportOptions {
	o := &transportOptions{
		transport:        DefaultTransport,
		codec:            defaultCodec,
		maxFrame:         DefaultMaxFrameSize,
		sendQueue:        DefaultSendQueue,
		path:             DefaultWSPath,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.Ensure(o.logger)
	return o
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) TransportOption {
	return func(o *transportOptions) { o.transport = t }
}

// WithCodec sets the payload codec. Both ends must agree.
func WithCodec(c Codec) TransportOption {
	return func(o *transportOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithMaxFrameSize bounds the size of a single frame body.
func WithMaxFrameSize(n int) TransportOption {
	return func(o *transportOptions) {
		if n > 0 {
			o.maxFrame = n
		}
	}
}

// WithSendQueue sets the per-client outbound queue length on the server.
func WithSendQueue(n int) TransportOption {
	return func(o *transportOptions) {
		if n > 0 {
			o.sendQueue = n
		}
	}
}

// WithClientID proposes the identity a dialing client wants to use.
func WithClientID(id ClientID) TransportOption {
	return func(o *transportOptions) { o.clientID = id }
}

// WithPath sets the HTTP path of the websocket endpoint.
func WithPath(p string) TransportOption {
	return func(o *transportOptions) { o.path = p }
}

// WithHandshakeTimeout bounds the hello/welcome exchange.
func WithHandshakeTimeout(d time.Duration) TransportOption {
	return func(o *transportOptions) { o.handshakeTimeout = d }
}

// WithTransportLogger sets the logger used by transports.
func WithTransportLogger(l logging.Logger) TransportOption {
	return func(o *transportOptions) { o.logger = l }
}

// Listen creates a listener using the default transport (ZAP) unless
// WithTransport selects another one.
func Listen(addr string, opts ...TransportOption) (Listener, error) {
	o := newTransportOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	return t.listen(addr, o)
}

// Dial connects to a listener and completes the handshake.
func Dial(ctx context.Context, addr string, opts ...TransportOption) (Link, error) {
	o := newTransportOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	return t.dial(ctx, addr, o)
}
