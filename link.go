// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/netevent/logging"
)

var ErrRejected = errors.New("netevent: connection rejected")

// FrameLink is the Link shared by the network transports.
type FrameLink struct {
	id     ClientID
	conn   frameConn
	codec  Codec
	logger logging.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	channels map[string]*linkChannel

	done      chan struct{}
	closeOnce sync.Once
}

var _ Link = (*FrameLink)(nil)

// newFrameLink performs the hello/welcome exchange on conn and starts the
// read loop. conn is closed when the handshake fails.
func newFrameLink(ctx context.Context, conn frameConn, o *transportOptions) (*FrameLink, error) {
	ctx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	type result struct {
		id  ClientID
		err error
	}
	res := make(chan result, 1)
	go func() {
		id, err := clientHandshake(conn, o.clientID)
		res <- result{id, err}
	}()

	var r result
	select {
	case r = <-res:
	case <-ctx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}
	if r.err != nil {
		_ = conn.Close()
		return nil, r.err
	}

	l := &FrameLink{
		id:       r.id,
		conn:     conn,
		codec:    o.codec,
		logger:   o.logger.With("component", "link", "transport", o.transport, "client", r.id),
		channels: make(map[string]*linkChannel),
		done:     make(chan struct{}),
	}
	// Announcements may arrive before a Client subscribes; hold them.
	l.channels[ControlChannel] = &linkChannel{
		link:     l,
		name:     ControlChannel,
		reliable: true,
		subs:     clientHandlers{hold: true},
	}
	go l.readLoop()
	return l, nil
}

func clientHandshake(conn frameConn, proposed ClientID) (ClientID, error) {
	if err := conn.WriteFrame(Frame{Type: MsgHello, Payload: []byte(proposed)}); err != nil {
		return "", fmt.Errorf("write hello: %w", err)
	}
	f, err := conn.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("read welcome: %w", err)
	}
	switch f.Type {
	case MsgWelcome:
		if len(f.Payload) == 0 {
			return "", fmt.Errorf("%w: empty client id in welcome", ErrInvalidFrame)
		}
		return ClientID(f.Payload), nil
	case MsgReject:
		return "", fmt.Errorf("%w: %s", ErrRejected, f.Payload)
	default:
		return "", fmt.Errorf("%w: expected welcome, got %s", ErrInvalidFrame, f.Type)
	}
}

// ID returns the identity assigned by the server.
func (l *FrameLink) ID() ClientID { return l.id }

// Done is closed once the link is closed or the connection fails.
func (l *FrameLink) Done() <-chan struct{} { return l.done }

// Resolve returns the client end of a server channel. The server is the only
// source of valid references, so no existence check is made.
func (l *FrameLink) Resolve(ref ChannelRef) (ClientChannel, error) {
	if ref.Name == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.channels[ref.Name]; ok {
		return ch, nil
	}
	ch := &linkChannel{link: l, name: ref.Name, reliable: ref.Reliable}
	l.channels[ref.Name] = ch
	return ch, nil
}

// Close closes the connection.
func (l *FrameLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

func (l *FrameLink) readLoop() {
	defer l.Close()
	for {
		f, err := l.conn.ReadFrame()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.Debug("link read ended", "error", err)
			}
			return
		}
		if f.Type != MsgEvent {
			continue
		}
		l.mu.RLock()
		ch := l.channels[f.Channel]
		l.mu.RUnlock()
		if ch == nil {
			l.logger.Debug("frame for unresolved channel", "channel", f.Channel)
			continue
		}
		args, err := l.codec.Decode(f.Payload)
		if err != nil {
			l.logger.Warn("undecodable payload", "channel", f.Channel, "error", err)
			continue
		}
		ch.dispatch(args)
	}
}

func (l *FrameLink) write(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteFrame(f)
}

type linkChannel struct {
	link     *FrameLink
	name     string
	reliable bool

	subs clientHandlers
}

func (c *linkChannel) Name() string   { return c.name }
func (c *linkChannel) Reliable() bool { return c.reliable }

func (c *linkChannel) Send(ctx context.Context, args Args) error {
	payload, err := c.link.codec.Encode(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	return c.link.write(ctx, Frame{Type: MsgEvent, Channel: c.name, Payload: payload})
}

func (c *linkChannel) Subscribe(h ClientHandler) { c.subs.subscribe(h) }

func (c *linkChannel) dispatch(args Args) { c.subs.dispatch(args) }
