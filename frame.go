// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrInvalidFrame = errors.New("netevent: invalid frame")

// DefaultMaxFrameSize bounds a single frame body.
const DefaultMaxFrameSize = 64 * 1024 * 1024

// MessageType identifies frame types
type MessageType uint8

const (
	MsgHello   MessageType = 0x01 // client -> server, payload: proposed client id (may be empty)
	MsgWelcome MessageType = 0x02 // server -> client, payload: assigned client id
	MsgReject  MessageType = 0x03 // server -> client, payload: reason
	MsgEvent   MessageType = 0x04 // both ways, channel: opaque id, payload: encoded Args
)

func (t MessageType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgWelcome:
		return "welcome"
	case MsgReject:
		return "reject"
	case MsgEvent:
		return "event"
	default:
		return fmt.Sprintf("type(%#x)", uint8(t))
	}
}

// Frame is one message on a link.
type Frame struct {
	Type    MessageType
	Channel string
	Payload []byte
}

// frameConn is a bidirectional frame stream. ReadFrame is called from one
// goroutine and WriteFrame from one goroutine at a time.
type frameConn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
	RemoteAddr() string
}

// maxHelloFrame bounds the first frame read from an unidentified peer.
const maxHelloFrame = 64 << 10

// readLimiter is implemented by connections that can bound the size of the
// frames they accept.
type readLimiter interface {
	setReadLimit(n int)
}

// encodeFrame lays out a frame body as [1 type][2 nameLen][name][payload].
func encodeFrame(f Frame) ([]byte, error) {
	if len(f.Channel) > 0xFFFF {
		return nil, fmt.Errorf("%w: channel name too long (%d)", ErrInvalidFrame, len(f.Channel))
	}
	buf := make([]byte, 3+len(f.Channel)+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(f.Channel)))
	copy(buf[3:], f.Channel)
	copy(buf[3+len(f.Channel):], f.Payload)
	return buf, nil
}

// decodeFrame parses a frame body produced by encodeFrame. The payload
// aliases msg.
func decodeFrame(msg []byte) (Frame, error) {
	if len(msg) < 3 {
		return Frame{}, fmt.Errorf("%w: %d byte body", ErrInvalidFrame, len(msg))
	}
	nameLen := int(binary.BigEndian.Uint16(msg[1:3]))
	if len(msg) < 3+nameLen {
		return Frame{}, fmt.Errorf("%w: channel name overruns body", ErrInvalidFrame)
	}
	return Frame{
		Type:    MessageType(msg[0]),
		Channel: string(msg[3 : 3+nameLen]),
		Payload: msg[3+nameLen:],
	}, nil
}
