// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"encoding/json"
	"fmt"
)

// Codec encodes and decodes Args for network transports.
type Codec interface {
	Encode(args Args) ([]byte, error)
	Decode(data []byte) (Args, error)
}

// JSONCodec encodes Args as a JSON array. Numbers decode as float64 and
// objects as map[string]any.
type JSONCodec struct{}

func (JSONCodec) Encode(args Args) ([]byte, error) {
	if args == nil {
		args = Args{}
	}
	return json.Marshal(args)
}

func (JSONCodec) Decode(data []byte) (Args, error) {
	var args Args
	if len(data) == 0 {
		return Args{}, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = JSONCodec{}

const (
	binaryRaw  byte = 0x00
	binaryJSON byte = 0x01
)

// BinaryCodec passes a single []byte argument through unchanged (for
// pre-encoded payloads) and falls back to JSON for everything else.
type BinaryCodec struct{}

func (BinaryCodec) Encode(args Args) ([]byte, error) {
	if len(args) == 1 {
		if b, ok := args[0].([]byte); ok {
			out := make([]byte, 1+len(b))
			out[0] = binaryRaw
			copy(out[1:], b)
			return out, nil
		}
	}
	body, err := JSONCodec{}.Encode(args)
	if err != nil {
		return nil, err
	}
	return append([]byte{binaryJSON}, body...), nil
}

func (BinaryCodec) Decode(data []byte) (Args, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty binary payload", ErrInvalidArgument)
	}
	switch data[0] {
	case binaryRaw:
		b := make([]byte, len(data)-1)
		copy(b, data[1:])
		return Args{b}, nil
	case binaryJSON:
		return JSONCodec{}.Decode(data[1:])
	default:
		return nil, fmt.Errorf("%w: binary payload tag %#x", ErrInvalidArgument, data[0])
	}
}

// Binary is a codec that passes bytes through unchanged
var Binary Codec = BinaryCodec{}
