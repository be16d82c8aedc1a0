// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/luxfi/netevent/logging"
)

// Config defaults.
const (
	DefaultListen       = ":9650"
	DefaultMaxFrameText = "64MiB"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// EventConfig declares one event created at startup.
type EventConfig struct {
	Name      string `mapstructure:"name"`
	Reliable  bool   `mapstructure:"reliable"`
	RateLimit int    `mapstructure:"rate-limit"`
}

// NamespaceConfig declares one namespace and its events.
type NamespaceConfig struct {
	Name   string        `mapstructure:"name"`
	Events []EventConfig `mapstructure:"events"`
}

// Config is the daemon configuration.
type Config struct {
	Transport    string            `mapstructure:"transport"`
	Listen       string            `mapstructure:"listen"`
	AdminListen  string            `mapstructure:"admin-listen"`
	MaxFrameSize string            `mapstructure:"max-frame-size"`
	SendQueue    int               `mapstructure:"send-queue"`
	LogLevel     string            `mapstructure:"log-level"`
	LogFormat    string            `mapstructure:"log-format"`
	Namespaces   []NamespaceConfig `mapstructure:"namespaces"`
}

// DefaultConfig returns a config listening on DefaultListen with the default
// transport and no admin endpoint.
func DefaultConfig() Config {
	return Config{
		Transport:    DefaultTransport,
		Listen:       DefaultListen,
		MaxFrameSize: DefaultMaxFrameText,
		SendQueue:    DefaultSendQueue,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if !HasTransport(c.Transport) {
		return fmt.Errorf("%w: transport %q (available: %s)", ErrInvalidArgument, c.Transport, strings.Join(AvailableTransports(), ", "))
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidArgument)
	}
	if _, err := c.MaxFrameBytes(); err != nil {
		return err
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("%w: send-queue must be positive, got %d", ErrInvalidArgument, c.SendQueue)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log-level %q", ErrInvalidArgument, c.LogLevel)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: log-format %q", ErrInvalidArgument, c.LogFormat)
	}

	seenNS := make(map[string]struct{}, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("%w: namespace without name", ErrInvalidArgument)
		}
		if _, dup := seenNS[ns.Name]; dup {
			return fmt.Errorf("%w: %q", ErrNamespaceExists, ns.Name)
		}
		seenNS[ns.Name] = struct{}{}
		seenEv := make(map[string]struct{}, len(ns.Events))
		for _, ev := range ns.Events {
			if ev.Name == "" {
				return fmt.Errorf("%w: event without name in namespace %q", ErrInvalidArgument, ns.Name)
			}
			if _, dup := seenEv[ev.Name]; dup {
				return fmt.Errorf("%w: %s/%s", ErrEventExists, ns.Name, ev.Name)
			}
			seenEv[ev.Name] = struct{}{}
			if ev.RateLimit < 0 {
				return fmt.Errorf("%w: rate-limit %d for %s/%s", ErrInvalidArgument, ev.RateLimit, ns.Name, ev.Name)
			}
		}
	}
	return nil
}

// MaxFrameBytes parses MaxFrameSize ("64MiB", "1 MB", "65536"). Empty means
// DefaultMaxFrameSize.
func (c Config) MaxFrameBytes() (int, error) {
	if strings.TrimSpace(c.MaxFrameSize) == "" {
		return DefaultMaxFrameSize, nil
	}
	size, err := humanize.ParseBytes(c.MaxFrameSize)
	if err != nil {
		return 0, fmt.Errorf("parse max-frame-size: %w", err)
	}
	if size == 0 || size > 1<<31-1 {
		return 0, fmt.Errorf("%w: max-frame-size %s out of range", ErrInvalidArgument, humanize.IBytes(size))
	}
	return int(size), nil
}

// TransportOptions converts c into Listen options.
func (c Config) TransportOptions(logger logging.Logger) ([]TransportOption, error) {
	maxFrame, err := c.MaxFrameBytes()
	if err != nil {
		return nil, err
	}
	return []TransportOption{
		WithTransport(c.Transport),
		WithMaxFrameSize(maxFrame),
		WithSendQueue(c.SendQueue),
		WithTransportLogger(logger),
	}, nil
}

// Bootstrap creates every configured namespace and event on s. A rate limit
// of zero selects DefaultRateLimit. Only clients connected to s at this point
// hear the announcements.
func (c Config) Bootstrap(ctx context.Context, s *Server) error {
	for _, ns := range c.Namespaces {
		if err := s.CreateNamespace(ctx, ns.Name); err != nil {
			return fmt.Errorf("bootstrap namespace %q: %w", ns.Name, err)
		}
		for _, ev := range ns.Events {
			var limits []int
			if ev.RateLimit > 0 {
				limits = append(limits, ev.RateLimit)
			}
			if err := s.CreateEvent(ctx, ns.Name, ev.Name, ev.Reliable, limits...); err != nil {
				return fmt.Errorf("bootstrap event %s/%s: %w", ns.Name, ev.Name, err)
			}
		}
	}
	return nil
}
