// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/netevent/logging"
)

// ServerOption configures a Server
type ServerOption func(*serverConfig)

type serverConfig struct {
	logger     logging.Logger
	now        func() time.Time
	newID      func() string
	registerer prometheus.Registerer
}

// WithServerLogger sets the logger used for setup and runtime warnings.
func WithServerLogger(l logging.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithClock replaces time.Now for rate limiting.
func WithClock(now func() time.Time) ServerOption {
	return func(c *serverConfig) { c.now = now }
}

// WithIDGenerator replaces the opaque id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) ServerOption {
	return func(c *serverConfig) { c.newID = fn }
}

// WithMetrics registers server metrics with reg.
func WithMetrics(reg prometheus.Registerer) ServerOption {
	return func(c *serverConfig) { c.registerer = reg }
}

// Server is the registry authority. It creates namespaces and events,
// announces them on the control channel, gates inbound messages with the
// allow-list and rate limit, and forgets per-client state on disconnect.
type Server struct {
	hub     Hub
	control ServerChannel
	logger  logging.Logger
	now     func() time.Time
	newID   func() string
	metrics *metrics

	// announceMu serializes registration with its announcement so every
	// client observes announcements in registration order.
	announceMu sync.Mutex

	mu       sync.Mutex
	registry Registry
}

// NewServer opens the control channel on hub and starts tracking
// disconnects.
func NewServer(hub Hub, opts ...ServerOption) (*Server, error) {
	if hub == nil {
		return nil, fmt.Errorf("%w: nil hub", ErrInvalidArgument)
	}
	cfg := serverConfig{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}
	control, err := hub.Open(ControlChannel, true)
	if err != nil {
		return nil, fmt.Errorf("open control channel: %w", err)
	}
	s := &Server{
		hub:      hub,
		control:  control,
		logger:   logging.Ensure(cfg.logger).With("component", "server"),
		now:      cfg.now,
		newID:    cfg.newID,
		metrics:  m,
		registry: NewRegistry(),
	}
	hub.OnConnect(s.handleConnect)
	hub.OnDisconnect(s.handleDisconnect)
	s.metrics.setConnected(len(hub.Connected()))
	return s, nil
}

// CreateNamespace registers name and announces it to every connected
// client. Clients connecting later are not told about it.
func (s *Server) CreateNamespace(ctx context.Context, name string) error {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	s.mu.Lock()
	err := RegisterNamespace(s.registry, name)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("namespace created", "namespace", name)
	s.announce(ctx, Announcement{Type: AnnounceNamespace, Namespace: name})
	return nil
}

// CreateEvent registers eventName under namespace with a fresh opaque id,
// opens its channel and announces it. rateLimit defaults to
// DefaultRateLimit; at most one value may be given and it must be positive.
func (s *Server) CreateEvent(ctx context.Context, namespace, eventName string, reliable bool, rateLimit ...int) error {
	limit := DefaultRateLimit
	switch len(rateLimit) {
	case 0:
	case 1:
		limit = rateLimit[0]
	default:
		return fmt.Errorf("%w: %d rate limits given for %s/%s", ErrInvalidArgument, len(rateLimit), namespace, eventName)
	}
	if limit <= 0 {
		return fmt.Errorf("%w: rate limit %d for %s/%s", ErrInvalidArgument, limit, namespace, eventName)
	}

	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	id := s.newID()
	s.mu.Lock()
	if err := RegisterEvent(s.registry, namespace, eventName, id, reliable); err != nil {
		s.mu.Unlock()
		return err
	}
	ch, err := s.hub.Open(id, reliable)
	if err == nil {
		err = AttachChannel(s.registry, namespace, eventName, ch)
	}
	if err != nil {
		unregisterEvent(s.registry, namespace, eventName)
		s.mu.Unlock()
		return fmt.Errorf("open channel for %s/%s: %w", namespace, eventName, err)
	}
	rec, _ := Lookup(s.registry, namespace, eventName)
	rec.RateLimit = limit
	rec.FireLog = make(map[ClientID][]time.Time)
	rec.Allowed = make(map[ClientID]struct{})
	s.mu.Unlock()

	s.logger.Info("event created", "namespace", namespace, "event", eventName, "reliable", reliable, "rate_limit", limit)
	s.announce(ctx, Announcement{
		Type:       AnnounceEvent,
		Namespace:  namespace,
		EventName:  eventName,
		OpaqueID:   id,
		Reliable:   reliable,
		ChannelRef: &ChannelRef{Name: id, Reliable: reliable},
	})
	return nil
}

func (s *Server) announce(ctx context.Context, a Announcement) {
	err := s.control.SendAll(ctx, Args{a})
	s.metrics.sent(modeAnnounce, err)
	if err != nil {
		s.logger.Warn("announcement not delivered to every client", "type", a.Type, "namespace", a.Namespace, "event", a.EventName, "error", err)
	}
}

// channelFor returns the attached server channel of an event.
func (s *Server) channelFor(namespace, eventName string) (ServerChannel, bool) {
	s.mu.Lock()
	rec, ok := Lookup(s.registry, namespace, eventName)
	s.mu.Unlock()
	if !ok || rec.Channel == nil {
		return nil, false
	}
	ch, ok := rec.Channel.(ServerChannel)
	return ch, ok
}

// FireClient sends args to target over the event's channel.
func (s *Server) FireClient(ctx context.Context, namespace, eventName string, target ClientID, args ...any) {
	ch, ok := s.channelFor(namespace, eventName)
	if !ok {
		s.logger.Warn("fire on unknown event", "namespace", namespace, "event", eventName, "client", target)
		return
	}
	err := ch.SendTo(ctx, target, Args(args))
	s.metrics.sent(modeTargeted, err)
	if err != nil {
		s.logger.Warn("send failed", "namespace", namespace, "event", eventName, "client", target, "error", err)
	}
}

// FireAllClients sends args to every connected client.
func (s *Server) FireAllClients(ctx context.Context, namespace, eventName string, args ...any) {
	ch, ok := s.channelFor(namespace, eventName)
	if !ok {
		s.logger.Warn("fire on unknown event", "namespace", namespace, "event", eventName)
		return
	}
	err := ch.SendAll(ctx, Args(args))
	s.metrics.sent(modeBroadcast, err)
	if err != nil {
		s.logger.Warn("broadcast incomplete", "namespace", namespace, "event", eventName, "error", err)
	}
}

// FireAllClientsExcept sends args to every connected client not listed in
// excluded. Work is linear in the number of connected clients.
func (s *Server) FireAllClientsExcept(ctx context.Context, namespace, eventName string, excluded []ClientID, args ...any) {
	ch, ok := s.channelFor(namespace, eventName)
	if !ok {
		s.logger.Warn("fire on unknown event", "namespace", namespace, "event", eventName)
		return
	}
	skip := make(map[ClientID]struct{}, len(excluded))
	for _, c := range excluded {
		skip[c] = struct{}{}
	}
	var errs []error
	for _, c := range s.hub.Connected() {
		if _, ok := skip[c]; ok {
			continue
		}
		if err := ch.SendTo(ctx, c, Args(args)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	err := errors.Join(errs...)
	s.metrics.sent(modeExcept, err)
	if err != nil {
		s.logger.Warn("broadcast incomplete", "namespace", namespace, "event", eventName, "error", err)
	}
}

// OnServerEvent subscribes h to inbound messages on the event. Messages from
// clients outside the allow-list or over the rate limit are dropped.
func (s *Server) OnServerEvent(namespace, eventName string, h ServerHandler) {
	ch, ok := s.channelFor(namespace, eventName)
	if !ok {
		s.logger.Warn("listen on unknown event", "namespace", namespace, "event", eventName)
		return
	}
	if h == nil {
		s.logger.Warn("nil handler", "namespace", namespace, "event", eventName)
		return
	}
	ch.Subscribe(func(from ClientID, args Args) {
		if s.admitInbound(namespace, eventName, from) {
			h(from, args)
		}
	})
}

func (s *Server) admitInbound(namespace, eventName string, from ClientID) bool {
	now := s.now()

	s.mu.Lock()
	rec, ok := Lookup(s.registry, namespace, eventName)
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, allowed := rec.Allowed[from]; !allowed {
		s.mu.Unlock()
		s.metrics.inboundResult(resultUnauthorized)
		s.logger.Warn("dropped message from client not allowed on event", "namespace", namespace, "event", eventName, "client", from)
		return false
	}
	log, admitted := admit(rec.FireLog[from], now, rec.RateLimit)
	rec.FireLog[from] = log
	limit := rec.RateLimit
	s.mu.Unlock()

	if !admitted {
		s.metrics.inboundResult(resultRateLimited)
		s.logger.Warn("dropped message over rate limit", "namespace", namespace, "event", eventName, "client", from, "rate_limit", limit)
		return false
	}
	s.metrics.inboundResult(resultDelivered)
	return true
}

// AllowPlayerForEvent lets client send inbound messages on the event. Only
// connected clients can be allowed; membership ends when the client
// disconnects.
func (s *Server) AllowPlayerForEvent(namespace, eventName string, client ClientID) {
	s.setAllowed(namespace, eventName, client, true)
}

// DisallowPlayerForEvent revokes client's permission on the event.
func (s *Server) DisallowPlayerForEvent(namespace, eventName string, client ClientID) {
	s.setAllowed(namespace, eventName, client, false)
}

func (s *Server) setAllowed(namespace, eventName string, client ClientID, allow bool) {
	s.mu.Lock()
	rec, ok := Lookup(s.registry, namespace, eventName)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("allow-list change on unknown event", "namespace", namespace, "event", eventName, "client", client, "allow", allow)
		return
	}
	if !allow {
		delete(rec.Allowed, client)
		s.mu.Unlock()
		return
	}
	// Checked under s.mu: a disconnect that lands after this check purges
	// the entry once its hook gets the lock.
	if !slices.Contains(s.hub.Connected(), client) {
		s.mu.Unlock()
		s.logger.Warn("allow-list change for client not connected", "namespace", namespace, "event", eventName, "client", client)
		return
	}
	rec.Allowed[client] = struct{}{}
	s.mu.Unlock()
}

// Allowed reports whether client is on the event's allow-list.
func (s *Server) Allowed(namespace, eventName string, client ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := Lookup(s.registry, namespace, eventName)
	if !ok {
		return false
	}
	_, allowed := rec.Allowed[client]
	return allowed
}

// NamespaceExists reports whether the namespace has been created.
func (s *Server) NamespaceExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NamespaceExists(s.registry, name)
}

// EventExists reports whether the event has been created.
func (s *Server) EventExists(namespace, eventName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EventExists(s.registry, namespace, eventName)
}

// Connected lists the clients the hub currently reports as connected.
func (s *Server) Connected() []ClientID {
	return s.hub.Connected()
}

// EventInfo describes one registered event.
type EventInfo struct {
	Name      string `json:"name"`
	OpaqueID  string `json:"opaqueId"`
	Reliable  bool   `json:"reliable"`
	RateLimit int    `json:"rateLimit"`
	Allowed   int    `json:"allowed"`
}

// NamespaceInfo describes one namespace and its events.
type NamespaceInfo struct {
	Name   string      `json:"name"`
	Events []EventInfo `json:"events"`
}

// Namespaces returns a sorted snapshot of the registry.
func (s *Server) Namespaces() []NamespaceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NamespaceInfo, 0, len(s.registry))
	for name, events := range s.registry {
		ns := NamespaceInfo{Name: name, Events: make([]EventInfo, 0, len(events))}
		for evName, rec := range events {
			ns.Events = append(ns.Events, newEventInfo(evName, rec))
		}
		sort.Slice(ns.Events, func(i, j int) bool { return ns.Events[i].Name < ns.Events[j].Name })
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) eventInfo(namespace, eventName string) (EventInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := Lookup(s.registry, namespace, eventName)
	if !ok {
		return EventInfo{}, false
	}
	return newEventInfo(eventName, rec), true
}

func newEventInfo(name string, rec *EventRecord) EventInfo {
	return EventInfo{
		Name:      name,
		OpaqueID:  rec.ID,
		Reliable:  rec.Reliable,
		RateLimit: rec.RateLimit,
		Allowed:   len(rec.Allowed),
	}
}

func (s *Server) handleConnect(c ClientID) {
	s.metrics.setConnected(len(s.hub.Connected()))
	s.logger.Debug("client connected", "client", c)
}

// handleDisconnect drops the client's fire logs and allow-list entries on
// every event.
func (s *Server) handleDisconnect(c ClientID) {
	s.mu.Lock()
	for _, events := range s.registry {
		for _, rec := range events {
			delete(rec.FireLog, c)
			delete(rec.Allowed, c)
		}
	}
	s.mu.Unlock()
	s.metrics.setConnected(len(s.hub.Connected()))
	s.logger.Debug("client disconnected", "client", c)
}
