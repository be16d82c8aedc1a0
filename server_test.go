// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFixture struct {
	t      *testing.T
	hub    *MemHub
	server *Server
	logger *recordLogger
	clock  *fakeClock
}

func newMemFixture(t *testing.T, opts ...ServerOption) *memFixture {
	t.Helper()
	f := &memFixture{t: t, hub: NewMemHub(), logger: newRecordLogger(), clock: newFakeClock()}
	opts = append([]ServerOption{WithServerLogger(f.logger), WithClock(f.clock.Now)}, opts...)
	srv, err := NewServer(f.hub, opts...)
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *memFixture) connect(id ClientID) *Client {
	f.t.Helper()
	link, err := f.hub.Connect(id)
	require.NoError(f.t, err)
	c, err := NewClient(link, WithClientLogger(f.logger))
	require.NoError(f.t, err)
	return c
}

// inbox collects client-side deliveries.
type inbox struct {
	mu   sync.Mutex
	msgs []Args
}

func (i *inbox) handler(args Args) {
	i.mu.Lock()
	i.msgs = append(i.msgs, args)
	i.mu.Unlock()
}

func (i *inbox) all() []Args {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Args{}, i.msgs...)
}

// serverInbox collects server-side deliveries.
type serverInbox struct {
	mu   sync.Mutex
	from []ClientID
	msgs []Args
}

func (i *serverInbox) handler(from ClientID, args Args) {
	i.mu.Lock()
	i.from = append(i.from, from)
	i.msgs = append(i.msgs, args)
	i.mu.Unlock()
}

func (i *serverInbox) senders() []ClientID {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]ClientID{}, i.from...)
}

func TestNewServerRequiresHub(t *testing.T) {
	_, err := NewServer(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateEventAnnouncesToConnectedClients(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")

	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", false))

	assert.True(t, f.server.EventExists("game", "move"))
	assert.True(t, alice.NamespaceExists("game"))
	assert.True(t, alice.EventExists("game", "move"))

	nss := f.server.Namespaces()
	require.Len(t, nss, 1)
	require.Len(t, nss[0].Events, 1)
	ev := nss[0].Events[0]
	assert.Equal(t, "move", ev.Name)
	assert.False(t, ev.Reliable)
	assert.Equal(t, DefaultRateLimit, ev.RateLimit)
	assert.NotEqual(t, "move", ev.OpaqueID)

	id, ok := alice.OpaqueID("game", "move")
	require.True(t, ok)
	assert.Equal(t, ev.OpaqueID, id)
}

func TestOpaqueIDsAreDistinct(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	require.NoError(t, f.server.CreateNamespace(ctx, "a"))
	require.NoError(t, f.server.CreateNamespace(ctx, "b"))
	require.NoError(t, f.server.CreateEvent(ctx, "a", "same", true))
	require.NoError(t, f.server.CreateEvent(ctx, "b", "same", true))

	nss := f.server.Namespaces()
	require.Len(t, nss, 2)
	assert.NotEqual(t, nss[0].Events[0].OpaqueID, nss[1].Events[0].OpaqueID)
}

func TestLateJoinerMissesAnnouncements(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	early := f.connect("early")

	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true))

	late := f.connect("late")
	assert.True(t, early.EventExists("game", "move"))
	assert.False(t, late.NamespaceExists("game"))
	assert.False(t, late.EventExists("game", "move"))

	// Anything created after joining is seen.
	require.NoError(t, f.server.CreateEvent(ctx, "game", "chat", true))
	assert.False(t, late.EventExists("game", "chat"), "event in an unknown namespace cannot be mirrored")
	require.NoError(t, f.server.CreateNamespace(ctx, "lobby"))
	assert.True(t, late.NamespaceExists("lobby"))
}

func TestConnectedClientSeesAnnouncementsBeforeSubscribing(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	link, err := f.hub.Connect("bob")
	require.NoError(t, err)

	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true))

	bob, err := NewClient(link, WithClientLogger(f.logger))
	require.NoError(t, err)
	assert.True(t, bob.NamespaceExists("game"))
	assert.True(t, bob.EventExists("game", "move"))

	require.NoError(t, f.server.CreateEvent(ctx, "game", "chat", false))
	assert.True(t, bob.EventExists("game", "chat"))

	got := &inbox{}
	bob.OnClientEvent("game", "move", got.handler)
	f.server.FireClient(ctx, "game", "move", "bob", "hi")
	assert.Equal(t, []Args{{"hi"}}, got.all())
	assert.Empty(t, f.logger.warnings())
}

func TestCreateEventValidation(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))

	t.Run("unknown namespace", func(t *testing.T) {
		err := f.server.CreateEvent(ctx, "missing", "move", true)
		require.ErrorIs(t, err, ErrUnknownNamespace)
		assert.False(t, f.server.EventExists("missing", "move"))
		assert.False(t, alice.EventExists("missing", "move"))
	})

	t.Run("duplicate", func(t *testing.T) {
		require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true, 7))
		before := f.server.Namespaces()

		err := f.server.CreateEvent(ctx, "game", "move", false, 9)
		require.ErrorIs(t, err, ErrEventExists)
		assert.Equal(t, before, f.server.Namespaces())
	})

	t.Run("rate limit", func(t *testing.T) {
		require.ErrorIs(t, f.server.CreateEvent(ctx, "game", "zero", true, 0), ErrInvalidArgument)
		require.ErrorIs(t, f.server.CreateEvent(ctx, "game", "negative", true, -1), ErrInvalidArgument)
		require.ErrorIs(t, f.server.CreateEvent(ctx, "game", "two", true, 1, 2), ErrInvalidArgument)
		assert.False(t, f.server.EventExists("game", "zero"))
	})

	t.Run("duplicate namespace", func(t *testing.T) {
		require.ErrorIs(t, f.server.CreateNamespace(ctx, "game"), ErrNamespaceExists)
		require.ErrorIs(t, f.server.CreateNamespace(ctx, ""), ErrInvalidArgument)
	})
}

func TestCreateEventRollsBackWhenChannelCannotOpen(t *testing.T) {
	ctx := context.Background()
	// The control channel name is already taken on the hub.
	f := newMemFixture(t, WithIDGenerator(func() string { return ControlChannel }))
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))

	err := f.server.CreateEvent(ctx, "game", "move", true)
	require.ErrorIs(t, err, ErrChannelExists)
	assert.False(t, f.server.EventExists("game", "move"))
	assert.True(t, f.server.NamespaceExists("game"))
}

func TestFireModes(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	clients := map[ClientID]*Client{}
	for _, id := range []ClientID{"alice", "bob", "carol"} {
		clients[id] = f.connect(id)
	}
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "tick", false))

	boxes := map[ClientID]*inbox{}
	for id, c := range clients {
		boxes[id] = &inbox{}
		c.OnClientEvent("game", "tick", boxes[id].handler)
	}
	counts := func() map[ClientID]int {
		out := map[ClientID]int{}
		for id, b := range boxes {
			out[id] = len(b.all())
		}
		return out
	}

	f.server.FireClient(ctx, "game", "tick", "bob", 1, "x")
	assert.Equal(t, map[ClientID]int{"alice": 0, "bob": 1, "carol": 0}, counts())
	assert.Equal(t, []Args{{1, "x"}}, boxes["bob"].all())

	f.server.FireAllClients(ctx, "game", "tick", 2)
	assert.Equal(t, map[ClientID]int{"alice": 1, "bob": 2, "carol": 1}, counts())

	f.server.FireAllClientsExcept(ctx, "game", "tick", []ClientID{"alice"}, 3)
	assert.Equal(t, map[ClientID]int{"alice": 1, "bob": 3, "carol": 2}, counts())

	f.server.FireAllClientsExcept(ctx, "game", "tick", nil, 4)
	assert.Equal(t, map[ClientID]int{"alice": 2, "bob": 4, "carol": 3}, counts())

	f.server.FireAllClientsExcept(ctx, "game", "tick", []ClientID{"zed", "carol"}, 5)
	assert.Equal(t, map[ClientID]int{"alice": 3, "bob": 5, "carol": 3}, counts())

	assert.Empty(t, f.logger.warnings())
}

func TestFireOnUnknownEventWarns(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	f.connect("alice")

	f.server.FireClient(ctx, "nope", "tick", "alice")
	f.server.FireAllClients(ctx, "nope", "tick")
	f.server.FireAllClientsExcept(ctx, "nope", "tick", nil)
	f.server.OnServerEvent("nope", "tick", func(ClientID, Args) {})
	f.server.AllowPlayerForEvent("nope", "tick", "alice")
	f.server.DisallowPlayerForEvent("nope", "tick", "alice")

	assert.Len(t, f.logger.warnings(), 6)
}

func TestFireClientNotConnectedWarns(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "tick", true))

	f.server.FireClient(ctx, "game", "tick", "ghost")
	assert.Equal(t, []string{"send failed"}, f.logger.warnings())
}

func TestInboundRequiresAllowList(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true))

	got := &serverInbox{}
	f.server.OnServerEvent("game", "move", got.handler)

	alice.FireServer(ctx, "game", "move", "north")
	assert.Empty(t, got.senders(), "no one is allowed by default")
	assert.Equal(t, []string{"dropped message from client not allowed on event"}, f.logger.warnings())

	f.server.AllowPlayerForEvent("game", "move", "alice")
	f.server.AllowPlayerForEvent("game", "move", "alice")
	assert.True(t, f.server.Allowed("game", "move", "alice"))

	alice.FireServer(ctx, "game", "move", "north")
	bob.FireServer(ctx, "game", "move", "south")
	assert.Equal(t, []ClientID{"alice"}, got.senders())
	assert.Equal(t, []Args{{"north"}}, got.msgs)

	f.server.DisallowPlayerForEvent("game", "move", "alice")
	f.server.DisallowPlayerForEvent("game", "move", "alice")
	alice.FireServer(ctx, "game", "move", "east")
	assert.Equal(t, []ClientID{"alice"}, got.senders())
}

func TestAllowRequiresConnectedClient(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true))
	got := &serverInbox{}
	f.server.OnServerEvent("game", "move", got.handler)

	f.server.AllowPlayerForEvent("game", "move", "dave")
	assert.False(t, f.server.Allowed("game", "move", "dave"))
	assert.Equal(t, []string{"allow-list change for client not connected"}, f.logger.warnings())
	assert.Zero(t, f.server.Namespaces()[0].Events[0].Allowed)

	// dave joined after the announcement, so drive the channel directly.
	link, err := f.hub.Connect("dave")
	require.NoError(t, err)
	ch, err := link.Resolve(ChannelRef{Name: mustOpaqueID(t, f.server, "game", "move"), Reliable: true})
	require.NoError(t, err)
	require.NoError(t, ch.Send(ctx, Args{"early"}))
	assert.Empty(t, got.senders())

	f.server.AllowPlayerForEvent("game", "move", "dave")
	require.NoError(t, ch.Send(ctx, Args{"hi"}))
	assert.Equal(t, []ClientID{"dave"}, got.senders())

	require.NoError(t, link.Close())
	assert.False(t, f.server.Allowed("game", "move", "dave"))
	require.ErrorIs(t, ch.Send(ctx, Args{"again"}), ErrClosed)
}

func TestInboundRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true, 3))
	f.server.AllowPlayerForEvent("game", "move", "alice")

	got := &serverInbox{}
	f.server.OnServerEvent("game", "move", got.handler)

	for i := 0; i < 4; i++ {
		alice.FireServer(ctx, "game", "move", i)
		f.clock.Advance(100 * time.Millisecond)
	}
	require.Len(t, got.senders(), 3)
	assert.Equal(t, []string{"dropped message over rate limit"}, f.logger.warnings())

	// now = 1.05s: 0.0 has left the window, 0.3 was never counted.
	f.clock.Advance(650 * time.Millisecond)
	alice.FireServer(ctx, "game", "move", 4)
	require.Len(t, got.senders(), 4)
	assert.Equal(t, Args{4}, got.msgs[3])
}

func TestRateLimitIsPerClient(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true, 1))
	f.server.AllowPlayerForEvent("game", "move", "alice")
	f.server.AllowPlayerForEvent("game", "move", "bob")

	got := &serverInbox{}
	f.server.OnServerEvent("game", "move", got.handler)

	alice.FireServer(ctx, "game", "move")
	alice.FireServer(ctx, "game", "move")
	bob.FireServer(ctx, "game", "move")
	assert.Equal(t, []ClientID{"alice", "bob"}, got.senders())
}

func TestDisconnectForgetsClientState(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true, 2))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "chat", true))
	f.server.AllowPlayerForEvent("game", "move", "alice")
	f.server.AllowPlayerForEvent("game", "chat", "alice")

	got := &serverInbox{}
	f.server.OnServerEvent("game", "move", got.handler)
	alice.FireServer(ctx, "game", "move")
	alice.FireServer(ctx, "game", "move")
	require.Len(t, got.senders(), 2)

	require.NoError(t, alice.Close())
	assert.False(t, f.server.Allowed("game", "move", "alice"))
	assert.False(t, f.server.Allowed("game", "chat", "alice"))
	assert.Empty(t, f.server.Connected())

	// Same identity, same instant: no allow-list membership and a fresh budget.
	link, err := f.hub.Connect("alice")
	require.NoError(t, err)
	ch, err := link.Resolve(ChannelRef{Name: mustOpaqueID(t, f.server, "game", "move"), Reliable: true})
	require.NoError(t, err)

	require.NoError(t, ch.Send(ctx, Args{}))
	require.Len(t, got.senders(), 2)

	f.server.AllowPlayerForEvent("game", "move", "alice")
	require.NoError(t, ch.Send(ctx, Args{}))
	require.NoError(t, ch.Send(ctx, Args{}))
	assert.Len(t, got.senders(), 4)
}

func TestDisconnectRacingInboundKeepsRegistryIntact(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true, 5))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "chat", false))
	before := f.server.Namespaces()
	ref := ChannelRef{Name: mustOpaqueID(t, f.server, "game", "move"), Reliable: true}

	var delivered atomic.Int64
	f.server.OnServerEvent("game", "move", func(ClientID, Args) { delivered.Add(1) })

	var current atomic.Pointer[MemLink]
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; ; n++ {
				select {
				case <-done:
					return
				default:
				}
				if l := current.Load(); l != nil {
					if ch, err := l.Resolve(ref); err == nil {
						_ = ch.Send(ctx, Args{n})
					}
				}
				f.server.Allowed("game", "move", "alice")
				f.clock.Advance(time.Millisecond)
			}
		}()
	}

	for i := 0; i < 200; i++ {
		link, err := f.hub.Connect("alice")
		require.NoError(t, err)
		f.server.AllowPlayerForEvent("game", "move", "alice")
		f.server.AllowPlayerForEvent("game", "chat", "alice")
		current.Store(link)
		f.hub.Disconnect("alice")
	}
	close(done)
	wg.Wait()

	assert.Equal(t, before, f.server.Namespaces())
	assert.Empty(t, f.server.Connected())
	f.server.mu.Lock()
	for _, rec := range f.server.registry["game"] {
		assert.Empty(t, rec.FireLog, rec.ID)
		assert.Empty(t, rec.Allowed, rec.ID)
	}
	f.server.mu.Unlock()
	t.Logf("%d messages delivered while churning", delivered.Load())
}

func mustOpaqueID(t *testing.T, s *Server, namespace, eventName string) string {
	t.Helper()
	for _, ns := range s.Namespaces() {
		if ns.Name != namespace {
			continue
		}
		for _, ev := range ns.Events {
			if ev.Name == eventName {
				return ev.OpaqueID
			}
		}
	}
	t.Fatalf("no event %s/%s", namespace, eventName)
	return ""
}

func TestServerMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	f := newMemFixture(t, WithMetrics(reg))
	alice := f.connect("alice")
	f.connect("bob")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true, 1))
	f.server.OnServerEvent("game", "move", func(ClientID, Args) {})

	alice.FireServer(ctx, "game", "move")
	f.server.AllowPlayerForEvent("game", "move", "alice")
	alice.FireServer(ctx, "game", "move")
	alice.FireServer(ctx, "game", "move")
	f.server.FireClient(ctx, "game", "move", "bob")
	f.server.FireClient(ctx, "game", "move", "ghost")

	m := f.server.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues(resultUnauthorized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues(resultDelivered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues(resultRateLimited)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outbound.WithLabelValues(modeTargeted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues(modeTargeted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outbound.WithLabelValues(modeAnnounce)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connected))

	require.NoError(t, alice.Close())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))

	_, err := NewServer(NewMemHub(), WithMetrics(reg))
	require.Error(t, err, "registering twice on one registry fails")
}
