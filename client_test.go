// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresLink(t *testing.T) {
	_, err := NewClient(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	assert.Equal(t, ClientID("alice"), alice.ID())

	require.NoError(t, f.server.CreateNamespace(ctx, "chat"))
	require.NoError(t, f.server.CreateEvent(ctx, "chat", "say", true))
	f.server.AllowPlayerForEvent("chat", "say", "alice")

	// Echo back to the sender.
	f.server.OnServerEvent("chat", "say", func(from ClientID, args Args) {
		f.server.FireClient(ctx, "chat", "say", from, append(Args{"echo"}, args...)...)
	})
	got := &inbox{}
	alice.OnClientEvent("chat", "say", got.handler)

	alice.FireServer(ctx, "chat", "say", "hello", 42)
	assert.Equal(t, []Args{{"echo", "hello", 42}}, got.all())
}

func TestClientUnknownEventWarns(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")

	alice.FireServer(ctx, "nope", "say")
	alice.OnClientEvent("nope", "say", func(Args) {})
	_, ok := alice.OpaqueID("nope", "say")
	assert.False(t, ok)
	assert.Equal(t, []string{"fire on unknown event", "listen on unknown event"}, f.logger.warnings())
}

func TestClientRejectsBadAnnouncements(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true))
	f.logger.reset()

	cases := []struct {
		name string
		args Args
	}{
		{"no args", Args{}},
		{"two args", Args{Announcement{}, Announcement{}}},
		{"nil pointer", Args{(*Announcement)(nil)}},
		{"not an object", Args{"Namespace"}},
		{"unknown type", Args{Announcement{Type: "Player", Namespace: "x"}}},
		{"duplicate namespace", Args{Announcement{Type: AnnounceNamespace, Namespace: "game"}}},
		{"event without channel", Args{Announcement{Type: AnnounceEvent, Namespace: "game", EventName: "jump", OpaqueID: "j"}}},
		{"channel never opened", Args{Announcement{
			Type: AnnounceEvent, Namespace: "game", EventName: "jump", OpaqueID: "j",
			ChannelRef: &ChannelRef{Name: "j"},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.logger.reset()
			alice.handleAnnouncement(tc.args)
			assert.Len(t, f.logger.warnings(), 1)
		})
	}

	assert.False(t, alice.EventExists("game", "jump"))
	id, ok := alice.OpaqueID("game", "move")
	require.True(t, ok)
	assert.Equal(t, mustOpaqueID(t, f.server, "game", "move"), id)
}

func TestClientMirrorsNormalizedAnnouncements(t *testing.T) {
	ctx := context.Background()
	f := newMemFixture(t)
	alice := f.connect("alice")
	require.NoError(t, f.server.CreateNamespace(ctx, "game"))
	require.NoError(t, f.server.CreateEvent(ctx, "game", "move", true))
	id := mustOpaqueID(t, f.server, "game", "move")

	// The shape a JSON codec hands back.
	alice.handleAnnouncement(Args{map[string]any{"type": "Namespace", "namespace": "lobby"}})
	assert.True(t, alice.NamespaceExists("lobby"))

	alice.handleAnnouncement(Args{&Announcement{
		Type: AnnounceEvent, Namespace: "lobby", EventName: "move", OpaqueID: id,
		Reliable: true, ChannelRef: &ChannelRef{Name: id, Reliable: true},
	}})
	assert.True(t, alice.EventExists("lobby", "move"))
}
