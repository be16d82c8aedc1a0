// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/netevent"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(os.Stderr)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAdminCommands(t *testing.T) {
	ctx := context.Background()
	hub := netevent.NewMemHub()
	srv, err := netevent.NewServer(hub)
	require.NoError(t, err)
	link, err := hub.Connect("alice")
	require.NoError(t, err)
	alice, err := netevent.NewClient(link)
	require.NoError(t, err)
	require.NoError(t, srv.CreateNamespace(ctx, "game"))
	require.NoError(t, srv.CreateEvent(ctx, "game", "move", true))

	handler, err := netevent.AdminHandler(srv)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	out, err := runCLI(t, "admin", "--admin-url", ts.URL, "namespaces")
	require.NoError(t, err)
	var nss netevent.NamespacesReply
	require.NoError(t, json.Unmarshal([]byte(out), &nss))
	require.Len(t, nss.Namespaces, 1)
	assert.Equal(t, "game", nss.Namespaces[0].Name)

	out, err = runCLI(t, "admin", "--admin-url", ts.URL, "allow", "game", "move", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"allowed":true}`, out)
	assert.True(t, srv.Allowed("game", "move", "alice"))

	out, err = runCLI(t, "admin", "--admin-url", ts.URL, "connected")
	require.NoError(t, err)
	assert.JSONEq(t, `{"clients":["alice"]}`, out)

	_, err = runCLI(t, "admin", "--admin-url", ts.URL, "disallow", "game", "nope", "alice")
	require.Error(t, err)

	_, err = runCLI(t, "admin", "--admin-url", ts.URL, "allow", "game")
	require.Error(t, err)

	// Created after alice connected, so she is told.
	_, err = runCLI(t, "admin", "--admin-url", ts.URL, "create-namespace", "lobby")
	require.NoError(t, err)
	out, err = runCLI(t, "admin", "--admin-url", ts.URL, "create-event", "lobby", "chat", "--reliable", "--rate-limit", "7")
	require.NoError(t, err)
	var ev netevent.EventReply
	require.NoError(t, json.Unmarshal([]byte(out), &ev))
	assert.True(t, ev.Event.Reliable)
	assert.Equal(t, 7, ev.Event.RateLimit)
	require.True(t, alice.EventExists("lobby", "chat"))

	got := make(chan netevent.Args, 1)
	alice.OnClientEvent("lobby", "chat", func(args netevent.Args) { got <- args })
	out, err = runCLI(t, "admin", "--admin-url", ts.URL, "fire", "lobby", "chat", `{"x":1}`, "hi", "--client", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"clients":["alice"]}`, out)
	select {
	case args := <-got:
		assert.Equal(t, netevent.Args{map[string]any{"x": 1.0}, "hi"}, args)
	default:
		t.Fatal("alice did not receive the message")
	}

	_, err = runCLI(t, "admin", "--admin-url", ts.URL, "create-event", "lobby", "chat")
	require.Error(t, err)
}
