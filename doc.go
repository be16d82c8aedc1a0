// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package netevent provides namespaced, bidirectional event dispatch between
// one authoritative server and many clients.
//
// The server owns a registry of namespaces and events. Every event gets a
// random opaque id that names its wire channel, so clients cannot guess
// channel names. Namespaces and events are announced on a reserved control
// channel and clients mirror them; a client connecting after an announcement
// does not receive it.
//
// Inbound messages are gated per event by an allow-list and a sliding one
// second rate limit per client. Both are forgotten when the client
// disconnects.
//
// # Transport Selection
//
// The controllers only see the Hub and Link interfaces. Three network
// transports share one frame format:
//
//	zap   length-prefixed frames over TCP (default)
//	ws    one binary websocket message per frame
//	grpc  one message per frame on a bidirectional stream
//
// MemHub is an in-process transport with synchronous delivery.
//
// # Usage
//
// Server usage:
//
//	ln, err := netevent.Listen(":9650")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := netevent.NewServer(ln)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go ln.Serve(ctx)
//
//	// once the expected clients have connected
//	_ = srv.CreateNamespace(ctx, "chat")
//	_ = srv.CreateEvent(ctx, "chat", "say", true, 5)
//	srv.OnServerEvent("chat", "say", func(from netevent.ClientID, args netevent.Args) {
//	    srv.FireAllClientsExcept(ctx, "chat", "say", []netevent.ClientID{from}, args...)
//	})
//	for _, id := range srv.Connected() {
//	    srv.AllowPlayerForEvent("chat", "say", id)
//	}
//
// Clients mirror only the announcements made while they are connected, and
// only connected clients can be allowed on an event.
//
// Client usage:
//
//	link, err := netevent.Dial(ctx, "localhost:9650", netevent.WithClientID("alice"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, err := netevent.NewClient(link)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.OnClientEvent("chat", "say", func(args netevent.Args) { ... })
//	c.FireServer(ctx, "chat", "say", "hello")
//
// # Architecture
//
//   - registry.go, ratelimit.go: registry functions and the fire-log window
//   - server.go, client.go: the two controllers
//   - channel.go, announce.go: channel interfaces and control messages
//   - mem.go: in-process transport
//   - frame.go, hub.go, link.go: frame protocol shared by network transports
//   - zap.go, ws.go, dial_grpc.go: network transports
//   - transport.go, dial.go: transport registry, Listen and Dial
//   - admin.go, json.go, options.go: JSON-RPC admin service and client
package netevent
