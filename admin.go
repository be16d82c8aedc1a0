// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// AdminServiceName is the JSON-RPC service name methods are registered under.
const AdminServiceName = "Admin"

// EmptyArgs is the argument of methods that take none.
type EmptyArgs struct{}

// NamespacesReply is the result of Admin.Namespaces.
type NamespacesReply struct {
	Namespaces []NamespaceInfo `json:"namespaces"`
}

// ConnectedReply is the result of Admin.Connected.
type ConnectedReply struct {
	Clients []ClientID `json:"clients"`
}

// AllowArgs names one client on one event.
type AllowArgs struct {
	Namespace string   `json:"namespace"`
	Event     string   `json:"event"`
	Client    ClientID `json:"client"`
}

// AllowReply reports the allow-list membership after the call.
type AllowReply struct {
	Allowed bool `json:"allowed"`
}

// CreateNamespaceArgs names a namespace to create.
type CreateNamespaceArgs struct {
	Namespace string `json:"namespace"`
}

// CreateEventArgs describes an event to create. A zero RateLimit selects
// DefaultRateLimit.
type CreateEventArgs struct {
	Namespace string `json:"namespace"`
	Event     string `json:"event"`
	Reliable  bool   `json:"reliable"`
	RateLimit int    `json:"rateLimit"`
}

// EventReply describes the event after Admin.CreateEvent.
type EventReply struct {
	Event EventInfo `json:"event"`
}

// FireArgs sends Args on an event, to Client only when it is set.
type FireArgs struct {
	Namespace string   `json:"namespace"`
	Event     string   `json:"event"`
	Client    ClientID `json:"client,omitempty"`
	Args      Args     `json:"args"`
}

// FireReply lists the clients connected when the message was sent.
type FireReply struct {
	Clients []ClientID `json:"clients"`
}

// AdminService exposes a Server over JSON-RPC 2.0.
type AdminService struct {
	server *Server
}

// Namespaces returns a snapshot of the registry.
func (a *AdminService) Namespaces(_ *http.Request, _ *EmptyArgs, reply *NamespacesReply) error {
	reply.Namespaces = a.server.Namespaces()
	return nil
}

// Connected lists connected clients.
func (a *AdminService) Connected(_ *http.Request, _ *EmptyArgs, reply *ConnectedReply) error {
	reply.Clients = a.server.Connected()
	if reply.Clients == nil {
		reply.Clients = []ClientID{}
	}
	return nil
}

// Allow adds a client to an event's allow-list.
func (a *AdminService) Allow(_ *http.Request, args *AllowArgs, reply *AllowReply) error {
	if err := a.checkEvent(args); err != nil {
		return err
	}
	a.server.AllowPlayerForEvent(args.Namespace, args.Event, args.Client)
	reply.Allowed = a.server.Allowed(args.Namespace, args.Event, args.Client)
	return nil
}

// Disallow removes a client from an event's allow-list.
func (a *AdminService) Disallow(_ *http.Request, args *AllowArgs, reply *AllowReply) error {
	if err := a.checkEvent(args); err != nil {
		return err
	}
	a.server.DisallowPlayerForEvent(args.Namespace, args.Event, args.Client)
	reply.Allowed = a.server.Allowed(args.Namespace, args.Event, args.Client)
	return nil
}

// CreateNamespace registers a namespace and announces it to the clients
// connected now.
func (a *AdminService) CreateNamespace(r *http.Request, args *CreateNamespaceArgs, reply *NamespacesReply) error {
	if err := a.server.CreateNamespace(r.Context(), args.Namespace); err != nil {
		return registrationError(err)
	}
	reply.Namespaces = a.server.Namespaces()
	return nil
}

// CreateEvent registers an event and announces it to the clients connected
// now.
func (a *AdminService) CreateEvent(r *http.Request, args *CreateEventArgs, reply *EventReply) error {
	limit := args.RateLimit
	if limit == 0 {
		limit = DefaultRateLimit
	}
	if err := a.server.CreateEvent(r.Context(), args.Namespace, args.Event, args.Reliable, limit); err != nil {
		return registrationError(err)
	}
	info, _ := a.server.eventInfo(args.Namespace, args.Event)
	reply.Event = info
	return nil
}

// Fire sends args to one client or, with no client given, to every
// connected client.
func (a *AdminService) Fire(r *http.Request, args *FireArgs, reply *FireReply) error {
	if !a.server.EventExists(args.Namespace, args.Event) {
		return unknownEvent(args.Namespace, args.Event)
	}
	if args.Client != "" {
		a.server.FireClient(r.Context(), args.Namespace, args.Event, args.Client, args.Args...)
	} else {
		a.server.FireAllClients(r.Context(), args.Namespace, args.Event, args.Args...)
	}
	reply.Clients = a.server.Connected()
	if reply.Clients == nil {
		reply.Clients = []ClientID{}
	}
	return nil
}

func (a *AdminService) checkEvent(args *AllowArgs) error {
	if args.Client == "" {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "client is required"}
	}
	if !a.server.EventExists(args.Namespace, args.Event) {
		return unknownEvent(args.Namespace, args.Event)
	}
	return nil
}

func unknownEvent(namespace, eventName string) error {
	return &json2.Error{
		Code:    json2.E_BAD_PARAMS,
		Message: fmt.Sprintf("unknown event %s/%s", namespace, eventName),
	}
}

// registrationError maps caller mistakes to E_BAD_PARAMS.
func registrationError(err error) error {
	code := json2.E_SERVER
	for _, target := range []error{ErrInvalidArgument, ErrNamespaceExists, ErrUnknownNamespace, ErrEventExists} {
		if errors.Is(err, target) {
			code = json2.E_BAD_PARAMS
			break
		}
	}
	return &json2.Error{Code: code, Message: err.Error()}
}

// AdminHandler serves the Admin service for s. Requests must be POSTs with
// Content-Type application/json.
func AdminHandler(s *Server) (http.Handler, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil server", ErrInvalidArgument)
	}
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&AdminService{server: s}, AdminServiceName); err != nil {
		return nil, fmt.Errorf("register admin service: %w", err)
	}
	return rpcServer, nil
}
