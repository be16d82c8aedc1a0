// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidArgument  = errors.New("netevent: invalid argument")
	ErrNamespaceExists  = errors.New("netevent: namespace already registered")
	ErrUnknownNamespace = errors.New("netevent: unknown namespace")
	ErrEventExists      = errors.New("netevent: event already registered")
	ErrUnknownEvent     = errors.New("netevent: unknown event")
	ErrChannelAttached  = errors.New("netevent: channel already attached")
)

// DefaultRateLimit is the inbound message budget per client per second
// applied when an event is created without an explicit limit.
const DefaultRateLimit = 50

// ClientID identifies a connected client endpoint.
type ClientID string

// EventRecord is the registry entry for one event. FireLog and Allowed are
// only populated on the server; a client mirror leaves them nil.
type EventRecord struct {
	ID        string
	Reliable  bool
	Channel   Channel
	RateLimit int
	FireLog   map[ClientID][]time.Time
	Allowed   map[ClientID]struct{}
}

// Registry maps namespace -> event name -> record. It is owned by exactly one
// controller; the functions below never lock.
type Registry map[string]map[string]*EventRecord

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// RegisterNamespace inserts an empty namespace.
func RegisterNamespace(reg Registry, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty namespace", ErrInvalidArgument)
	}
	if _, ok := reg[name]; ok {
		return fmt.Errorf("%w: %q", ErrNamespaceExists, name)
	}
	reg[name] = make(map[string]*EventRecord)
	return nil
}

// RegisterEvent inserts a record with no channel attached.
func RegisterEvent(reg Registry, namespace, eventName, opaqueID string, reliable bool) error {
	switch {
	case namespace == "":
		return fmt.Errorf("%w: empty namespace", ErrInvalidArgument)
	case eventName == "":
		return fmt.Errorf("%w: empty event name", ErrInvalidArgument)
	case opaqueID == "":
		return fmt.Errorf("%w: empty opaque id for %s/%s", ErrInvalidArgument, namespace, eventName)
	}
	events, ok := reg[namespace]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	if _, ok := events[eventName]; ok {
		return fmt.Errorf("%w: %s/%s", ErrEventExists, namespace, eventName)
	}
	events[eventName] = &EventRecord{
		ID:        opaqueID,
		Reliable:  reliable,
		RateLimit: DefaultRateLimit,
	}
	return nil
}

// AttachChannel sets the channel of a registered event. It is the only
// mutation allowed after registration and succeeds at most once per event.
func AttachChannel(reg Registry, namespace, eventName string, ch Channel) error {
	events, ok := reg[namespace]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	rec, ok := events[eventName]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownEvent, namespace, eventName)
	}
	if ch == nil {
		return fmt.Errorf("%w: nil channel for %s/%s", ErrInvalidArgument, namespace, eventName)
	}
	if rec.Channel != nil {
		return fmt.Errorf("%w: %s/%s", ErrChannelAttached, namespace, eventName)
	}
	rec.Channel = ch
	return nil
}

// NamespaceExists reports whether name is registered.
func NamespaceExists(reg Registry, name string) bool {
	_, ok := reg[name]
	return ok
}

// EventExists reports whether eventName is registered under namespace.
func EventExists(reg Registry, namespace, eventName string) bool {
	_, ok := Lookup(reg, namespace, eventName)
	return ok
}

// Lookup returns the record for namespace/eventName.
func Lookup(reg Registry, namespace, eventName string) (*EventRecord, bool) {
	events, ok := reg[namespace]
	if !ok {
		return nil, false
	}
	rec, ok := events[eventName]
	return rec, ok
}

// unregisterEvent undoes RegisterEvent for a record whose channel could not
// be opened. It is not part of the public lifecycle.
func unregisterEvent(reg Registry, namespace, eventName string) {
	if events, ok := reg[namespace]; ok {
		delete(events, eventName)
	}
}
