// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"encoding/json"
	"fmt"
)

// AnnouncementType tags control channel messages.
type AnnouncementType string

const (
	AnnounceNamespace AnnouncementType = "Namespace"
	AnnounceEvent     AnnouncementType = "Event"
)

// Announcement is the single argument of every control channel message.
// Namespace announcements only carry Namespace.
type Announcement struct {
	Type       AnnouncementType `json:"type"`
	Namespace  string           `json:"namespace"`
	EventName  string           `json:"eventName,omitempty"`
	OpaqueID   string           `json:"opaqueId,omitempty"`
	Reliable   bool             `json:"reliable,omitempty"`
	ChannelRef *ChannelRef      `json:"channelRef,omitempty"`
}

// decodeAnnouncement extracts the announcement from a control message. In
// process transports hand over the struct itself; network transports deliver
// whatever their codec produced, which is normalized through JSON.
func decodeAnnouncement(args Args) (Announcement, error) {
	if len(args) != 1 {
		return Announcement{}, fmt.Errorf("%w: control message with %d args", ErrInvalidArgument, len(args))
	}
	switch v := args[0].(type) {
	case Announcement:
		return v, nil
	case *Announcement:
		if v == nil {
			return Announcement{}, fmt.Errorf("%w: nil announcement", ErrInvalidArgument)
		}
		return *v, nil
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return Announcement{}, fmt.Errorf("encode announcement: %w", err)
	}
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Announcement{}, fmt.Errorf("decode announcement: %w", err)
	}
	return a, nil
}
