package model

import (
	"slices"
	"time"
)

// Presence is a user's global online state.
type Presence string

const (
	PresenceUnknown Presence = "unknown"
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// ParsePresence maps a wire presence string to a Presence.
func ParsePresence(s string) Presence {
	switch s {
	case "online":
		return PresenceOnline
	case "offline":
		return PresenceOffline
	default:
		return PresenceUnknown
	}
}

// User is a chat participant. Users are never deleted, only marked offline.
type User struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	AvatarURL  string         `json:"avatar_url,omitempty"`
	Presence   Presence       `json:"presence,omitempty"`
	LastSeenAt time.Time      `json:"last_seen_at,omitzero"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitzero"`
	UpdatedAt  time.Time      `json:"updated_at,omitzero"`
}

// Room is a chat room with a membership set.
type Room struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	CreatedByID string         `json:"created_by_id"`
	Private     bool           `json:"private"`
	MemberIDs   []string       `json:"member_user_ids,omitempty"`
	CustomData  map[string]any `json:"custom_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
	UpdatedAt   time.Time      `json:"updated_at,omitzero"`
	UnreadCount int            `json:"unread_count,omitempty"`
}

// HasMember reports whether userID is in the room's membership set.
func (r *Room) HasMember(userID string) bool {
	return slices.Contains(r.MemberIDs, userID)
}

// Clone returns a deep copy of the room.
func (r Room) Clone() Room {
	r.MemberIDs = slices.Clone(r.MemberIDs)
	return r
}

// Attachment describes message media stored out of band.
type Attachment struct {
	Link          string `json:"resource_link"`
	Type          string `json:"type"`
	FetchRequired bool   `json:"fetch_required,omitempty"`
}

// FetchedAttachment is the resolved download link of an attachment.
type FetchedAttachment struct {
	Link string        `json:"resource_link"`
	TTL  time.Duration `json:"ttl"`
}

// Message is an immutable room message. IDs increase monotonically per room.
type Message struct {
	ID         int64       `json:"id"`
	SenderID   string      `json:"user_id"`
	RoomID     string      `json:"room_id"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitzero"`
	UpdatedAt  time.Time   `json:"updated_at,omitzero"`
}

// Cursor is a user's read position in a room.
type Cursor struct {
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Position  int64     `json:"position"`
	Type      int       `json:"cursor_type"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// CurrentUser is the local actor together with its authoritative room list.
type CurrentUser struct {
	User
	RoomIDs []string `json:"room_ids"`
}
