package model

import "time"

// EventKind discriminates the single Event type delivered to listeners.
type EventKind string

const (
	CurrentUserReceived EventKind = "current_user_received"
	ErrorOccurred       EventKind = "error"
	AddedToRoom         EventKind = "added_to_room"
	RemovedFromRoom     EventKind = "removed_from_room"
	RoomUpdated         EventKind = "room_updated"
	RoomDeleted         EventKind = "room_deleted"
	UserJoinedRoom      EventKind = "user_joined_room"
	UserLeftRoom        EventKind = "user_left_room"
	UserCameOnline      EventKind = "user_came_online"
	UserWentOffline     EventKind = "user_went_offline"
	UsersUpdated        EventKind = "users_updated"
	NewMessage          EventKind = "new_message"
	CursorSet           EventKind = "cursor_set"
	UserStartedTyping   EventKind = "user_started_typing"
	UserStoppedTyping   EventKind = "user_stopped_typing"
)

// Kinds lists every event kind in declaration order.
var Kinds = []EventKind{
	CurrentUserReceived, ErrorOccurred, AddedToRoom, RemovedFromRoom, RoomUpdated,
	RoomDeleted, UserJoinedRoom, UserLeftRoom, UserCameOnline, UserWentOffline,
	UsersUpdated, NewMessage, CursorSet, UserStartedTyping, UserStoppedTyping,
}

// Event is a derived state change delivered to a listener. Which fields are set
// depends on Kind.
type Event struct {
	Kind           EventKind
	SubscriptionID string
	// Seq is assigned per subscription when the event is applied.
	Seq         uint64
	At          time.Time
	RoomID      string
	Room        *Room
	User        *User
	Users       []User
	CurrentUser *CurrentUser
	Message     *Message
	Cursor      *Cursor
	Err         error
}

// Global reports whether the event is relevant outside a single room's view.
func (e Event) Global() bool {
	return e.Kind != NewMessage
}

// Listener receives events for one subscription.
type Listener interface {
	Dispatch(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Dispatch(e Event) { f(e) }
