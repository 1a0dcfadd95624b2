package fanout

import "github.com/matheus3301/chatkit/internal/model"

// Listeners is a per-kind handler table. Kinds without a handler are ignored.
type Listeners struct {
	handlers map[model.EventKind]func(model.Event)
}

// NewListeners returns an empty table.
func NewListeners() *Listeners {
	return &Listeners{handlers: make(map[model.EventKind]func(model.Event))}
}

// On sets the handler for kind, replacing any previous one.
func (l *Listeners) On(kind model.EventKind, fn func(model.Event)) *Listeners {
	l.handlers[kind] = fn
	return l
}

// Dispatch implements model.Listener.
func (l *Listeners) Dispatch(e model.Event) {
	if fn, ok := l.handlers[e.Kind]; ok && fn != nil {
		fn(e)
	}
}

func (l *Listeners) OnCurrentUser(fn func(model.CurrentUser)) *Listeners {
	return l.On(model.CurrentUserReceived, func(e model.Event) {
		if e.CurrentUser != nil {
			fn(*e.CurrentUser)
		}
	})
}

func (l *Listeners) OnError(fn func(error)) *Listeners {
	return l.On(model.ErrorOccurred, func(e model.Event) { fn(e.Err) })
}

func (l *Listeners) OnNewMessage(fn func(model.Message)) *Listeners {
	return l.On(model.NewMessage, func(e model.Event) {
		if e.Message != nil {
			fn(*e.Message)
		}
	})
}

func (l *Listeners) OnAddedToRoom(fn func(model.Room)) *Listeners {
	return l.On(model.AddedToRoom, roomHandler(fn))
}

// OnRemovedFromRoom receives the room id; the room snapshot, when the
// subscription asked for it, is on the event.
func (l *Listeners) OnRemovedFromRoom(fn func(roomID string)) *Listeners {
	return l.On(model.RemovedFromRoom, func(e model.Event) { fn(e.RoomID) })
}

func (l *Listeners) OnRoomUpdated(fn func(model.Room)) *Listeners {
	return l.On(model.RoomUpdated, roomHandler(fn))
}

func (l *Listeners) OnRoomDeleted(fn func(roomID string)) *Listeners {
	return l.On(model.RoomDeleted, func(e model.Event) { fn(e.RoomID) })
}

func (l *Listeners) OnUserJoined(fn func(roomID string, u model.User)) *Listeners {
	return l.On(model.UserJoinedRoom, userInRoomHandler(fn))
}

func (l *Listeners) OnUserLeft(fn func(roomID string, u model.User)) *Listeners {
	return l.On(model.UserLeftRoom, userInRoomHandler(fn))
}

func (l *Listeners) OnUserCameOnline(fn func(model.User)) *Listeners {
	return l.On(model.UserCameOnline, userHandler(fn))
}

func (l *Listeners) OnUserWentOffline(fn func(model.User)) *Listeners {
	return l.On(model.UserWentOffline, userHandler(fn))
}

func (l *Listeners) OnUsersUpdated(fn func([]model.User)) *Listeners {
	return l.On(model.UsersUpdated, func(e model.Event) { fn(e.Users) })
}

func (l *Listeners) OnCursorSet(fn func(model.Cursor)) *Listeners {
	return l.On(model.CursorSet, func(e model.Event) {
		if e.Cursor != nil {
			fn(*e.Cursor)
		}
	})
}

func (l *Listeners) OnUserStartedTyping(fn func(roomID string, u model.User)) *Listeners {
	return l.On(model.UserStartedTyping, userInRoomHandler(fn))
}

func (l *Listeners) OnUserStoppedTyping(fn func(roomID string, u model.User)) *Listeners {
	return l.On(model.UserStoppedTyping, userInRoomHandler(fn))
}

func roomHandler(fn func(model.Room)) func(model.Event) {
	return func(e model.Event) {
		if e.Room != nil {
			fn(*e.Room)
		}
	}
}

func userHandler(fn func(model.User)) func(model.Event) {
	return func(e model.Event) {
		if e.User != nil {
			fn(*e.User)
		}
	}
}

func userInRoomHandler(fn func(string, model.User)) func(model.Event) {
	return func(e model.Event) {
		if e.User != nil {
			fn(e.RoomID, *e.User)
		}
	}
}
