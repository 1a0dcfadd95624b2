package mux

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatkit/internal/command"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/state"
)

// Wire event names.
const (
	evInitialState    = "initial_state"
	evAddedToRoom     = "added_to_room"
	evRemovedFromRoom = "removed_from_room"
	evRoomUpdated     = "room_updated"
	evRoomDeleted     = "room_deleted"
	evUserJoined      = "user_joined"
	evUserLeft        = "user_left"
	evPresence        = "presence_state"
	evUsersUpdated    = "users_updated"
	evNewMessage      = "new_message"
	evIsTyping        = "is_typing"
	evNewCursor       = "new_cursor"
)

type userInitialState struct {
	CurrentUser *model.User  `json:"current_user"`
	Rooms       []model.Room `json:"rooms"`
	Users       []model.User `json:"users"`
}

type roomInitialState struct {
	Messages []model.Message `json:"messages"`
	Cursors  []model.Cursor  `json:"cursors"`
}

type cursorInitialState struct {
	Cursors []model.Cursor `json:"cursors"`
}

type roomPayload struct {
	Room *model.Room `json:"room"`
}

type roomIDPayload struct {
	RoomID string `json:"room_id"`
}

type membershipPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type presencePayload struct {
	UserID string `json:"user_id"`
	State  string `json:"state"`
}

type usersPayload struct {
	Users []model.User `json:"users"`
}

// ackPayload covers every command acknowledgement shape.
type ackPayload struct {
	Room      *model.Room     `json:"room"`
	RoomID    string          `json:"room_id"`
	Message   *model.Message  `json:"message"`
	MessageID int64           `json:"message_id"`
	Cursor    *model.Cursor   `json:"cursor"`
	Messages  []model.Message `json:"messages"`
	UserIDs   []string        `json:"user_ids"`
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// apply decodes a wire event for sub and applies it to the store.
func apply(st *state.Store, sub *subscription, name string, data json.RawMessage) (state.Outcome, error) {
	switch name {
	case evInitialState:
		return applyInitialState(st, sub, data)

	case evAddedToRoom, evRoomUpdated:
		p, err := decode[roomPayload](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if p.Room == nil || p.Room.ID == "" {
			return state.Outcome{}, fmt.Errorf("missing room")
		}
		if name == evAddedToRoom {
			return st.ApplyAddedToRoom(*p.Room), nil
		}
		return st.ApplyRoomUpdated(*p.Room), nil

	case evRemovedFromRoom, evRoomDeleted:
		p, err := decode[roomIDPayload](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if p.RoomID == "" {
			return state.Outcome{}, fmt.Errorf("missing room_id")
		}
		if name == evRemovedFromRoom {
			return st.ApplyRemovedFromRoom(p.RoomID), nil
		}
		return st.ApplyRoomDeleted(p.RoomID), nil

	case evUserJoined, evUserLeft:
		p, err := decode[membershipPayload](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if p.RoomID == "" && sub.kind == KindRoom {
			p.RoomID = sub.target
		}
		if p.RoomID == "" || p.UserID == "" {
			return state.Outcome{}, fmt.Errorf("missing room_id or user_id")
		}
		if name == evUserJoined {
			return st.ApplyUserJoined(p.RoomID, p.UserID), nil
		}
		return st.ApplyUserLeft(p.RoomID, p.UserID), nil

	case evPresence:
		p, err := decode[presencePayload](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if p.UserID == "" {
			return state.Outcome{}, fmt.Errorf("missing user_id")
		}
		return st.ApplyPresence(p.UserID, model.ParsePresence(p.State)), nil

	case evUsersUpdated:
		p, err := decode[usersPayload](data)
		if err != nil {
			return state.Outcome{}, err
		}
		return st.ApplyUsersUpdated(p.Users), nil

	case evNewMessage:
		m, err := decode[model.Message](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if m.RoomID == "" && sub.kind == KindRoom {
			m.RoomID = sub.target
		}
		if m.ID <= 0 || m.RoomID == "" {
			return state.Outcome{}, fmt.Errorf("message without id or room")
		}
		return st.ApplyNewMessage(m), nil

	case evIsTyping:
		p, err := decode[membershipPayload](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if p.RoomID == "" && sub.kind == KindRoom {
			p.RoomID = sub.target
		}
		if p.RoomID == "" || p.UserID == "" {
			return state.Outcome{}, fmt.Errorf("missing room_id or user_id")
		}
		return st.ApplyTyping(p.RoomID, p.UserID), nil

	case evNewCursor:
		c, err := decode[model.Cursor](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if c.RoomID == "" && sub.kind != KindUser {
			c.RoomID = sub.target
		}
		if c.RoomID == "" || c.UserID == "" {
			return state.Outcome{}, fmt.Errorf("cursor without room_id or user_id")
		}
		return st.ApplyCursor(c), nil
	}
	return state.Outcome{}, fmt.Errorf("unknown event %q", name)
}

func applyInitialState(st *state.Store, sub *subscription, data json.RawMessage) (state.Outcome, error) {
	switch sub.kind {
	case KindUser:
		p, err := decode[userInitialState](data)
		if err != nil {
			return state.Outcome{}, err
		}
		if p.CurrentUser == nil || p.CurrentUser.ID == "" {
			return state.Outcome{}, fmt.Errorf("initial state without current_user")
		}
		out := st.ApplyUsersUpdated(p.Users)
		// Profile changes delivered before the current user exists are not news.
		if st.CurrentUser() == nil {
			out = state.Outcome{}
		}
		out.Merge(st.ApplyUserState(*p.CurrentUser, p.Rooms))
		return out, nil

	case KindRoom:
		p, err := decode[roomInitialState](data)
		if err != nil {
			return state.Outcome{}, err
		}
		out := st.ApplyRoomState(sub.target, p.Messages)
		for i := range p.Cursors {
			if p.Cursors[i].RoomID == "" {
				p.Cursors[i].RoomID = sub.target
			}
		}
		out.Merge(st.ApplyCursors(p.Cursors))
		return out, nil

	case KindCursor:
		p, err := decode[cursorInitialState](data)
		if err != nil {
			return state.Outcome{}, err
		}
		for i := range p.Cursors {
			if p.Cursors[i].RoomID == "" {
				p.Cursors[i].RoomID = sub.target
			}
		}
		return st.ApplyCursors(p.Cursors), nil
	}
	return state.Outcome{}, fmt.Errorf("unknown subscription kind %q", sub.kind)
}

// applyAck applies the state change carried by a command acknowledgement.
func applyAck(st *state.Store, name string, data json.RawMessage) (state.Outcome, error) {
	if len(data) == 0 {
		return state.Outcome{}, nil
	}
	p, err := decode[ackPayload](data)
	if err != nil {
		return state.Outcome{}, err
	}
	switch name {
	case command.SendMessage:
		if p.Message != nil {
			return st.ApplyNewMessage(*p.Message), nil
		}
	case command.JoinRoom, command.CreateRoom:
		if p.Room != nil {
			return st.ApplyAddedToRoom(*p.Room), nil
		}
	case command.UpdateRoom:
		if p.Room != nil {
			return st.ApplyRoomUpdated(*p.Room), nil
		}
	case command.LeaveRoom:
		if p.RoomID != "" {
			return st.ApplyRemovedFromRoom(p.RoomID), nil
		}
	case command.DeleteRoom:
		if p.RoomID != "" {
			return st.ApplyRoomDeleted(p.RoomID), nil
		}
	case command.AddUsersToRoom:
		var out state.Outcome
		for _, id := range p.UserIDs {
			out.Merge(st.ApplyUserJoined(p.RoomID, id))
		}
		return out, nil
	case command.RemoveUsersFromRoom:
		var out state.Outcome
		for _, id := range p.UserIDs {
			out.Merge(st.ApplyUserLeft(p.RoomID, id))
		}
		return out, nil
	case command.SetCursor:
		if p.Cursor != nil {
			return st.ApplyCursor(*p.Cursor), nil
		}
	}
	return state.Outcome{}, nil
}
