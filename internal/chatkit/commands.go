package chatkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatkit/internal/command"
	"github.com/matheus3301/chatkit/internal/model"
)

// ackBody is the union of command acknowledgement payloads.
type ackBody struct {
	Room      *model.Room     `json:"room"`
	RoomID    string          `json:"room_id"`
	Message   *model.Message  `json:"message"`
	MessageID int64           `json:"message_id"`
	Messages  []model.Message `json:"messages"`
	Rooms     []model.Room    `json:"rooms"`
}

// RoomUpdate lists the room fields to change; nil fields are left alone.
type RoomUpdate struct {
	Name       *string        `json:"name,omitempty"`
	Private    *bool          `json:"private,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

// Direction of a message history page.
type Direction string

const (
	Older Direction = "older"
	Newer Direction = "newer"
)

// FetchOptions selects a page of room history. A zero Initial starts from
// the newest message.
type FetchOptions struct {
	Initial   int64
	Direction Direction
	Limit     int
}

// do runs a command once the session is usable and decodes its ack.
func (s *Session) do(ctx context.Context, name string, body any) (ackBody, error) {
	var ack ackBody
	if err := s.usable(); err != nil {
		return ack, err
	}
	data, err := s.dispatcher.Do(ctx, name, body)
	if err != nil {
		return ack, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ack); err != nil {
			return ack, &model.ProtocolError{EventName: name, Err: err}
		}
	}
	return ack, nil
}

func (s *Session) requireRoom(roomID string) error {
	if _, ok := s.store.Room(roomID); !ok {
		return fmt.Errorf("room %s: %w", roomID, model.ErrUnknownRoom)
	}
	return nil
}

// SendMessage posts text (and an optional attachment) to a room and returns
// the server-assigned message id. The message reaches listeners through the
// same path as a message from anyone else, exactly once.
func (s *Session) SendMessage(ctx context.Context, roomID, text string, att *model.Attachment) (int64, error) {
	if err := s.requireRoom(roomID); err != nil {
		return 0, err
	}
	ack, err := s.do(ctx, command.SendMessage, map[string]any{
		"room_id":    roomID,
		"text":       text,
		"attachment": att,
	})
	if err != nil {
		return 0, err
	}
	if ack.MessageID == 0 && ack.Message != nil {
		return ack.Message.ID, nil
	}
	return ack.MessageID, nil
}

// JoinRoom adds the current user to a room.
func (s *Session) JoinRoom(ctx context.Context, roomID string) (model.Room, error) {
	ack, err := s.do(ctx, command.JoinRoom, map[string]any{"room_id": roomID})
	if err != nil {
		return model.Room{}, err
	}
	return s.roomFromAck(roomID, ack)
}

// LeaveRoom removes the current user from a room.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	_, err := s.do(ctx, command.LeaveRoom, map[string]any{"room_id": roomID})
	return err
}

// CreateRoom creates a room owned by the current user with the given extra
// members.
func (s *Session) CreateRoom(ctx context.Context, name string, private bool, memberIDs []string) (model.Room, error) {
	ack, err := s.do(ctx, command.CreateRoom, map[string]any{
		"name":            name,
		"private":         private,
		"user_ids_to_add": memberIDs,
	})
	if err != nil {
		return model.Room{}, err
	}
	if ack.Room == nil {
		return model.Room{}, &model.ProtocolError{EventName: command.CreateRoom, Err: fmt.Errorf("ack without room")}
	}
	return s.roomFromAck(ack.Room.ID, ack)
}

// UpdateRoom changes a room's metadata.
func (s *Session) UpdateRoom(ctx context.Context, roomID string, upd RoomUpdate) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	_, err := s.do(ctx, command.UpdateRoom, struct {
		RoomID string `json:"room_id"`
		RoomUpdate
	}{roomID, upd})
	return err
}

// DeleteRoom deletes a room for every member.
func (s *Session) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	_, err := s.do(ctx, command.DeleteRoom, map[string]any{"room_id": roomID})
	return err
}

// AddUsersToRoom adds members to a room. The membership change is applied
// before the call returns.
func (s *Session) AddUsersToRoom(ctx context.Context, roomID string, userIDs []string) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	_, err := s.do(ctx, command.AddUsersToRoom, map[string]any{"room_id": roomID, "user_ids": userIDs})
	return err
}

// RemoveUsersFromRoom removes members from a room.
func (s *Session) RemoveUsersFromRoom(ctx context.Context, roomID string, userIDs []string) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	_, err := s.do(ctx, command.RemoveUsersFromRoom, map[string]any{"room_id": roomID, "user_ids": userIDs})
	return err
}

// JoinableRooms lists the public rooms the current user could join. The
// result is not applied to the session state.
func (s *Session) JoinableRooms(ctx context.Context) ([]model.Room, error) {
	ack, err := s.do(ctx, command.JoinableRooms, map[string]any{})
	if err != nil {
		return nil, err
	}
	return ack.Rooms, nil
}

// SetCursor marks position as the last message the current user read in
// roomID.
func (s *Session) SetCursor(ctx context.Context, roomID string, position int64) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	_, err := s.do(ctx, command.SetCursor, map[string]any{
		"room_id":     roomID,
		"position":    position,
		"cursor_type": 0,
	})
	return err
}

// StartTyping tells the room's members the current user is typing. Calls
// within TypingThrottle of the last sent notification for the same room are
// absorbed.
func (s *Session) StartTyping(ctx context.Context, roomID string) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	if last, ok := s.lastTyping[roomID]; ok && now.Sub(last) < TypingThrottle {
		s.mu.Unlock()
		return nil
	}
	s.lastTyping[roomID] = now
	s.mu.Unlock()

	_, err := s.do(ctx, command.Typing, map[string]any{"room_id": roomID})
	if err != nil {
		s.mu.Lock()
		delete(s.lastTyping, roomID)
		s.mu.Unlock()
	}
	return err
}

// FetchMessages reads a page of room history. The page is returned to the
// caller and not replayed to listeners.
func (s *Session) FetchMessages(ctx context.Context, roomID string, opts FetchOptions) ([]model.Message, error) {
	if err := s.requireRoom(roomID); err != nil {
		return nil, err
	}
	body := map[string]any{"room_id": roomID}
	if opts.Limit > 0 {
		body["limit"] = opts.Limit
	}
	if opts.Initial > 0 {
		if opts.Direction == Newer {
			body["after_id"] = opts.Initial
		} else {
			body["before_id"] = opts.Initial
		}
	}
	ack, err := s.do(ctx, command.FetchMessages, body)
	if err != nil {
		return nil, err
	}
	return ack.Messages, nil
}

// roomFromAck prefers the applied store view, which carries local fields
// such as the unread count.
func (s *Session) roomFromAck(roomID string, ack ackBody) (model.Room, error) {
	if r, ok := s.store.Room(roomID); ok {
		return r, nil
	}
	if ack.Room != nil {
		return ack.Room.Clone(), nil
	}
	return model.Room{}, fmt.Errorf("room %s: %w", roomID, model.ErrUnknownRoom)
}
