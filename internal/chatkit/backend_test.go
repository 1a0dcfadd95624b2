package chatkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/transport"
)

// fakeBackend is an in-process realtime server holding just enough state for
// session tests. Writes to a socket are serialized by its liveConn.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	users    map[string]model.User
	rooms    map[string]*model.Room
	messages map[string][]model.Message
	cursors  []model.Cursor
	nextRoom int
	conns    []*liveConn
	commands []transport.Frame
	dials    int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:        t,
		users:    map[string]model.User{"alice": {ID: "alice", Name: "Alice"}, "bob": {ID: "bob", Name: "Bob"}},
		rooms:    make(map[string]*model.Room),
		messages: make(map[string][]model.Message),
		nextRoom: 42,
	}
	up := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		lc := &liveConn{ws: ws, subs: make(map[string]backendSub)}
		b.mu.Lock()
		b.conns = append(b.conns, lc)
		b.dials++
		b.mu.Unlock()
		b.serve(lc, r.URL.Query().Get("user_id"))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) addRoom(r model.Room) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[r.ID] = &r
}

// dropAll closes every live socket.
func (b *fakeBackend) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, lc := range b.conns {
		_ = lc.ws.Close()
	}
	b.conns = nil
}

func (b *fakeBackend) commandCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.commands {
		if f.Command == name {
			n++
		}
	}
	return n
}

type backendSub struct {
	kind   string
	target string
}

type liveConn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	subs map[string]backendSub
}

func (lc *liveConn) send(f transport.Frame) {
	data, _ := json.Marshal(f)
	lc.mu.Lock()
	defer lc.mu.Unlock()
	_ = lc.ws.WriteMessage(websocket.TextMessage, data)
}

func (lc *liveConn) event(subID, name string, payload any) {
	data, _ := json.Marshal(payload)
	lc.send(transport.Frame{Type: transport.TypeEvent, SubID: subID, EventName: name, Data: data})
}

// roomSubs lists the connection's room subscriptions on roomID.
func (lc *liveConn) roomSubs(roomID string) []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	var ids []string
	for id, s := range lc.subs {
		if s.kind == "room" && s.target == roomID {
			ids = append(ids, id)
		}
	}
	return ids
}

// post stores a message from another member and pushes it to every room
// subscription on roomID.
func (b *fakeBackend) post(roomID, senderID, text string) model.Message {
	b.mu.Lock()
	m := model.Message{ID: int64(len(b.messages[roomID]) + 1), SenderID: senderID, RoomID: roomID, Text: text}
	b.messages[roomID] = append(b.messages[roomID], m)
	conns := slices.Clone(b.conns)
	b.mu.Unlock()
	for _, lc := range conns {
		for _, id := range lc.roomSubs(roomID) {
			lc.event(id, "new_message", m)
		}
	}
	return m
}

func (b *fakeBackend) serve(lc *liveConn, userID string) {
	for {
		_, data, err := lc.ws.ReadMessage()
		if err != nil {
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.t.Errorf("backend: bad frame %s", data)
			return
		}

		switch f.Type {
		case transport.TypeSubscribe:
			lc.mu.Lock()
			lc.subs[f.SubID] = backendSub{kind: f.Kind, target: f.Target}
			lc.mu.Unlock()
			lc.event(f.SubID, "initial_state", b.initialState(f.Kind, f.Target, userID))
		case transport.TypeUnsubscribe:
			lc.mu.Lock()
			delete(lc.subs, f.SubID)
			lc.mu.Unlock()
		case transport.TypeCommand:
			b.mu.Lock()
			b.commands = append(b.commands, f)
			b.mu.Unlock()
			ack, echo := b.handleCommand(f, userID)
			if echo != nil {
				for _, id := range lc.roomSubs(echo.RoomID) {
					lc.event(id, "new_message", echo)
				}
			}
			data, _ := json.Marshal(ack)
			lc.send(transport.Frame{Type: transport.TypeAck, ID: f.ID, Command: f.Command, Data: data})
		}
	}
}

func (b *fakeBackend) initialState(kind, target, userID string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case "user":
		var rooms []model.Room
		for _, r := range b.rooms {
			if r.HasMember(userID) {
				rooms = append(rooms, r.Clone())
			}
		}
		var users []model.User
		for _, u := range b.users {
			users = append(users, u)
		}
		cur := b.users[userID]
		return map[string]any{"current_user": cur, "rooms": rooms, "users": users}
	case "room":
		var cursors []model.Cursor
		for _, c := range b.cursors {
			if c.RoomID == target {
				cursors = append(cursors, c)
			}
		}
		return map[string]any{"messages": b.messages[target], "cursors": cursors}
	default:
		return map[string]any{"cursors": b.cursors}
	}
}

func (b *fakeBackend) handleCommand(f transport.Frame, userID string) (map[string]any, *model.Message) {
	var body struct {
		RoomID   string   `json:"room_id"`
		Name     string   `json:"name"`
		Private  bool     `json:"private"`
		Text     string   `json:"text"`
		Position int64    `json:"position"`
		UserIDs  []string `json:"user_ids"`
	}
	_ = json.Unmarshal(f.Data, &body)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch f.Command {
	case "create_room":
		id := strconv.Itoa(b.nextRoom)
		b.nextRoom++
		r := &model.Room{ID: id, Name: body.Name, Private: body.Private, CreatedByID: userID, MemberIDs: []string{userID}}
		b.rooms[id] = r
		return map[string]any{"room": r}, nil
	case "join_room":
		r := b.rooms[body.RoomID]
		if !slices.Contains(r.MemberIDs, userID) {
			r.MemberIDs = append(r.MemberIDs, userID)
		}
		return map[string]any{"room": r}, nil
	case "send_message":
		m := model.Message{ID: int64(len(b.messages[body.RoomID]) + 1), SenderID: userID, RoomID: body.RoomID, Text: body.Text}
		b.messages[body.RoomID] = append(b.messages[body.RoomID], m)
		return map[string]any{"message_id": m.ID, "message": m}, &m
	case "add_users_to_room":
		r := b.rooms[body.RoomID]
		for _, id := range body.UserIDs {
			if !slices.Contains(r.MemberIDs, id) {
				r.MemberIDs = append(r.MemberIDs, id)
			}
		}
		return map[string]any{"room_id": body.RoomID, "user_ids": body.UserIDs}, nil
	case "remove_users_from_room":
		r := b.rooms[body.RoomID]
		r.MemberIDs = slices.DeleteFunc(r.MemberIDs, func(id string) bool { return slices.Contains(body.UserIDs, id) })
		return map[string]any{"room_id": body.RoomID, "user_ids": body.UserIDs}, nil
	case "get_joinable_rooms":
		var rooms []model.Room
		for _, r := range b.rooms {
			if !r.Private && !r.HasMember(userID) {
				rooms = append(rooms, r.Clone())
			}
		}
		return map[string]any{"rooms": rooms}, nil
	case "set_cursor":
		c := model.Cursor{UserID: userID, RoomID: body.RoomID, Position: body.Position}
		b.cursors = append(b.cursors, c)
		return map[string]any{"cursor": c}, nil
	}
	return map[string]any{}, nil
}
