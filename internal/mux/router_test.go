package mux

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/chatkit/internal/command"
	"github.com/matheus3301/chatkit/internal/fanout"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/state"
	"github.com/matheus3301/chatkit/internal/transport"
	"go.uber.org/zap"
)

type fakeConn struct {
	connected atomic.Bool
	frames    chan transport.Frame
}

func newFakeConn(connected bool) *fakeConn {
	c := &fakeConn{frames: make(chan transport.Frame, 64)}
	c.connected.Store(connected)
	return c
}

func (c *fakeConn) Send(_ context.Context, f transport.Frame) error {
	if !c.connected.Load() {
		return &model.TransportError{Err: model.ErrNotConnected}
	}
	c.frames <- f
	return nil
}

func (c *fakeConn) Connected() bool { return c.connected.Load() }

func (c *fakeConn) next(t *testing.T) transport.Frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return transport.Frame{}
	}
}

func (c *fakeConn) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-c.frames:
		t.Fatalf("unexpected frame %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

type collector struct {
	events chan model.Event
}

func newCollector() *collector {
	return &collector{events: make(chan model.Event, 64)}
}

func (c *collector) Dispatch(e model.Event) { c.events <- e }

func (c *collector) next(t *testing.T) model.Event {
	t.Helper()
	select {
	case e := <-c.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return model.Event{}
	}
}

func (c *collector) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-c.events:
		t.Fatalf("unexpected event %s %+v", e.Kind, e)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	conn   *fakeConn
	store  *state.Store
	disp   *command.Dispatcher
	router *Router
}

func newHarness(t *testing.T, connected bool) *harness {
	t.Helper()
	conn := newFakeConn(connected)
	st := state.New()
	f := fanout.New(0, nil, zap.NewNop())
	d := command.NewDispatcher(conn, time.Second, zap.NewNop())
	r := NewRouter(conn, st, f, d, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		f.CloseAll()
	})
	return &harness{conn: conn, store: st, disp: d, router: r}
}

func event(subID, name, data string) transport.Frame {
	return transport.Frame{Type: transport.TypeEvent, SubID: subID, EventName: name, Data: json.RawMessage(data)}
}

const userState = `{"current_user":{"id":"alice","name":"Alice"},"rooms":[{"id":"42","name":"general","member_user_ids":["alice","bob"]}],"users":[{"id":"bob","name":"Bob"}]}`

// connectUser subscribes the user scope and feeds its initial state.
func (h *harness) connectUser(t *testing.T) (Handle, *collector) {
	t.Helper()
	l := newCollector()
	sub, err := h.router.Subscribe(context.Background(), KindUser, "alice", l, Options{})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if f := h.conn.next(t); f.Type != transport.TypeSubscribe || f.SubID != sub.ID || f.Kind != "user" {
		t.Fatalf("subscribe frame = %+v", f)
	}
	h.router.HandleFrame(event(sub.ID, "initial_state", userState))
	if e := l.next(t); e.Kind != model.CurrentUserReceived {
		t.Fatalf("first event = %s, want current_user_received", e.Kind)
	}
	return sub, l
}

func TestSubscribeBecomesActive(t *testing.T) {
	h := newHarness(t, true)
	l := newCollector()
	sub, err := h.router.Subscribe(context.Background(), KindUser, "alice", l, Options{})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	h.conn.next(t)

	infos, _ := h.router.Subscriptions(context.Background())
	if len(infos) != 1 || infos[0].State != Pending {
		t.Fatalf("subscriptions = %+v, want one pending", infos)
	}

	h.router.HandleFrame(event(sub.ID, "initial_state", userState))
	e := l.next(t)
	if e.Kind != model.CurrentUserReceived || e.SubscriptionID != sub.ID || e.Seq != 1 {
		t.Errorf("event = %+v", e)
	}
	if e.CurrentUser == nil || e.CurrentUser.ID != "alice" || len(e.CurrentUser.RoomIDs) != 1 {
		t.Errorf("current user = %+v", e.CurrentUser)
	}

	infos, _ = h.router.Subscriptions(context.Background())
	if infos[0].State != Active {
		t.Errorf("state = %s, want active", infos[0].State)
	}
}

func TestPendingSubscriptionsResentOnConnect(t *testing.T) {
	h := newHarness(t, false)
	sub, err := h.router.Subscribe(context.Background(), KindRoom, "42", newCollector(), Options{MessageLimit: 20})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	h.conn.none(t)

	h.conn.connected.Store(true)
	h.router.HandleConnected()
	f := h.conn.next(t)
	if f.SubID != sub.ID || f.Target != "42" || f.Params["message_limit"] != 20 {
		t.Errorf("subscribe frame = %+v", f)
	}

	h.router.HandleDisconnected(nil)
	h.router.HandleConnected()
	if f := h.conn.next(t); f.SubID != sub.ID {
		t.Errorf("resubscribe frame = %+v", f)
	}
}

func TestUnknownSubscriptionEventsDropped(t *testing.T) {
	h := newHarness(t, true)
	h.router.HandleFrame(event("nope", "new_message", `{"id":1,"room_id":"42","user_id":"bob","text":"hi"}`))
	_, l := h.connectUser(t)
	l.none(t)
}

func TestSubErrorSurfacesOnceAndCloses(t *testing.T) {
	h := newHarness(t, true)
	sub, l := h.connectUser(t)

	h.router.HandleFrame(transport.Frame{Type: transport.TypeSubError, SubID: sub.ID, Error: &transport.ErrorBody{Status: 404, Type: "not_found"}})
	h.router.HandleFrame(transport.Frame{Type: transport.TypeSubError, SubID: sub.ID, Error: &transport.ErrorBody{Status: 404}})
	h.router.HandleFrame(event(sub.ID, "presence_state", `{"user_id":"bob","state":"online"}`))

	if e := l.next(t); e.Kind != model.ErrorOccurred || e.Err == nil {
		t.Fatalf("event = %+v, want error", e)
	}
	l.none(t)

	infos, _ := h.router.Subscriptions(context.Background())
	if len(infos) != 0 {
		t.Errorf("subscriptions = %+v, want none", infos)
	}
}

func TestRoomSubscriptionRouting(t *testing.T) {
	h := newHarness(t, true)
	_, user := h.connectUser(t)

	room := newCollector()
	sub, err := h.router.Subscribe(context.Background(), KindRoom, "42", room, Options{})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	h.conn.next(t)
	h.router.HandleFrame(event(sub.ID, "initial_state", `{"messages":[{"id":1,"user_id":"bob","text":"hi"}]}`))

	e := room.next(t)
	if e.Kind != model.NewMessage || e.Message.ID != 1 || e.Message.RoomID != "42" || e.User.Name != "Bob" {
		t.Errorf("replayed = %+v", e)
	}
	// Messages never reach the user scope.
	user.none(t)

	h.router.HandleFrame(event(sub.ID, "presence_state", `{"user_id":"bob","state":"online"}`))
	if e := room.next(t); e.Kind != model.UserCameOnline || e.User.ID != "bob" {
		t.Errorf("room event = %+v", e)
	}
	if e := user.next(t); e.Kind != model.UserCameOnline {
		t.Errorf("user event = %+v", e)
	}
}

func TestRoomDeletedClosesRoomSubscription(t *testing.T) {
	h := newHarness(t, true)
	usub, user := h.connectUser(t)

	room := newCollector()
	rsub, _ := h.router.Subscribe(context.Background(), KindRoom, "42", room, Options{})
	h.conn.next(t)
	h.router.HandleFrame(event(rsub.ID, "initial_state", `{"messages":[]}`))

	h.router.HandleFrame(event(usub.ID, "room_deleted", `{"room_id":"42"}`))
	if e := user.next(t); e.Kind != model.RoomDeleted || e.RoomID != "42" {
		t.Errorf("user event = %+v", e)
	}
	if e := room.next(t); e.Kind != model.RoomDeleted {
		t.Errorf("room event = %+v", e)
	}

	infos, _ := h.router.Subscriptions(context.Background())
	if len(infos) != 1 || infos[0].ID != usub.ID {
		t.Errorf("subscriptions = %+v, want only the user scope", infos)
	}
}

func TestRoomDeletedClosesCursorSubscription(t *testing.T) {
	for _, name := range []string{"room_deleted", "removed_from_room"} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, true)
			usub, user := h.connectUser(t)

			cursors := newCollector()
			csub, _ := h.router.Subscribe(context.Background(), KindCursor, "42", cursors, Options{})
			h.conn.next(t)
			h.router.HandleFrame(event(csub.ID, "initial_state", `{"cursors":[]}`))

			h.router.HandleFrame(event(usub.ID, name, `{"room_id":"42"}`))
			user.next(t)
			e := cursors.next(t)
			if e.RoomID != "42" || (e.Kind != model.RoomDeleted && e.Kind != model.RemovedFromRoom) {
				t.Errorf("cursor event = %+v, want the terminal room event", e)
			}

			infos, _ := h.router.Subscriptions(context.Background())
			for _, info := range infos {
				if info.ID == csub.ID {
					t.Errorf("cursor subscription still open: %+v", info)
				}
			}
		})
	}
}

func TestRemovedFromRoomShape(t *testing.T) {
	tests := []struct {
		name     string
		withRoom bool
	}{
		{"id only", false},
		{"with room", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			l := newCollector()
			sub, _ := h.router.Subscribe(context.Background(), KindUser, "alice", l, Options{RemovedFromRoomWithRoom: tt.withRoom})
			h.conn.next(t)
			h.router.HandleFrame(event(sub.ID, "initial_state", userState))
			l.next(t)

			h.router.HandleFrame(event(sub.ID, "removed_from_room", `{"room_id":"42"}`))
			e := l.next(t)
			if e.Kind != model.RemovedFromRoom || e.RoomID != "42" {
				t.Fatalf("event = %+v", e)
			}
			if (e.Room != nil) != tt.withRoom {
				t.Errorf("room present = %v, want %v", e.Room != nil, tt.withRoom)
			}
		})
	}
}

func TestAckAppliedBeforeCommandResolves(t *testing.T) {
	h := newHarness(t, true)
	h.connectUser(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.disp.Do(context.Background(), command.SendMessage, map[string]string{"room_id": "42", "text": "hello"})
		done <- err
	}()
	cmd := h.conn.next(t)
	h.router.HandleFrame(transport.Frame{
		Type: transport.TypeAck,
		ID:   cmd.ID,
		Data: json.RawMessage(`{"message_id":7,"message":{"id":7,"room_id":"42","user_id":"alice","text":"hello"}}`),
	})

	if err := <-done; err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := h.store.LastMessageID("42"); got != 7 {
		t.Errorf("LastMessageID() = %d, want 7", got)
	}
}

func TestMalformedEventResubscribes(t *testing.T) {
	h := newHarness(t, true)
	sub, _ := h.connectUser(t)

	h.router.HandleFrame(event(sub.ID, "room_updated", `{"room":`))
	if f := h.conn.next(t); f.Type != transport.TypeUnsubscribe || f.SubID != sub.ID {
		t.Errorf("frame = %+v, want unsubscribe", f)
	}
	if f := h.conn.next(t); f.Type != transport.TypeSubscribe || f.SubID != sub.ID {
		t.Errorf("frame = %+v, want subscribe", f)
	}
}

// Regression: a gap must trigger exactly one fetch, and the fetched
// messages must be delivered before the held one.
func TestGapFetchesMissingMessages(t *testing.T) {
	h := newHarness(t, true)
	h.connectUser(t)

	room := newCollector()
	sub, _ := h.router.Subscribe(context.Background(), KindRoom, "42", room, Options{})
	h.conn.next(t)
	h.router.HandleFrame(event(sub.ID, "initial_state", `{"messages":[{"id":1,"user_id":"bob","text":"a"}]}`))
	room.next(t)

	h.router.HandleFrame(event(sub.ID, "new_message", `{"id":3,"user_id":"bob","text":"c"}`))
	h.router.HandleFrame(event(sub.ID, "new_message", `{"id":4,"user_id":"bob","text":"d"}`))

	fetch := h.conn.next(t)
	if fetch.Command != command.FetchMessages {
		t.Fatalf("command = %q, want fetch_messages", fetch.Command)
	}
	var body struct {
		RoomID  string `json:"room_id"`
		AfterID int64  `json:"after_id"`
	}
	if err := json.Unmarshal(fetch.Data, &body); err != nil || body.RoomID != "42" || body.AfterID != 1 {
		t.Fatalf("fetch body = %s (%v)", fetch.Data, err)
	}
	h.conn.none(t)

	h.router.HandleFrame(transport.Frame{
		Type: transport.TypeAck,
		ID:   fetch.ID,
		Data: json.RawMessage(`{"messages":[{"id":2,"room_id":"42","user_id":"bob","text":"b"}]}`),
	})
	for _, want := range []int64{2, 3, 4} {
		e := room.next(t)
		if e.Kind != model.NewMessage || e.Message.ID != want {
			t.Fatalf("event = %s id %v, want message %d", e.Kind, e.Message, want)
		}
	}
}

func messagesJSON(from, to int64) string {
	var ms []map[string]any
	for id := from; id <= to; id++ {
		ms = append(ms, map[string]any{"id": id, "room_id": "42", "user_id": "bob", "text": "m"})
	}
	b, _ := json.Marshal(map[string]any{"messages": ms})
	return string(b)
}

// Regression: a gap wider than one fetch page used to be closed after the
// first page, delivering the held message over the ids still missing.
func TestWideGapFetchedPageByPage(t *testing.T) {
	h := newHarness(t, true)
	h.connectUser(t)

	room := &collector{events: make(chan model.Event, 512)}
	sub, _ := h.router.Subscribe(context.Background(), KindRoom, "42", room, Options{})
	h.conn.next(t)
	h.router.HandleFrame(event(sub.ID, "initial_state", `{"messages":[{"id":1,"user_id":"bob","text":"a"}]}`))
	room.next(t)

	h.router.HandleFrame(event(sub.ID, "new_message", `{"id":300,"user_id":"bob","text":"z"}`))

	pages := []struct {
		after    int64
		from, to int64
	}{
		{1, 2, 101},
		{101, 102, 201},
		{201, 202, 299},
	}
	for _, p := range pages {
		fetch := h.conn.next(t)
		var body struct {
			AfterID int64 `json:"after_id"`
			Limit   int   `json:"limit"`
		}
		if err := json.Unmarshal(fetch.Data, &body); err != nil || fetch.Command != command.FetchMessages || body.AfterID != p.after {
			t.Fatalf("fetch = %s %s (%v), want after_id %d", fetch.Command, fetch.Data, err, p.after)
		}
		if body.Limit != resyncPageSize {
			t.Errorf("limit = %d, want %d", body.Limit, resyncPageSize)
		}
		h.router.HandleFrame(transport.Frame{Type: transport.TypeAck, ID: fetch.ID, Data: json.RawMessage(messagesJSON(p.from, p.to))})
	}

	for want := int64(2); want <= 300; want++ {
		e := room.next(t)
		if e.Kind != model.NewMessage || e.Message.ID != want {
			t.Fatalf("event = %s id %v, want message %d", e.Kind, e.Message, want)
		}
	}
	h.conn.none(t)
}

func TestExhaustedErrorsEverySubscription(t *testing.T) {
	h := newHarness(t, true)
	_, user := h.connectUser(t)
	cursors := newCollector()
	h.router.Subscribe(context.Background(), KindCursor, "42", cursors, Options{})
	h.conn.next(t)

	h.router.HandleExhausted(&model.TransportError{Attempts: 5, Err: model.ErrNotConnected})
	for _, l := range []*collector{user, cursors} {
		if e := l.next(t); e.Kind != model.ErrorOccurred {
			t.Errorf("event = %+v, want error", e)
		}
		l.none(t)
	}
	infos, _ := h.router.Subscriptions(context.Background())
	if len(infos) != 0 {
		t.Errorf("subscriptions = %+v, want none", infos)
	}
}
