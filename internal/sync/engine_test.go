package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatkit/internal/bus"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeRooms map[string]model.Room

func (f fakeRooms) Room(id string) (model.Room, bool) {
	r, ok := f[id]
	return r, ok
}

func (f fakeRooms) Rooms() []model.Room {
	var out []model.Room
	for _, r := range f {
		out = append(out, r)
	}
	return out
}

func TestIngestCurrentUserSnapshotsRooms(t *testing.T) {
	db := testDB(t)
	rooms := fakeRooms{"42": {ID: "42", Name: "general", MemberIDs: []string{"alice", "bob"}}}
	e := NewEngine(db, bus.New(), rooms, zap.NewNop())

	cu := &model.CurrentUser{User: model.User{ID: "alice", Name: "Alice"}, RoomIDs: []string{"42"}}
	if err := e.Ingest(model.Event{Kind: model.CurrentUserReceived, CurrentUser: cu}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if id, _ := db.SyncState(KeyCurrentUser); id != "alice" {
		t.Errorf("current user = %q, want alice", id)
	}
	r, err := db.GetRoom("42")
	if err != nil || r == nil {
		t.Fatalf("GetRoom() = %v, %v", r, err)
	}
	if len(r.MemberIDs) != 2 {
		t.Errorf("members = %v", r.MemberIDs)
	}
	if at, _ := db.SyncState(KeyLastEvent); at == "" {
		t.Error("last event checkpoint not recorded")
	}
}

func TestIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)

	ev := model.Event{
		Kind:    model.NewMessage,
		RoomID:  "42",
		Message: &model.Message{ID: 1, RoomID: "42", SenderID: "alice", Text: "hi"},
	}
	for range 2 {
		if err := e.Ingest(ev); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	msgs, err := db.ListMessages("42", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("messages = %+v, want one", msgs)
	}
}

func TestIngestRoomLifecycle(t *testing.T) {
	db := testDB(t)
	rooms := fakeRooms{}
	e := NewEngine(db, bus.New(), rooms, nil)

	room := model.Room{ID: "7", Name: "ops", MemberIDs: []string{"alice"}}
	steps := []struct {
		name  string
		setup func()
		event model.Event
		live  bool
	}{
		{"added", nil, model.Event{Kind: model.AddedToRoom, RoomID: "7", Room: &room}, true},
		{"joined", func() {
			rooms["7"] = model.Room{ID: "7", Name: "ops", MemberIDs: []string{"alice", "bob"}}
		}, model.Event{Kind: model.UserJoinedRoom, RoomID: "7", User: &model.User{ID: "bob", Name: "Bob"}}, true},
		{"removed", nil, model.Event{Kind: model.RemovedFromRoom, RoomID: "7"}, false},
	}
	for _, s := range steps {
		if s.setup != nil {
			s.setup()
		}
		if err := e.Ingest(s.event); err != nil {
			t.Fatalf("%s: Ingest() error = %v", s.name, err)
		}
		r, err := db.GetRoom("7")
		if err != nil {
			t.Fatal(err)
		}
		if (r != nil) != s.live {
			t.Fatalf("%s: room live = %v, want %v", s.name, r != nil, s.live)
		}
		if s.name == "joined" && len(r.MemberIDs) != 2 {
			t.Errorf("joined: members = %v", r.MemberIDs)
		}
	}
	if u, _ := db.GetUser("bob"); u == nil || u.Name != "Bob" {
		t.Errorf("bob = %+v", u)
	}
}

func TestIngestCursorRefreshesUnread(t *testing.T) {
	db := testDB(t)
	rooms := fakeRooms{"42": {ID: "42", Name: "general", UnreadCount: 3}}
	e := NewEngine(db, bus.New(), rooms, nil)
	if err := db.UpsertRoom(rooms["42"]); err != nil {
		t.Fatal(err)
	}

	rooms["42"] = model.Room{ID: "42", Name: "general", UnreadCount: 0}
	c := &model.Cursor{UserID: "alice", RoomID: "42", Position: 9}
	if err := e.Ingest(model.Event{Kind: model.CursorSet, RoomID: "42", Cursor: c}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	r, _ := db.GetRoom("42")
	if r == nil || r.UnreadCount != 0 {
		t.Errorf("room = %+v, want unread 0", r)
	}
	cursors, _ := db.ListCursors("42")
	if len(cursors) != 1 || cursors[0].Position != 9 {
		t.Errorf("cursors = %+v", cursors)
	}
}

// Typing events are transient and never reach the replay log.
func TestIngestIgnoresTyping(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)
	if err := e.Ingest(model.Event{Kind: model.UserStartedTyping, RoomID: "42"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if at, _ := db.SyncState(KeyLastEvent); at != "" {
		t.Errorf("checkpoint = %q, want none", at)
	}
}

func TestEngineConsumesBus(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil, zap.NewNop())
	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.FromChat(model.Event{
		Kind:    model.NewMessage,
		RoomID:  "bus",
		Message: &model.Message{ID: 5, RoomID: "bus", SenderID: "bob", Text: "from bus"},
	}))
	// Non-chat kinds are not ingested.
	b.Publish(bus.Event{Kind: bus.StatusChanged, Timestamp: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := db.ListMessages("bus", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 1 {
			if msgs[0].Text != "from bus" {
				t.Errorf("text = %q", msgs[0].Text)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("message never persisted")
}
