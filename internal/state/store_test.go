package state

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	s := New(WithClock(clk.now), WithTypingTimeout(time.Second), WithReplayWindow(5))
	out := s.ApplyUserState(model.User{ID: "me", Name: "Me"}, []model.Room{
		{ID: "42", Name: "general", MemberIDs: []string{"me", "bob"}},
	})
	if len(out.Events) != 1 || out.Events[0].Kind != model.CurrentUserReceived {
		t.Fatalf("initial events = %v, want [CurrentUserReceived]", kinds(out.Events))
	}
	return s, clk
}

func kinds(evts []model.Event) []model.EventKind {
	var ks []model.EventKind
	for _, e := range evts {
		ks = append(ks, e.Kind)
	}
	return ks
}

func msg(room string, id int64, sender string) model.Message {
	return model.Message{ID: id, RoomID: room, SenderID: sender, Text: "m"}
}

func TestUserJoinedIdempotent(t *testing.T) {
	s, _ := newTestStore(t)

	var joined int
	for range 3 {
		out := s.ApplyUserJoined("42", "carol")
		joined += len(out.Events)
	}
	if joined != 1 {
		t.Errorf("UserJoinedRoom events = %d, want 1", joined)
	}
	r, _ := s.Room("42")
	if len(r.MemberIDs) != 3 {
		t.Errorf("members = %v, want [me bob carol]", r.MemberIDs)
	}

	if out := s.ApplyUserLeft("42", "carol"); len(out.Events) != 1 {
		t.Errorf("first leave events = %d, want 1", len(out.Events))
	}
	if out := s.ApplyUserLeft("42", "carol"); len(out.Events) != 0 {
		t.Errorf("repeated leave events = %d, want 0", len(out.Events))
	}
}

func TestMessageOrderingAndDuplicates(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		name      string
		id        int64
		wantEvent bool
	}{
		{"first message sets baseline", 1, true},
		{"next in order", 2, true},
		{"duplicate", 2, false},
		{"older duplicate", 1, false},
		{"next again", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.ApplyNewMessage(msg("42", tt.id, "bob"))
			if got := len(out.Events) == 1; got != tt.wantEvent {
				t.Errorf("ApplyNewMessage(%d) events = %v, want event %v", tt.id, kinds(out.Events), tt.wantEvent)
			}
			if len(out.Resyncs) != 0 {
				t.Errorf("unexpected resync %v", out.Resyncs)
			}
		})
	}
}

func TestMessageGapRequestsOneResync(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyNewMessage(msg("42", 1, "bob"))

	var resyncs []Resync
	for _, id := range []int64{4, 5, 4, 6} {
		out := s.ApplyNewMessage(msg("42", id, "bob"))
		if len(out.Events) != 0 {
			t.Errorf("message %d delivered across a gap", id)
		}
		resyncs = append(resyncs, out.Resyncs...)
		if len(out.Resyncs) > 0 {
			var sv *model.StateInvariantViolation
			if !errors.As(out.Err, &sv) || sv.Expected != 2 || sv.Got != 4 {
				t.Errorf("Err = %v, want StateInvariantViolation(2, 4)", out.Err)
			}
		}
	}
	if len(resyncs) != 1 || resyncs[0] != (Resync{RoomID: "42", AfterID: 1}) {
		t.Fatalf("resyncs = %v, want one {42 1}", resyncs)
	}

	out := s.ApplyMessagesFetched("42", []model.Message{msg("42", 3, "bob"), msg("42", 2, "bob")}, false)
	var ids []int64
	for _, e := range out.Events {
		ids = append(ids, e.Message.ID)
	}
	want := []int64{2, 3, 4, 5, 6}
	if len(ids) != len(want) {
		t.Fatalf("delivered ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("delivered ids = %v, want %v", ids, want)
			break
		}
	}
	if got := s.LastMessageID("42"); got != 6 {
		t.Errorf("LastMessageID = %d, want 6", got)
	}
}

func TestFetchThatMissesGapReleasesHeldMessages(t *testing.T) {
	tests := []struct {
		name string
		page []model.Message
	}{
		{"failed fetch", nil},
		{"short page", []model.Message{msg("42", 2, "bob")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			s.ApplyNewMessage(msg("42", 1, "bob"))
			s.ApplyNewMessage(msg("42", 5, "bob"))

			out := s.ApplyMessagesFetched("42", tt.page, false)
			if len(out.Resyncs) != 0 {
				t.Errorf("resyncs = %v, want none after a short page", out.Resyncs)
			}
			last := out.Events[len(out.Events)-1]
			if last.Message.ID != 5 {
				t.Errorf("events = %v, want message 5 released last", kinds(out.Events))
			}
			if out := s.ApplyNewMessage(msg("42", 6, "bob")); len(out.Events) != 1 {
				t.Errorf("message 6 after released gap not delivered")
			}
		})
	}
}

// A gap wider than one fetch page is paged through until it closes; the held
// message is never delivered over missing ids.
func TestWideGapFetchedPageByPage(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyNewMessage(msg("42", 1, "bob"))
	if out := s.ApplyNewMessage(msg("42", 300, "bob")); len(out.Resyncs) != 1 {
		t.Fatalf("resyncs = %v, want one", out.Resyncs)
	}

	page := func(from, to int64) []model.Message {
		var ms []model.Message
		for id := from; id <= to; id++ {
			ms = append(ms, msg("42", id, "bob"))
		}
		return ms
	}

	out := s.ApplyMessagesFetched("42", page(2, 101), true)
	if len(out.Events) != 100 {
		t.Errorf("first page delivered %d events, want 100", len(out.Events))
	}
	for _, e := range out.Events {
		if e.Message.ID == 300 {
			t.Fatal("held message 300 delivered over an open gap")
		}
	}
	if len(out.Resyncs) != 1 || out.Resyncs[0] != (Resync{RoomID: "42", AfterID: 101}) {
		t.Fatalf("resyncs = %v, want {42 101}", out.Resyncs)
	}

	// A message pushed while the follow-up fetch runs does not start another.
	if out := s.ApplyNewMessage(msg("42", 301, "bob")); len(out.Resyncs) != 0 || len(out.Events) != 0 {
		t.Errorf("push during resync = %v / %v, want held", kinds(out.Events), out.Resyncs)
	}

	out = s.ApplyMessagesFetched("42", page(102, 201), true)
	if len(out.Resyncs) != 1 || out.Resyncs[0].AfterID != 201 {
		t.Fatalf("resyncs = %v, want {42 201}", out.Resyncs)
	}

	out = s.ApplyMessagesFetched("42", page(202, 299), false)
	if len(out.Resyncs) != 0 {
		t.Errorf("resyncs = %v after the gap closed", out.Resyncs)
	}
	prev := int64(201)
	for _, e := range out.Events {
		if e.Message.ID != prev+1 {
			t.Fatalf("delivered %d after %d", e.Message.ID, prev)
		}
		prev = e.Message.ID
	}
	if prev != 301 {
		t.Errorf("last delivered = %d, want 301", prev)
	}
}

func TestOrphanMessageDropped(t *testing.T) {
	s, _ := newTestStore(t)
	if out := s.ApplyNewMessage(msg("nope", 1, "bob")); len(out.Events) != 0 {
		t.Errorf("message for unknown room delivered")
	}
}

func TestReplayWindowBounded(t *testing.T) {
	s, _ := newTestStore(t)
	for i := int64(1); i <= 8; i++ {
		s.ApplyNewMessage(msg("42", i, "bob"))
	}
	msgs := s.Messages("42")
	if len(msgs) != 5 || msgs[0].ID != 4 || msgs[4].ID != 8 {
		t.Errorf("window = %v, want ids 4..8", msgs)
	}
}

func TestRoomDeletedEvictsDerivedState(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyNewMessage(msg("42", 1, "bob"))
	s.ApplyCursor(model.Cursor{UserID: "bob", RoomID: "42", Position: 1})
	s.ApplyTyping("42", "bob")

	out := s.ApplyRoomDeleted("42")
	if len(out.Events) != 1 || out.Events[0].Kind != model.RoomDeleted {
		t.Fatalf("events = %v, want [RoomDeleted]", kinds(out.Events))
	}
	if _, ok := s.Room("42"); ok {
		t.Error("room still present after delete")
	}
	if len(s.Messages("42")) != 0 || len(s.Cursors("42")) != 0 || len(s.TypingUsers("42")) != 0 {
		t.Error("derived state not evicted")
	}
	if cu := s.CurrentUser(); len(cu.RoomIDs) != 0 {
		t.Errorf("current user rooms = %v, want none", cu.RoomIDs)
	}
	if out := s.ApplyNewMessage(msg("42", 2, "bob")); len(out.Events) != 0 {
		t.Error("message for deleted room delivered")
	}
	if out := s.ApplyRoomDeleted("42"); len(out.Events) != 0 {
		t.Error("repeated delete emitted an event")
	}
}

func TestCursorLastWriteWinsPerPair(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyCursor(model.Cursor{UserID: "bob", RoomID: "42", Position: 7})

	if out := s.ApplyCursor(model.Cursor{UserID: "me", RoomID: "42", Position: 3}); len(out.Events) != 1 {
		t.Fatalf("events = %v, want [CursorSet]", kinds(out.Events))
	}
	// Backward moves are accepted.
	s.ApplyCursor(model.Cursor{UserID: "me", RoomID: "42", Position: 1})
	if c, _ := s.Cursor("me", "42"); c.Position != 1 {
		t.Errorf("me cursor = %d, want 1", c.Position)
	}
	if c, _ := s.Cursor("bob", "42"); c.Position != 7 {
		t.Errorf("bob cursor = %d, want 7 (unchanged)", c.Position)
	}
	if out := s.ApplyCursor(model.Cursor{UserID: "me", RoomID: "42", Position: 1}); len(out.Events) != 0 {
		t.Error("repeated cursor emitted an event")
	}
}

func TestTypingExpiry(t *testing.T) {
	s, clk := newTestStore(t)

	out := s.ApplyTyping("42", "bob")
	if len(out.Events) != 1 || out.Events[0].Kind != model.UserStartedTyping {
		t.Fatalf("events = %v, want [UserStartedTyping]", kinds(out.Events))
	}

	// Refresh at T+timeout/2 pushes expiry to T+timeout/2+timeout.
	clk.advance(500 * time.Millisecond)
	if out := s.ApplyTyping("42", "bob"); len(out.Events) != 0 {
		t.Errorf("refresh emitted %v", kinds(out.Events))
	}

	clk.advance(500 * time.Millisecond) // T+timeout
	if out := s.Sweep(); len(out.Events) != 0 {
		t.Errorf("sweep at T+timeout emitted %v, want nothing after refresh", kinds(out.Events))
	}

	clk.advance(500 * time.Millisecond) // T+timeout/2+timeout
	out = s.Sweep()
	if len(out.Events) != 1 || out.Events[0].Kind != model.UserStoppedTyping || out.Events[0].User.ID != "bob" {
		t.Fatalf("sweep events = %v, want [UserStoppedTyping bob]", kinds(out.Events))
	}
	if len(s.TypingUsers("42")) != 0 {
		t.Error("typing entry not cleared")
	}
}

func TestOwnTypingIgnored(t *testing.T) {
	s, _ := newTestStore(t)
	if out := s.ApplyTyping("42", "me"); len(out.Events) != 0 {
		t.Errorf("own typing emitted %v", kinds(out.Events))
	}
}

func TestPresence(t *testing.T) {
	s, _ := newTestStore(t)
	if out := s.ApplyPresence("bob", model.PresenceOnline); len(out.Events) != 1 || out.Events[0].Kind != model.UserCameOnline {
		t.Errorf("events = %v, want [UserCameOnline]", kinds(out.Events))
	}
	if out := s.ApplyPresence("bob", model.PresenceOnline); len(out.Events) != 0 {
		t.Error("repeated presence emitted an event")
	}
	out := s.ApplyPresence("bob", model.PresenceOffline)
	if len(out.Events) != 1 || out.Events[0].Kind != model.UserWentOffline {
		t.Fatalf("events = %v, want [UserWentOffline]", kinds(out.Events))
	}
	if u, _ := s.User("bob"); u.LastSeenAt.IsZero() {
		t.Error("LastSeenAt not set when going offline")
	}
}

// TestReconnectSnapshotDiff verifies that re-applying the user snapshot after a
// reconnect emits only real changes and never a duplicate AddedToRoom for a
// room that was already known.
func TestReconnectSnapshotDiff(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyAddedToRoom(model.Room{ID: "7", Name: "old"})

	out := s.ApplyUserState(model.User{ID: "me", Name: "Me"}, []model.Room{
		{ID: "42", Name: "general", MemberIDs: []string{"me", "bob", "carol"}},
		{ID: "99", Name: "new", MemberIDs: []string{"me"}},
	})

	got := map[model.EventKind][]string{}
	for _, e := range out.Events {
		id := e.RoomID
		if e.User != nil {
			id += "/" + e.User.ID
		}
		got[e.Kind] = append(got[e.Kind], id)
	}
	if len(got[model.CurrentUserReceived]) != 0 {
		t.Error("CurrentUserReceived emitted again on reconnect")
	}
	if want := []string{"99"}; !equal(got[model.AddedToRoom], want) {
		t.Errorf("AddedToRoom = %v, want %v", got[model.AddedToRoom], want)
	}
	if want := []string{"7"}; !equal(got[model.RemovedFromRoom], want) {
		t.Errorf("RemovedFromRoom = %v, want %v", got[model.RemovedFromRoom], want)
	}
	if want := []string{"42/carol"}; !equal(got[model.UserJoinedRoom], want) {
		t.Errorf("UserJoinedRoom = %v, want %v", got[model.UserJoinedRoom], want)
	}
	if len(got[model.RoomUpdated]) != 0 {
		t.Errorf("RoomUpdated = %v, want none", got[model.RoomUpdated])
	}

	// Same snapshot again is a no-op.
	again := s.ApplyUserState(model.User{ID: "me", Name: "Me"}, []model.Room{
		{ID: "42", Name: "general", MemberIDs: []string{"me", "bob", "carol"}},
		{ID: "99", Name: "new", MemberIDs: []string{"me"}},
	})
	if len(again.Events) != 0 {
		t.Errorf("identical snapshot emitted %v", kinds(again.Events))
	}
}

func TestRoomStateReplayAfterReconnect(t *testing.T) {
	s, _ := newTestStore(t)
	page := []model.Message{msg("42", 3, "bob"), msg("42", 2, "bob"), msg("42", 1, "bob")}
	if out := s.ApplyRoomState("42", page); len(out.Events) != 3 {
		t.Fatalf("first page events = %d, want 3", len(out.Events))
	}
	page = append(page, msg("42", 4, "bob"))
	out := s.ApplyRoomState("42", page)
	if len(out.Events) != 1 || out.Events[0].Message.ID != 4 {
		t.Errorf("replayed page events = %v, want only message 4", kinds(out.Events))
	}
}

func TestUnreadCount(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyNewMessage(msg("42", 1, "bob"))
	s.ApplyNewMessage(msg("42", 2, "me"))
	s.ApplyNewMessage(msg("42", 3, "bob"))
	if r, _ := s.Room("42"); r.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", r.UnreadCount)
	}
	s.ApplyCursor(model.Cursor{UserID: "me", RoomID: "42", Position: 1})
	if r, _ := s.Room("42"); r.UnreadCount != 1 {
		t.Errorf("unread after cursor = %d, want 1", r.UnreadCount)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
