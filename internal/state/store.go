package state

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

const (
	DefaultTypingTimeout = 1500 * time.Millisecond
	DefaultReplayWindow  = 100
)

// Resync asks the caller to fetch the messages of RoomID after AfterID.
type Resync struct {
	RoomID  string
	AfterID int64
}

// Outcome is the result of applying one inbound change.
type Outcome struct {
	Events  []model.Event
	Resyncs []Resync
	// Err is set when the change revealed an inconsistency that was handled
	// by a resync, e.g. a StateInvariantViolation.
	Err error
}

func (o *Outcome) emit(e model.Event) {
	o.Events = append(o.Events, e)
}

// Merge appends other to o.
func (o *Outcome) Merge(other Outcome) {
	o.Events = append(o.Events, other.Events...)
	o.Resyncs = append(o.Resyncs, other.Resyncs...)
	if o.Err == nil {
		o.Err = other.Err
	}
}

type roomLog struct {
	known     bool
	last      int64
	window    []model.Message
	pending   map[int64]model.Message
	resyncing bool
}

type cursorKey struct{ userID, roomID string }

type typingKey struct{ roomID, userID string }

// Store is the session's in-memory view. Mutations are expected from a single
// goroutine; readers may call accessors concurrently.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	typingTimeout time.Duration
	replayWindow  int

	current *model.CurrentUser
	users   map[string]*model.User
	rooms   map[string]*model.Room
	logs    map[string]*roomLog
	cursors map[cursorKey]model.Cursor
	typing  map[typingKey]time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for typing expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTypingTimeout sets the silence after which typing stops.
func WithTypingTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.typingTimeout = d
		}
	}
}

// WithReplayWindow sets how many recent messages are kept per room.
func WithReplayWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.replayWindow = n
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:           time.Now,
		typingTimeout: DefaultTypingTimeout,
		replayWindow:  DefaultReplayWindow,
		users:         make(map[string]*model.User),
		rooms:         make(map[string]*model.Room),
		logs:          make(map[string]*roomLog),
		cursors:       make(map[cursorKey]model.Cursor),
		typing:        make(map[typingKey]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TypingTimeout returns the configured typing expiry.
func (s *Store) TypingTimeout() time.Duration { return s.typingTimeout }

// CurrentUser returns a copy of the local user, or nil before it is received.
func (s *Store) CurrentUser() *model.CurrentUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cu := *s.current
	cu.RoomIDs = slices.Clone(cu.RoomIDs)
	return &cu
}

// Room returns a copy of a known room.
func (s *Store) Room(id string) (model.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return model.Room{}, false
	}
	return r.Clone(), true
}

// Rooms returns all known rooms ordered by id.
func (s *Store) Rooms() []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomsWithMember returns the ids of known rooms whose membership contains userID.
func (s *Store) RoomsWithMember(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.rooms {
		if r.HasMember(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// User returns a copy of a known user.
func (s *Store) User(id string) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// Members returns the users in a room, falling back to bare ids for users
// not seen yet.
func (s *Store) Members(roomID string) []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]model.User, 0, len(r.MemberIDs))
	for _, id := range r.MemberIDs {
		out = append(out, *s.userRef(id))
	}
	return out
}

// Messages returns the retained messages of a room in id order.
func (s *Store) Messages(roomID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(l.window)
}

// LastMessageID returns the highest applied message id of a room.
func (s *Store) LastMessageID(roomID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.logs[roomID]; ok {
		return l.last
	}
	return 0
}

// Cursor returns the read cursor of (userID, roomID).
func (s *Store) Cursor(userID, roomID string) (model.Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[cursorKey{userID, roomID}]
	return c, ok
}

// Cursors returns every cursor in a room ordered by user id.
func (s *Store) Cursors(roomID string) []model.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Cursor
	for k, c := range s.cursors {
		if k.roomID == roomID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// TypingUsers returns the ids of users currently typing in a room.
func (s *Store) TypingUsers(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for k := range s.typing {
		if k.roomID == roomID {
			ids = append(ids, k.userID)
		}
	}
	sort.Strings(ids)
	return ids
}

// userRef returns a copy of the user or a placeholder with only the id.
// Callers must hold mu.
func (s *Store) userRef(id string) *model.User {
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp
	}
	return &model.User{ID: id, Presence: model.PresenceUnknown}
}

// evictRoom drops a room and all state derived from it. Callers must hold mu.
func (s *Store) evictRoom(roomID string) {
	delete(s.rooms, roomID)
	delete(s.logs, roomID)
	for k := range s.cursors {
		if k.roomID == roomID {
			delete(s.cursors, k)
		}
	}
	for k := range s.typing {
		if k.roomID == roomID {
			delete(s.typing, k)
		}
	}
	if s.current != nil {
		s.current.RoomIDs = slices.DeleteFunc(s.current.RoomIDs, func(id string) bool { return id == roomID })
	}
}

func (s *Store) currentUserID() string {
	if s.current == nil {
		return ""
	}
	return s.current.ID
}
