package state

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

// ApplyUserState applies the user subscription's initial state. The first call
// emits CurrentUserReceived; later calls (after a reconnect) are diffed against
// the current view so only real changes are emitted.
func (s *Store) ApplyUserState(user model.User, rooms []model.Room) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	s.upsertUser(user)

	if s.current == nil {
		s.current = &model.CurrentUser{User: *s.userRef(user.ID)}
		for _, r := range rooms {
			s.putRoom(r)
			s.current.RoomIDs = append(s.current.RoomIDs, r.ID)
		}
		cu := *s.current
		cu.RoomIDs = slices.Clone(cu.RoomIDs)
		out.emit(model.Event{Kind: model.CurrentUserReceived, CurrentUser: &cu, At: s.now()})
		return out
	}

	s.current.User = *s.userRef(user.ID)

	incoming := make(map[string]model.Room, len(rooms))
	for _, r := range rooms {
		incoming[r.ID] = r
	}

	// Rooms the user has left while disconnected.
	for _, id := range slices.Clone(s.current.RoomIDs) {
		if _, ok := incoming[id]; ok {
			continue
		}
		gone, known := s.rooms[id]
		s.evictRoom(id)
		e := model.Event{Kind: model.RemovedFromRoom, RoomID: id, At: s.now()}
		if known {
			r := gone.Clone()
			e.Room = &r
		}
		out.emit(e)
	}

	ids := slices.Collect(maps.Keys(incoming))
	sort.Strings(ids)
	for _, id := range ids {
		r := incoming[id]
		existing, ok := s.rooms[id]
		if !ok {
			s.putRoom(r)
			if !slices.Contains(s.current.RoomIDs, id) {
				s.current.RoomIDs = append(s.current.RoomIDs, id)
			}
			cp := r.Clone()
			out.emit(model.Event{Kind: model.AddedToRoom, RoomID: id, Room: &cp, At: s.now()})
			continue
		}
		out.Merge(s.diffRoom(existing, r))
	}
	return out
}

// diffRoom replaces existing with r and emits the membership and metadata
// changes between them. Callers must hold mu.
func (s *Store) diffRoom(existing *model.Room, r model.Room) Outcome {
	var out Outcome
	if r.MemberIDs == nil {
		r.MemberIDs = slices.Clone(existing.MemberIDs)
	}
	for _, uid := range r.MemberIDs {
		if !existing.HasMember(uid) {
			out.emit(model.Event{Kind: model.UserJoinedRoom, RoomID: r.ID, User: s.userRef(uid), At: s.now()})
		}
	}
	for _, uid := range existing.MemberIDs {
		if !r.HasMember(uid) {
			out.emit(model.Event{Kind: model.UserLeftRoom, RoomID: r.ID, User: s.userRef(uid), At: s.now()})
		}
	}
	changed := !sameRoomMeta(*existing, r)
	unread := existing.UnreadCount
	*existing = r.Clone()
	if r.UnreadCount == 0 {
		existing.UnreadCount = unread
	}
	if changed {
		cp := existing.Clone()
		out.emit(model.Event{Kind: model.RoomUpdated, RoomID: r.ID, Room: &cp, At: s.now()})
	}
	return out
}

func sameRoomMeta(a, b model.Room) bool {
	return a.Name == b.Name && a.Private == b.Private && a.CreatedByID == b.CreatedByID &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// ApplyAddedToRoom records that the current user is now a member of room.
func (s *Store) ApplyAddedToRoom(room model.Room) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	if uid := s.currentUserID(); uid != "" && !room.HasMember(uid) {
		room.MemberIDs = append(slices.Clone(room.MemberIDs), uid)
	}
	if existing, ok := s.rooms[room.ID]; ok {
		out.Merge(s.diffRoom(existing, room))
	} else {
		s.putRoom(room)
		cp := room.Clone()
		out.emit(model.Event{Kind: model.AddedToRoom, RoomID: room.ID, Room: &cp, At: s.now()})
	}
	if s.current != nil && !slices.Contains(s.current.RoomIDs, room.ID) {
		s.current.RoomIDs = append(s.current.RoomIDs, room.ID)
	}
	return out
}

// ApplyRemovedFromRoom evicts a room the current user no longer belongs to.
func (s *Store) ApplyRemovedFromRoom(roomID string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	r, ok := s.rooms[roomID]
	if !ok {
		return out
	}
	cp := r.Clone()
	s.evictRoom(roomID)
	out.emit(model.Event{Kind: model.RemovedFromRoom, RoomID: roomID, Room: &cp, At: s.now()})
	return out
}

// ApplyRoomUpdated replaces a known room's metadata.
func (s *Store) ApplyRoomUpdated(room model.Room) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rooms[room.ID]
	if !ok {
		return Outcome{}
	}
	return s.diffRoom(existing, room)
}

// ApplyRoomDeleted evicts a deleted room.
func (s *Store) ApplyRoomDeleted(roomID string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	r, ok := s.rooms[roomID]
	if !ok {
		return out
	}
	cp := r.Clone()
	s.evictRoom(roomID)
	out.emit(model.Event{Kind: model.RoomDeleted, RoomID: roomID, Room: &cp, At: s.now()})
	return out
}

// ApplyUserJoined adds userID to a room's membership. Repeats are no-ops.
func (s *Store) ApplyUserJoined(roomID, userID string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	r, ok := s.rooms[roomID]
	if !ok || r.HasMember(userID) {
		return out
	}
	r.MemberIDs = append(r.MemberIDs, userID)
	out.emit(model.Event{Kind: model.UserJoinedRoom, RoomID: roomID, User: s.userRef(userID), At: s.now()})
	return out
}

// ApplyUserLeft removes userID from a room's membership. Repeats are no-ops.
func (s *Store) ApplyUserLeft(roomID, userID string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	r, ok := s.rooms[roomID]
	if !ok || !r.HasMember(userID) {
		return out
	}
	r.MemberIDs = slices.DeleteFunc(r.MemberIDs, func(id string) bool { return id == userID })
	out.emit(model.Event{Kind: model.UserLeftRoom, RoomID: roomID, User: s.userRef(userID), At: s.now()})
	return out
}

// ApplyPresence sets a user's global presence.
func (s *Store) ApplyPresence(userID string, p model.Presence) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	u, ok := s.users[userID]
	if !ok {
		u = &model.User{ID: userID, Presence: model.PresenceUnknown}
		s.users[userID] = u
	}
	if u.Presence == p {
		return out
	}
	prev := u.Presence
	u.Presence = p
	if prev == model.PresenceOnline && p != model.PresenceOnline {
		u.LastSeenAt = s.now()
	}
	if s.current != nil && s.current.ID == userID {
		s.current.Presence = p
		s.current.LastSeenAt = u.LastSeenAt
	}
	cp := *u
	switch p {
	case model.PresenceOnline:
		out.emit(model.Event{Kind: model.UserCameOnline, User: &cp, At: s.now()})
	case model.PresenceOffline:
		out.emit(model.Event{Kind: model.UserWentOffline, User: &cp, At: s.now()})
	}
	return out
}

// ApplyUsersUpdated merges user profiles, emitting one UsersUpdated event with
// the users that actually changed.
func (s *Store) ApplyUsersUpdated(users []model.User) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	var changed []model.User
	for _, u := range users {
		if s.upsertUser(u) {
			changed = append(changed, *s.userRef(u.ID))
		}
	}
	if len(changed) > 0 {
		out.emit(model.Event{Kind: model.UsersUpdated, Users: changed, At: s.now()})
	}
	return out
}

// upsertUser stores profile fields, keeping presence which only presence
// events change. Callers must hold mu.
func (s *Store) upsertUser(u model.User) bool {
	existing, ok := s.users[u.ID]
	if !ok {
		if u.Presence == "" {
			u.Presence = model.PresenceUnknown
		}
		s.users[u.ID] = &u
		return true
	}
	if existing.Name == u.Name && existing.AvatarURL == u.AvatarURL && existing.UpdatedAt.Equal(u.UpdatedAt) {
		return false
	}
	existing.Name = u.Name
	existing.AvatarURL = u.AvatarURL
	existing.CustomData = u.CustomData
	existing.UpdatedAt = u.UpdatedAt
	if !u.CreatedAt.IsZero() {
		existing.CreatedAt = u.CreatedAt
	}
	return true
}

func (s *Store) putRoom(r model.Room) {
	cp := r.Clone()
	s.rooms[r.ID] = &cp
}

// ApplyRoomState applies a room subscription's initial page of messages. It
// is safe to apply again after a reconnect: already-seen messages are dropped.
func (s *Store) ApplyRoomState(roomID string, msgs []model.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	if _, ok := s.rooms[roomID]; !ok {
		return out
	}
	sortMessages(msgs)
	for _, m := range msgs {
		m.RoomID = roomID
		out.Merge(s.applyMessage(m))
	}
	return out
}

// ApplyNewMessage applies one pushed or acknowledged message, enforcing
// per-room id order. Duplicates are dropped; a gap holds later messages and
// requests one resync.
func (s *Store) ApplyNewMessage(m model.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[m.RoomID]; !ok {
		return Outcome{}
	}
	return s.applyMessage(m)
}

// ApplyMessagesFetched applies one page of a resync fetch. Messages held
// behind the gap are released once it closes. When more is set (the page was
// full) and the gap is still open, the next page is requested instead. A short
// or failed page with the gap still open releases the held messages anyway
// rather than fetching forever.
func (s *Store) ApplyMessagesFetched(roomID string, msgs []model.Message, more bool) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	if _, ok := s.rooms[roomID]; !ok {
		return out
	}
	l := s.log(roomID)
	l.resyncing = false
	sortMessages(msgs)
	for _, m := range msgs {
		m.RoomID = roomID
		if !l.known {
			l.known = true
			l.last = m.ID - 1
		}
		if m.ID <= l.last {
			continue
		}
		if m.ID != l.last+1 {
			l.pending[m.ID] = m
			continue
		}
		out.emit(s.accept(l, m))
		out.Merge(s.drain(l))
	}
	if len(l.pending) == 0 {
		return out
	}
	if more {
		l.resyncing = true
		out.Resyncs = append(out.Resyncs, Resync{RoomID: roomID, AfterID: l.last})
		return out
	}
	for len(l.pending) > 0 {
		next := slices.Min(slices.Collect(maps.Keys(l.pending)))
		l.last = next - 1
		out.Merge(s.drain(l))
	}
	return out
}

// Callers must hold mu.
func (s *Store) applyMessage(m model.Message) Outcome {
	var out Outcome
	l := s.log(m.RoomID)
	if !l.known {
		l.known = true
		l.last = m.ID - 1
	}
	switch {
	case m.ID <= l.last:
		return out
	case m.ID == l.last+1:
		out.emit(s.accept(l, m))
		out.Merge(s.drain(l))
	default:
		if _, held := l.pending[m.ID]; held {
			return out
		}
		l.pending[m.ID] = m
		if !l.resyncing {
			l.resyncing = true
			out.Resyncs = append(out.Resyncs, Resync{RoomID: m.RoomID, AfterID: l.last})
			out.Err = &model.StateInvariantViolation{RoomID: m.RoomID, Expected: l.last + 1, Got: m.ID}
		}
	}
	return out
}

// drain releases held messages that are now contiguous. Callers must hold mu.
func (s *Store) drain(l *roomLog) Outcome {
	var out Outcome
	for {
		m, ok := l.pending[l.last+1]
		if !ok {
			break
		}
		delete(l.pending, m.ID)
		out.emit(s.accept(l, m))
	}
	for id := range l.pending {
		if id <= l.last {
			delete(l.pending, id)
		}
	}
	return out
}

// accept appends m to the room log. Callers must hold mu.
func (s *Store) accept(l *roomLog, m model.Message) model.Event {
	l.last = m.ID
	l.window = append(l.window, m)
	if over := len(l.window) - s.replayWindow; over > 0 {
		l.window = slices.Delete(l.window, 0, over)
	}
	if r, ok := s.rooms[m.RoomID]; ok && m.SenderID != s.currentUserID() {
		r.UnreadCount++
	}
	cp := m
	return model.Event{Kind: model.NewMessage, RoomID: m.RoomID, Message: &cp, User: s.userRef(m.SenderID), At: s.now()}
}

func (s *Store) log(roomID string) *roomLog {
	l, ok := s.logs[roomID]
	if !ok {
		l = &roomLog{pending: make(map[int64]model.Message)}
		s.logs[roomID] = l
	}
	return l
}

// ApplyCursor records a cursor. The latest arrival wins, even if it moves backward.
func (s *Store) ApplyCursor(c model.Cursor) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyCursor(c)
}

// ApplyCursors applies a cursor snapshot, emitting only changed cursors.
func (s *Store) ApplyCursors(cs []model.Cursor) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	for _, c := range cs {
		out.Merge(s.applyCursor(c))
	}
	return out
}

// Callers must hold mu.
func (s *Store) applyCursor(c model.Cursor) Outcome {
	var out Outcome
	r, ok := s.rooms[c.RoomID]
	if !ok {
		return out
	}
	key := cursorKey{c.UserID, c.RoomID}
	if prev, ok := s.cursors[key]; ok && prev.Position == c.Position && prev.Type == c.Type {
		return out
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.cursors[key] = c
	if c.UserID == s.currentUserID() {
		r.UnreadCount = 0
		if l, ok := s.logs[c.RoomID]; ok {
			for _, m := range l.window {
				if m.ID > c.Position && m.SenderID != c.UserID {
					r.UnreadCount++
				}
			}
		}
	}
	cp := c
	out.emit(model.Event{Kind: model.CursorSet, RoomID: c.RoomID, Cursor: &cp, User: s.userRef(c.UserID), At: s.now()})
	return out
}

// ApplyTyping starts or refreshes the typing indicator of (roomID, userID).
// Only the start emits an event; the local user's own typing is ignored.
func (s *Store) ApplyTyping(roomID, userID string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	if _, ok := s.rooms[roomID]; !ok || userID == s.currentUserID() {
		return out
	}
	key := typingKey{roomID, userID}
	_, already := s.typing[key]
	s.typing[key] = s.now().Add(s.typingTimeout)
	if !already {
		out.emit(model.Event{Kind: model.UserStartedTyping, RoomID: roomID, User: s.userRef(userID), At: s.now()})
	}
	return out
}

// Sweep clears expired typing indicators and emits UserStoppedTyping for each.
func (s *Store) Sweep() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	now := s.now()
	var expired []typingKey
	for k, deadline := range s.typing {
		if !now.Before(deadline) {
			expired = append(expired, k)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].roomID != expired[j].roomID {
			return expired[i].roomID < expired[j].roomID
		}
		return expired[i].userID < expired[j].userID
	})
	for _, k := range expired {
		delete(s.typing, k)
		out.emit(model.Event{Kind: model.UserStoppedTyping, RoomID: k.roomID, User: s.userRef(k.userID), At: now})
	}
	return out
}

// NextTypingDeadline returns the earliest pending typing expiry.
func (s *Store) NextTypingDeadline() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var next time.Time
	for _, d := range s.typing {
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	return next, !next.IsZero()
}

func sortMessages(msgs []model.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
}
