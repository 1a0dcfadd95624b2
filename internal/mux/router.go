package mux

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatkit/internal/command"
	"github.com/matheus3301/chatkit/internal/fanout"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/state"
	"github.com/matheus3301/chatkit/internal/transport"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Kind is the scope of a subscription.
type Kind string

const (
	KindUser   Kind = "user"
	KindRoom   Kind = "room"
	KindCursor Kind = "cursor"
)

// SubState is a subscription's lifecycle state.
type SubState string

const (
	Pending SubState = "pending"
	Active  SubState = "active"
	Closed  SubState = "closed"
	Errored SubState = "errored"
)

// Options tune a single subscribe call.
type Options struct {
	// MessageLimit is the initial page size of a room subscription. Zero
	// lets the server decide.
	MessageLimit int
	// RemovedFromRoomWithRoom keeps the room snapshot on RemovedFromRoom
	// events; otherwise only the room id is delivered.
	RemovedFromRoomWithRoom bool
}

// Handle identifies a subscription to its owner.
type Handle struct {
	ID     string
	Kind   Kind
	Target string
}

// Info is a read-only view of a subscription.
type Info struct {
	Handle
	State SubState
	Seq   uint64
}

// Conn is the part of the transport the router needs.
type Conn interface {
	Send(ctx context.Context, f transport.Frame) error
	Connected() bool
}

type subscription struct {
	id       string
	kind     Kind
	target   string
	opts     Options
	state    SubState
	seq      uint64
	replayed bool
}

func (s *subscription) handle() Handle {
	return Handle{ID: s.id, Kind: s.kind, Target: s.target}
}

const resyncPageSize = 100

// Router owns the subscriptions and is the single goroutine that mutates
// session state. Transport frames, command acks, typing sweeps and local
// requests are all serialized through its inbox.
type Router struct {
	conn       Conn
	store      *state.Store
	fanout     *fanout.Fanout
	dispatcher *command.Dispatcher
	logger     *zap.Logger
	sweepEvery time.Duration

	inbox chan func()
	done  chan struct{}
	ctx   context.Context
	subs  map[string]*subscription
	tap   func(model.Event)

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewRouter creates a router. Run must be started before it is used.
func NewRouter(conn Conn, st *state.Store, f *fanout.Fanout, d *command.Dispatcher, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	sweep := st.TypingTimeout() / 4
	if sweep < 50*time.Millisecond {
		sweep = 50 * time.Millisecond
	}
	return &Router{
		conn:       conn,
		store:      st,
		fanout:     f,
		dispatcher: d,
		logger:     logger,
		sweepEvery: sweep,
		inbox:      make(chan func(), 1024),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		subs:       make(map[string]*subscription),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// SetTap registers fn to observe every applied event before routing. fn runs
// on the sequencing goroutine and must not block. Call before Run.
func (r *Router) SetTap(fn func(model.Event)) {
	r.tap = fn
}

// Run processes the inbox until ctx ends.
func (r *Router) Run(ctx context.Context) {
	r.ctx = ctx
	defer close(r.done)
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-ticker.C:
			r.route(r.store.Sweep(), "")
		case <-ctx.Done():
			return
		}
	}
}

// post queues fn on the sequencing goroutine.
func (r *Router) post(fn func()) {
	select {
	case r.inbox <- fn:
	case <-r.done:
	}
}

// exec runs fn on the sequencing goroutine and waits for it.
func (r *Router) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case r.inbox <- func() { fn(); close(finished) }:
	case <-r.done:
		return model.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return model.ErrSessionClosed
	}
}

func (r *Router) newID() string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), r.entropy).String()
}

// Subscribe registers a subscription. It starts pending and becomes active on
// its initial state.
func (r *Router) Subscribe(ctx context.Context, kind Kind, target string, l model.Listener, opts Options) (Handle, error) {
	sub := &subscription{id: r.newID(), kind: kind, target: target, opts: opts, state: Pending}
	r.fanout.Register(sub.id, l)
	err := r.exec(ctx, func() {
		r.subs[sub.id] = sub
		if r.conn.Connected() {
			r.sendSubscribe(sub)
		}
	})
	if err != nil {
		r.fanout.Close(sub.id)
		return Handle{}, err
	}
	r.logger.Info("subscribed", zap.String("sub_id", sub.id), zap.String("kind", string(kind)), zap.String("target", target))
	return sub.handle(), nil
}

// Unsubscribe closes a subscription. Unknown handles are ignored.
func (r *Router) Unsubscribe(ctx context.Context, h Handle) error {
	return r.exec(ctx, func() {
		sub, ok := r.subs[h.ID]
		if !ok {
			return
		}
		if r.conn.Connected() {
			if err := r.conn.Send(r.ctx, transport.Frame{Type: transport.TypeUnsubscribe, SubID: sub.id}); err != nil {
				r.logger.Debug("send unsubscribe", zap.Error(err))
			}
		}
		r.closeSub(sub, Closed)
	})
}

// Subscriptions lists the open subscriptions ordered by id.
func (r *Router) Subscriptions(ctx context.Context) ([]Info, error) {
	var out []Info
	err := r.exec(ctx, func() {
		for _, s := range r.subs {
			out = append(out, Info{Handle: s.handle(), State: s.state, Seq: s.seq})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// HandleFrame queues an inbound frame. It is the transport's OnFrame hook.
func (r *Router) HandleFrame(f transport.Frame) {
	r.post(func() { r.handleFrame(f) })
}

// HandleConnected re-issues every pending subscription.
func (r *Router) HandleConnected() {
	r.post(func() {
		for _, sub := range r.sorted() {
			if sub.state == Pending {
				r.sendSubscribe(sub)
			}
		}
	})
}

// HandleDisconnected moves every open subscription back to pending.
func (r *Router) HandleDisconnected(error) {
	r.post(func() {
		for _, sub := range r.subs {
			sub.state = Pending
		}
	})
}

// HandleExhausted errors every open subscription once and closes it.
func (r *Router) HandleExhausted(err error) {
	r.post(func() {
		for _, sub := range r.sorted() {
			r.fail(sub, err)
		}
	})
}

// HandleSessionError surfaces err on every user subscription without
// closing it.
func (r *Router) HandleSessionError(err error) {
	r.post(func() {
		for _, sub := range r.sorted() {
			if sub.kind == KindUser {
				r.deliver(sub, model.Event{Kind: model.ErrorOccurred, Err: err, At: time.Now()})
			}
		}
	})
}

func (r *Router) sorted() []*subscription {
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func (r *Router) sendSubscribe(sub *subscription) {
	f := transport.Frame{Type: transport.TypeSubscribe, SubID: sub.id, Kind: string(sub.kind), Target: sub.target}
	if sub.kind == KindRoom && sub.opts.MessageLimit > 0 {
		f.Params = map[string]any{"message_limit": sub.opts.MessageLimit}
	}
	sub.state = Pending
	if err := r.conn.Send(r.ctx, f); err != nil {
		// Retried on the next connect.
		r.logger.Warn("send subscribe", zap.String("sub_id", sub.id), zap.Error(err))
	}
}

func (r *Router) handleFrame(f transport.Frame) {
	switch f.Type {
	case transport.TypeEvent:
		r.handleEvent(f)
	case transport.TypeSubError:
		sub, ok := r.subs[f.SubID]
		if !ok {
			return
		}
		r.fail(sub, fmt.Errorf("subscription %s: %s", sub.id, f.Error.String()))
	case transport.TypeAck:
		r.handleAck(f)
	case transport.TypeReject:
		if !r.dispatcher.Reject(f.ID, f.Error) {
			r.logger.Info("reject for unknown command", zap.String("id", f.ID))
		}
	case transport.TypeError:
		r.logger.Warn("server error", zap.String("error", f.Error.String()))
	default:
		r.logger.Debug("ignoring frame", zap.String("type", f.Type))
	}
}

func (r *Router) handleEvent(f transport.Frame) {
	sub, ok := r.subs[f.SubID]
	if !ok {
		// Raced with unsubscribe.
		return
	}

	out, err := apply(r.store, sub, f.EventName, f.Data)
	if err != nil {
		perr := &model.ProtocolError{SubscriptionID: sub.id, EventName: f.EventName, Err: err}
		r.logger.Warn("malformed event, resubscribing", zap.Error(perr))
		r.resubscribe(sub)
		return
	}
	if out.Err != nil {
		r.logger.Info("room out of sync", zap.Error(out.Err))
	}

	if f.EventName == evInitialState {
		sub.state = Active
		if sub.kind == KindRoom && !sub.replayed {
			sub.replayed = true
			r.replay(sub)
			r.route(out, sub.id)
			return
		}
	}
	r.route(out, "")
}

// replay delivers the retained messages of a room to a newly active room
// subscription.
func (r *Router) replay(sub *subscription) {
	msgs := r.store.Messages(sub.target)
	if n := sub.opts.MessageLimit; n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for i := range msgs {
		m := msgs[i]
		u, ok := r.store.User(m.SenderID)
		if !ok {
			u = model.User{ID: m.SenderID, Presence: model.PresenceUnknown}
		}
		r.deliver(sub, model.Event{Kind: model.NewMessage, RoomID: m.RoomID, Message: &m, User: &u, At: time.Now()})
	}
}

func (r *Router) resubscribe(sub *subscription) {
	if !r.conn.Connected() {
		sub.state = Pending
		return
	}
	if err := r.conn.Send(r.ctx, transport.Frame{Type: transport.TypeUnsubscribe, SubID: sub.id}); err != nil {
		r.logger.Debug("send unsubscribe", zap.Error(err))
	}
	r.sendSubscribe(sub)
}

func (r *Router) handleAck(f transport.Frame) {
	name := f.Command
	if name == "" {
		name, _ = r.dispatcher.Name(f.ID)
	}
	out, err := applyAck(r.store, name, f.Data)
	if err != nil {
		r.logger.Warn("malformed ack", zap.String("command", name), zap.Error(err))
	}
	r.route(out, "")
	if !r.dispatcher.Ack(f.ID, f.Data) {
		r.logger.Info("late ack applied", zap.String("command", name), zap.String("id", f.ID))
	}
}

// fail surfaces err once to the subscription's listener and closes it.
func (r *Router) fail(sub *subscription, err error) {
	r.logger.Warn("subscription errored", zap.String("sub_id", sub.id), zap.Error(err))
	sub.state = Errored
	r.deliver(sub, model.Event{Kind: model.ErrorOccurred, Err: err, RoomID: sub.target, At: time.Now()})
	r.closeSub(sub, Closed)
}

func (r *Router) closeSub(sub *subscription, st SubState) {
	sub.state = st
	delete(r.subs, sub.id)
	r.fanout.Close(sub.id)
}

// route dispatches the outcome's events to matching subscriptions and starts
// any requested resyncs. skip excludes one subscription.
func (r *Router) route(out state.Outcome, skip string) {
	for _, rs := range out.Resyncs {
		go r.fetchMissing(rs)
	}
	for _, e := range out.Events {
		if r.tap != nil {
			r.tap(e)
		}
		terminal := e.Kind == model.RoomDeleted || e.Kind == model.RemovedFromRoom
		var ended []*subscription
		for _, sub := range r.sorted() {
			if sub.id == skip {
				continue
			}
			scoped := sub.kind != KindUser && sub.target == e.RoomID
			if !r.matches(sub, e) && !(terminal && scoped) {
				continue
			}
			ev := e
			if ev.Kind == model.RemovedFromRoom && !sub.opts.RemovedFromRoomWithRoom {
				ev.Room = nil
			}
			r.deliver(sub, ev)
			if terminal && scoped {
				ended = append(ended, sub)
			}
		}
		for _, sub := range ended {
			r.closeSub(sub, Closed)
		}
	}
}

func (r *Router) deliver(sub *subscription, e model.Event) {
	sub.seq++
	e.SubscriptionID = sub.id
	e.Seq = sub.seq
	r.fanout.Deliver(e)
}

func (r *Router) matches(sub *subscription, e model.Event) bool {
	switch sub.kind {
	case KindUser:
		return e.Global()
	case KindRoom:
		switch e.Kind {
		case model.CurrentUserReceived, model.AddedToRoom, model.ErrorOccurred:
			return false
		case model.UserCameOnline, model.UserWentOffline:
			return e.User != nil && r.isMember(sub.target, e.User.ID)
		case model.UsersUpdated:
			for _, u := range e.Users {
				if r.isMember(sub.target, u.ID) {
					return true
				}
			}
			return false
		}
		return e.RoomID == sub.target
	case KindCursor:
		return e.Kind == model.CursorSet && e.RoomID == sub.target
	}
	return false
}

func (r *Router) isMember(roomID, userID string) bool {
	room, ok := r.store.Room(roomID)
	return ok && room.HasMember(userID)
}

// fetchMissing fetches one page of a message gap. A full page that leaves the
// gap open makes the store request the next one. On failure the held messages
// are released so the room keeps flowing.
func (r *Router) fetchMissing(rs state.Resync) {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	var msgs []model.Message
	data, err := r.dispatcher.Do(ctx, command.FetchMessages, map[string]any{
		"room_id":  rs.RoomID,
		"after_id": rs.AfterID,
		"limit":    resyncPageSize,
	})
	if err == nil {
		var p ackPayload
		if err = json.Unmarshal(data, &p); err == nil {
			msgs = p.Messages
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("resync fetch failed", zap.String("room_id", rs.RoomID), zap.Error(err))
	}
	more := err == nil && len(msgs) >= resyncPageSize
	r.post(func() {
		r.route(r.store.ApplyMessagesFetched(rs.RoomID, msgs, more), "")
	})
}
