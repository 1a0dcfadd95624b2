// Package chatkit is the entry point of the client core: a Session owns one
// realtime connection for one user and everything derived from it.
package chatkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatkit/internal/attachment"
	"github.com/matheus3301/chatkit/internal/bus"
	"github.com/matheus3301/chatkit/internal/command"
	"github.com/matheus3301/chatkit/internal/credential"
	"github.com/matheus3301/chatkit/internal/fanout"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/mux"
	"github.com/matheus3301/chatkit/internal/state"
	"github.com/matheus3301/chatkit/internal/status"
	"github.com/matheus3301/chatkit/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Session is the explicitly owned client state for one user. Its lifecycle is
// CREATED -> CONNECTING -> ACTIVE -> CLOSED, passing through RECONNECTING and
// DEGRADED while the connection is down.
type Session struct {
	cfg    Config
	logger *zap.Logger
	bus    *bus.Bus
	now    func() time.Time

	status      *status.Machine
	tokens      *credential.Cache
	conn        *transport.Conn
	store       *state.Store
	fanout      *fanout.Fanout
	dispatcher  *command.Dispatcher
	router      *mux.Router
	attachments *attachment.Fetcher

	ready     chan struct{}
	readyOnce sync.Once

	mu           sync.Mutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	userListener model.Listener
	userLost     bool
	authReported bool
	lastTyping   map[string]time.Time
}

// New builds a session. b may be nil; when set every applied event is also
// published on it. Nothing is dialed until Connect.
func New(cfg Config, provider credential.Provider, b *bus.Bus, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	loc, err := transport.ParseLocator(cfg.InstanceLocator)
	if err != nil {
		return nil, err
	}
	url, err := transport.RealtimeURL(cfg.Endpoint, loc, cfg.UserID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		bus:        b,
		now:        time.Now,
		status:     status.NewMachine(b),
		ready:      make(chan struct{}),
		lastTyping: make(map[string]time.Time),
	}
	s.tokens = credential.NewCache(provider, cfg.UserID, cfg.TokenParams, cfg.RefreshMargin, logger.Named("credential"))
	s.attachments = attachment.NewFetcher(s.tokens, logger.Named("attachment"))
	s.store = state.New(state.WithTypingTimeout(cfg.TypingTimeout), state.WithReplayWindow(cfg.ReplayWindow))
	s.fanout = fanout.New(cfg.QueueLimit, s.attachments, logger.Named("fanout"))
	s.conn = transport.New(url, s.tokens, cfg.Reconnect, transport.Handler{
		OnFrame:        s.onFrame,
		OnConnected:    s.onConnected,
		OnDisconnected: s.onDisconnected,
		OnExhausted:    s.onExhausted,
		OnAuthFailed:   s.onAuthFailed,
	}, logger.Named("transport"))
	s.dispatcher = command.NewDispatcher(s.conn, cfg.CommandTimeout, logger.Named("command"))
	s.router = mux.NewRouter(s.conn, s.store, s.fanout, s.dispatcher, logger.Named("mux"))
	s.router.SetTap(s.observe)
	return s, nil
}

// Status returns the lifecycle state.
func (s *Session) Status() status.State {
	return s.status.Current()
}

// StatusChanged returns a channel closed on the next lifecycle transition.
func (s *Session) StatusChanged() <-chan struct{} {
	return s.status.Changed()
}

// Connect starts the connection, subscribes the user scope with listener and
// waits for the current user. On error the session keeps trying in the
// background until Close.
func (s *Session) Connect(ctx context.Context, listener model.Listener) (*model.CurrentUser, error) {
	if err := s.status.Transition(status.Connecting, "connect"); err != nil {
		if s.status.Current() == status.Closed {
			return nil, model.ErrSessionClosed
		}
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return nil, errors.New("connect: already started")
	}
	s.cancel = cancel
	s.userListener = listener
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.router.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		_ = s.conn.Run(runCtx)
	}()

	if err := s.subscribeUser(ctx); err != nil {
		return nil, err
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for current user: %w", ctx.Err())
	}
	return s.store.CurrentUser(), nil
}

func (s *Session) subscribeUser(ctx context.Context) error {
	s.mu.Lock()
	l := s.userListener
	s.mu.Unlock()
	if l == nil {
		l = model.ListenerFunc(func(model.Event) {})
	}
	if _, err := s.router.Subscribe(ctx, mux.KindUser, s.cfg.UserID, l, mux.Options{RemovedFromRoomWithRoom: true}); err != nil {
		return fmt.Errorf("subscribe user: %w", err)
	}
	s.mu.Lock()
	s.userLost = false
	s.mu.Unlock()
	return nil
}

// observe runs on the sequencing goroutine for every applied event.
func (s *Session) observe(e model.Event) {
	if e.Kind == model.CurrentUserReceived {
		s.readyOnce.Do(func() { close(s.ready) })
		s.transition(status.Active, "current user received")
	}
	if s.bus != nil {
		s.bus.Publish(bus.FromChat(e))
	}
}

func (s *Session) transition(to status.State, reason string) {
	if s.status.Current() == status.Closed {
		return
	}
	if err := s.status.Transition(to, reason); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (s *Session) onFrame(f transport.Frame) {
	s.router.HandleFrame(f)
}

func (s *Session) onConnected() {
	s.mu.Lock()
	s.authReported = false
	lost := s.userLost
	s.mu.Unlock()

	s.router.HandleConnected()
	if st := s.status.Current(); st == status.Reconnecting || st == status.Degraded {
		s.transition(status.Active, "reconnected")
	}
	if lost {
		// The user scope was errored when the reconnect budget ran out.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
			defer cancel()
			if err := s.subscribeUser(ctx); err != nil {
				s.logger.Warn("restore user subscription", zap.Error(err))
			}
		}()
	}
}

func (s *Session) onDisconnected(err error) {
	s.router.HandleDisconnected(err)
	s.transition(status.Reconnecting, "connection lost")
}

func (s *Session) onExhausted(err error) {
	s.mu.Lock()
	s.userLost = true
	s.mu.Unlock()
	s.router.HandleExhausted(err)
	s.transition(status.Degraded, err.Error())
}

func (s *Session) onAuthFailed(err error) {
	s.mu.Lock()
	reported := s.authReported
	s.authReported = true
	s.mu.Unlock()
	if reported {
		return
	}
	s.logger.Error("authentication failed after refresh", zap.Error(err))
	s.router.HandleSessionError(err)
}

// Subscriptions lists the open subscriptions.
func (s *Session) Subscriptions(ctx context.Context) ([]mux.Info, error) {
	return s.router.Subscriptions(ctx)
}

// SubscribeRoom subscribes to a room's messages, membership, typing and
// presence of its members.
func (s *Session) SubscribeRoom(ctx context.Context, roomID string, l model.Listener, opts mux.Options) (mux.Handle, error) {
	if err := s.usable(); err != nil {
		return mux.Handle{}, err
	}
	return s.router.Subscribe(ctx, mux.KindRoom, roomID, l, opts)
}

// SubscribeCursors subscribes to the read cursors of a room.
func (s *Session) SubscribeCursors(ctx context.Context, roomID string, l model.Listener) (mux.Handle, error) {
	if err := s.usable(); err != nil {
		return mux.Handle{}, err
	}
	return s.router.Subscribe(ctx, mux.KindCursor, roomID, l, mux.Options{})
}

// Unsubscribe closes a subscription. Its listener receives no further events.
func (s *Session) Unsubscribe(ctx context.Context, h mux.Handle) error {
	if s.status.Current() == status.Closed {
		return model.ErrSessionClosed
	}
	return s.router.Unsubscribe(ctx, h)
}

func (s *Session) usable() error {
	switch s.status.Current() {
	case status.Closed:
		return model.ErrSessionClosed
	case status.Created:
		return model.ErrNoCurrentUser
	}
	return nil
}

// CurrentUser returns the current user, or nil before Connect completes.
func (s *Session) CurrentUser() *model.CurrentUser { return s.store.CurrentUser() }

// Rooms returns the rooms the current user belongs to.
func (s *Session) Rooms() []model.Room { return s.store.Rooms() }

// Room returns one joined room.
func (s *Session) Room(id string) (model.Room, bool) { return s.store.Room(id) }

// Members returns the known members of a room.
func (s *Session) Members(roomID string) []model.User { return s.store.Members(roomID) }

// User returns a known user.
func (s *Session) User(id string) (model.User, bool) { return s.store.User(id) }

// Messages returns the retained messages of a room.
func (s *Session) Messages(roomID string) []model.Message { return s.store.Messages(roomID) }

// Cursor returns the read cursor of userID in roomID.
func (s *Session) Cursor(userID, roomID string) (model.Cursor, bool) {
	return s.store.Cursor(userID, roomID)
}

// TypingUsers returns the ids currently typing in a room.
func (s *Session) TypingUsers(roomID string) []string { return s.store.TypingUsers(roomID) }

// FetchAttachment resolves a fetch-required attachment link.
func (s *Session) FetchAttachment(ctx context.Context, link string) (model.FetchedAttachment, error) {
	return s.attachments.Fetch(ctx, link)
}

// Close shuts the session down. Open subscriptions are unsubscribed on a
// best-effort basis, pending commands fail with ErrSessionClosed and queued
// events are drained to their listeners. Close is idempotent.
func (s *Session) Close() error {
	prev := s.status.Current()
	if prev == status.Closed {
		return nil
	}

	var err error
	if prev != status.Created && s.conn.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		infos, lerr := s.router.Subscriptions(ctx)
		err = multierr.Append(err, lerr)
		for _, info := range infos {
			ferr := s.conn.Send(ctx, transport.Frame{Type: transport.TypeUnsubscribe, SubID: info.ID})
			if !errors.Is(ferr, model.ErrNotConnected) {
				err = multierr.Append(err, ferr)
			}
		}
		cancel()
	}

	if terr := s.status.Transition(status.Closed, "closed by caller"); terr != nil {
		err = multierr.Append(err, terr)
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.dispatcher.FailAll(model.ErrSessionClosed)
	s.fanout.CloseAll()
	s.logger.Info("session closed", zap.String("user_id", s.cfg.UserID))
	return err
}
