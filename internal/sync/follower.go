package sync

import (
	"context"
	gosync "sync"

	"github.com/matheus3301/chatkit/internal/bus"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/mux"
	"go.uber.org/zap"
)

// RoomSubscriber opens room scoped subscriptions. *chatkit.Session
// implements it.
type RoomSubscriber interface {
	Rooms() []model.Room
	SubscribeRoom(ctx context.Context, roomID string, l model.Listener, opts mux.Options) (mux.Handle, error)
	SubscribeCursors(ctx context.Context, roomID string, l model.Listener) (mux.Handle, error)
}

// Follower keeps a room and a cursor subscription open for every room the
// current user belongs to, so messages and read cursors from other members
// are applied and reach the bus. The listeners discard what they receive;
// the engine persists from the bus.
type Follower struct {
	chat   RoomSubscriber
	bus    *bus.Bus
	logger *zap.Logger

	mu        gosync.Mutex
	following map[string]bool

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewFollower creates a follower.
func NewFollower(chat RoomSubscriber, b *bus.Bus, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{chat: chat, bus: b, logger: logger, following: make(map[string]bool)}
}

// Start follows membership changes on the bus until Stop.
func (f *Follower) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	sub := f.bus.Subscribe(bus.ChatPrefix, 256)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer sub.Cancel()
		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				if ev, ok := evt.Payload.(model.Event); ok {
					f.handle(ctx, ev)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends following. Open subscriptions are left to the session.
func (f *Follower) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// Following lists the followed room ids.
func (f *Follower) Following() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.following))
	for id := range f.following {
		ids = append(ids, id)
	}
	return ids
}

func (f *Follower) handle(ctx context.Context, ev model.Event) {
	switch ev.Kind {
	case model.CurrentUserReceived:
		for _, r := range f.chat.Rooms() {
			f.follow(ctx, r.ID)
		}
	case model.AddedToRoom:
		f.follow(ctx, ev.RoomID)
	case model.RemovedFromRoom, model.RoomDeleted:
		// The session closes the room's subscriptions itself.
		f.mu.Lock()
		delete(f.following, ev.RoomID)
		f.mu.Unlock()
	}
}

func (f *Follower) follow(ctx context.Context, roomID string) {
	if roomID == "" {
		return
	}
	f.mu.Lock()
	if f.following[roomID] {
		f.mu.Unlock()
		return
	}
	f.following[roomID] = true
	f.mu.Unlock()

	discard := model.ListenerFunc(func(model.Event) {})
	if _, err := f.chat.SubscribeRoom(ctx, roomID, discard, mux.Options{}); err != nil {
		f.logger.Warn("follow room", zap.String("room_id", roomID), zap.Error(err))
		f.mu.Lock()
		delete(f.following, roomID)
		f.mu.Unlock()
		return
	}
	if _, err := f.chat.SubscribeCursors(ctx, roomID, discard); err != nil {
		f.logger.Warn("follow cursors", zap.String("room_id", roomID), zap.Error(err))
	}
	f.logger.Info("following room", zap.String("room_id", roomID))
}
