// Package sync persists the session's applied events into the replay log.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/chatkit/internal/bus"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/store"
	"go.uber.org/zap"
)

// Sync state keys.
const (
	KeyCurrentUser = "current_user"
	KeyLastEvent   = "last_event_at"
)

// RoomSource is the live view rooms are re-read from after membership and
// cursor changes. *chatkit.Session implements it.
type RoomSource interface {
	Room(id string) (model.Room, bool)
	Rooms() []model.Room
}

// Engine copies chat events from the bus into the store. Writes are
// idempotent, so replays after a reconnect are harmless.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	rooms  RoomSource
	logger *zap.Logger

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewEngine creates an engine. rooms may be nil, in which case membership
// changes are not persisted.
func NewEngine(db *store.DB, b *bus.Bus, rooms RoomSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, bus: b, rooms: rooms, logger: logger}
}

// Start consumes chat events until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	sub := e.bus.Subscribe(bus.ChatPrefix, 1024)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer sub.Cancel()
		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				e.handle(evt)
			case <-ctx.Done():
				// Events already queued were applied before Stop; keep them.
				for {
					select {
					case evt, ok := <-sub.C:
						if !ok {
							return
						}
						e.handle(evt)
					default:
						if n := sub.Dropped(); n > 0 {
							e.logger.Warn("replay log missed events", zap.Uint64("dropped", n))
						}
						return
					}
				}
			}
		}
	}()
}

func (e *Engine) handle(evt bus.Event) {
	ce, ok := evt.Payload.(model.Event)
	if !ok {
		return
	}
	if err := e.Ingest(ce); err != nil {
		e.logger.Error("failed to persist event", zap.String("kind", string(ce.Kind)), zap.Error(err))
	}
}

// Stop ends consumption and waits for the in-progress write.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Ingest persists one applied event.
func (e *Engine) Ingest(ev model.Event) error {
	var err error
	switch ev.Kind {
	case model.CurrentUserReceived:
		err = e.ingestCurrentUser(ev.CurrentUser)
	case model.AddedToRoom, model.RoomUpdated:
		if ev.Room != nil {
			err = e.db.UpsertRoom(*ev.Room)
		}
	case model.RemovedFromRoom, model.RoomDeleted:
		err = e.db.MarkRoomDeleted(ev.RoomID)
	case model.UserJoinedRoom, model.UserLeftRoom:
		err = e.refreshRoom(ev.RoomID)
		if err == nil && ev.User != nil {
			err = e.db.UpsertUser(*ev.User)
		}
	case model.UserCameOnline, model.UserWentOffline:
		if ev.User != nil {
			err = e.db.UpsertUser(*ev.User)
		}
	case model.UsersUpdated:
		for _, u := range ev.Users {
			if err = e.db.UpsertUser(u); err != nil {
				break
			}
		}
	case model.NewMessage:
		if ev.Message != nil {
			err = e.db.UpsertMessage(*ev.Message)
		}
		if err == nil {
			err = e.refreshUnread(ev.RoomID)
		}
	case model.CursorSet:
		if ev.Cursor != nil {
			err = e.db.UpsertCursor(*ev.Cursor)
		}
		if err == nil {
			err = e.refreshUnread(ev.RoomID)
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", ev.Kind, err)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return e.db.SetSyncState(KeyLastEvent, at.UTC().Format(time.RFC3339Nano))
}

func (e *Engine) ingestCurrentUser(cu *model.CurrentUser) error {
	if cu == nil {
		return nil
	}
	if err := e.db.UpsertUser(cu.User); err != nil {
		return err
	}
	if err := e.db.SetSyncState(KeyCurrentUser, cu.ID); err != nil {
		return err
	}
	if e.rooms == nil {
		return nil
	}
	for _, r := range e.rooms.Rooms() {
		if err := e.db.UpsertRoom(r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) refreshRoom(id string) error {
	if e.rooms == nil {
		return nil
	}
	r, ok := e.rooms.Room(id)
	if !ok {
		return nil
	}
	return e.db.UpsertRoom(r)
}

func (e *Engine) refreshUnread(id string) error {
	if e.rooms == nil {
		return nil
	}
	r, ok := e.rooms.Room(id)
	if !ok {
		return nil
	}
	return e.db.SetUnread(id, r.UnreadCount)
}
