package api

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatkit/internal/bus"
	"github.com/matheus3301/chatkit/internal/chatkit"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/status"
	"github.com/matheus3301/chatkit/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Chat is the live session the services drive. *chatkit.Session implements it.
type Chat interface {
	Status() status.State
	CurrentUser() *model.CurrentUser
	CreateRoom(ctx context.Context, name string, private bool, memberIDs []string) (model.Room, error)
	JoinRoom(ctx context.Context, roomID string) (model.Room, error)
	LeaveRoom(ctx context.Context, roomID string) error
	UpdateRoom(ctx context.Context, roomID string, upd chatkit.RoomUpdate) error
	DeleteRoom(ctx context.Context, roomID string) error
	SetCursor(ctx context.Context, roomID string, position int64) error
	SendMessage(ctx context.Context, roomID, text string, att *model.Attachment) (int64, error)
	StartTyping(ctx context.Context, roomID string) error
}

// StatusReply is the GetStatus response.
type StatusReply struct {
	Session      string `json:"session"`
	Status       string `json:"status"`
	UserID       string `json:"user_id,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	UptimeMs     int64  `json:"uptime_ms"`
	RoomCount    int64  `json:"room_count"`
	UserCount    int64  `json:"user_count"`
	MessageCount int64  `json:"message_count"`
	LastEventAt  string `json:"last_event_at,omitempty"`
}

// Envelope is one event on the Watch stream.
type Envelope struct {
	EventID          string         `json:"event_id"`
	Session          string         `json:"session"`
	Kind             string         `json:"kind"`
	OccurredAtUnixMs int64          `json:"occurred_at_unix_ms"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// SessionService reports daemon status and streams bus events.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	chat        Chat
	bus         *bus.Bus
	db          *store.DB
}

// NewSessionService creates a new session service. db may be nil.
func NewSessionService(sessionName string, chat Chat, b *bus.Bus, db *store.DB) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		chat:        chat,
		bus:         b,
		db:          db,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := StatusReply{
		Session:  s.sessionName,
		Status:   string(s.chat.Status()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if cu := s.chat.CurrentUser(); cu != nil {
		resp.UserID = cu.ID
		resp.UserName = cu.Name
	}
	if s.db != nil {
		if st, err := s.db.Stats(); err == nil {
			resp.RoomCount, resp.UserCount, resp.MessageCount = st.Rooms, st.Users, st.Messages
		}
		resp.LastEventAt, _ = s.db.SyncState("last_event_at")
	}
	return reply(resp)
}

// Watch streams bus events whose kind starts with the request's "prefix"
// (every event when empty) until the client goes away.
func (s *SessionService) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	prefix := str(req, "prefix")
	if prefix != "" && !strings.HasPrefix(prefix, bus.SessionPrefix) && !strings.HasPrefix(prefix, bus.ChatPrefix) {
		return grpcstatus.Errorf(codes.InvalidArgument, "prefix %q matches no event namespace", prefix)
	}
	sub := s.bus.Subscribe(prefix, 256)
	defer sub.Cancel()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			out, err := reply(s.envelope(evt))
			if err != nil {
				return err
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *SessionService) envelope(evt bus.Event) Envelope {
	env := Envelope{
		EventID:          uuid.New().String(),
		Session:          s.sessionName,
		Kind:             evt.Kind,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
	}
	var payload any = evt.Payload
	if e, ok := evt.Payload.(model.Event); ok {
		payload = wireEvent(e)
	}
	if p, err := toStruct(payload); err == nil {
		env.Payload = p.AsMap()
	}
	return env
}

// eventView is the JSON shape of a chat event on the Watch stream.
type eventView struct {
	SubscriptionID string             `json:"subscription_id,omitempty"`
	RoomID         string             `json:"room_id,omitempty"`
	Room           *model.Room        `json:"room,omitempty"`
	User           *model.User        `json:"user,omitempty"`
	Users          []model.User       `json:"users,omitempty"`
	CurrentUser    *model.CurrentUser `json:"current_user,omitempty"`
	Message        *model.Message     `json:"message,omitempty"`
	Cursor         *model.Cursor      `json:"cursor,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func wireEvent(e model.Event) eventView {
	v := eventView{
		SubscriptionID: e.SubscriptionID,
		RoomID:         e.RoomID,
		Room:           e.Room,
		User:           e.User,
		Users:          e.Users,
		CurrentUser:    e.CurrentUser,
		Message:        e.Message,
		Cursor:         e.Cursor,
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return v
}
