package api

import (
	"context"

	"github.com/matheus3301/chatkit/internal/chatkit"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RoomsReply is the ListRooms response.
type RoomsReply struct {
	Rooms   []model.Room `json:"rooms"`
	HasMore bool         `json:"has_more"`
}

// RoomReply carries a single room.
type RoomReply struct {
	Room model.Room `json:"room"`
}

// RoomService lists rooms from the replay log and runs membership commands
// on the live session.
type RoomService struct {
	db   *store.DB
	chat Chat
}

// NewRoomService creates a new room service.
func NewRoomService(db *store.DB, chat Chat) *RoomService {
	return &RoomService{db: db, chat: chat}
}

func (s *RoomService) ListRooms(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := 50
	if n := num(req, "limit"); n > 0 {
		limit = int(n)
	}
	rooms, err := s.db.ListRooms(limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list rooms: %v", err)
	}
	return reply(RoomsReply{Rooms: rooms, HasMore: len(rooms) == limit})
}

func (s *RoomService) CreateRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "name"); err != nil {
		return nil, err
	}
	room, err := s.chat.CreateRoom(ctx, str(req, "name"), boolean(req, "private"), strs(req, "member_ids"))
	if err != nil {
		return nil, toStatus("create room", err)
	}
	return reply(RoomReply{Room: room})
}

func (s *RoomService) JoinRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	room, err := s.chat.JoinRoom(ctx, str(req, "room_id"))
	if err != nil {
		return nil, toStatus("join room", err)
	}
	return reply(RoomReply{Room: room})
}

func (s *RoomService) LeaveRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	if err := s.chat.LeaveRoom(ctx, str(req, "room_id")); err != nil {
		return nil, toStatus("leave room", err)
	}
	return &structpb.Struct{}, nil
}

// UpdateRoom changes only the keys present in the request.
func (s *RoomService) UpdateRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	fields := req.GetFields()
	var upd chatkit.RoomUpdate
	if v, ok := fields["name"]; ok {
		name := v.GetStringValue()
		if name == "" {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "name must not be empty")
		}
		upd.Name = &name
	}
	if v, ok := fields["private"]; ok {
		private := v.GetBoolValue()
		upd.Private = &private
	}
	if v, ok := fields["custom_data"]; ok {
		upd.CustomData = v.GetStructValue().AsMap()
	}
	if upd.Name == nil && upd.Private == nil && upd.CustomData == nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "nothing to update")
	}
	if err := s.chat.UpdateRoom(ctx, str(req, "room_id"), upd); err != nil {
		return nil, toStatus("update room", err)
	}
	return &structpb.Struct{}, nil
}

func (s *RoomService) DeleteRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	if err := s.chat.DeleteRoom(ctx, str(req, "room_id")); err != nil {
		return nil, toStatus("delete room", err)
	}
	return &structpb.Struct{}, nil
}

func (s *RoomService) SetCursor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	pos := num(req, "position")
	if pos <= 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "position must be positive")
	}
	if err := s.chat.SetCursor(ctx, str(req, "room_id"), pos); err != nil {
		return nil, toStatus("set cursor", err)
	}
	return &structpb.Struct{}, nil
}
