package api

import (
	"context"

	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessagesReply is the ListMessages and SearchMessages response.
type MessagesReply struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// SendReply is the SendMessage response.
type SendReply struct {
	MessageID int64 `json:"message_id"`
}

// MessageService reads history from the replay log and sends through the
// live session.
type MessageService struct {
	db   *store.DB
	chat Chat
}

// NewMessageService creates a new message service.
func NewMessageService(db *store.DB, chat Chat) *MessageService {
	return &MessageService{db: db, chat: chat}
}

func pageLimit(req *structpb.Struct) int {
	if n := num(req, "limit"); n > 0 {
		return int(n)
	}
	return 50
}

func (s *MessageService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	limit := pageLimit(req)
	msgs, err := s.db.ListMessages(str(req, "room_id"), num(req, "before_id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return reply(MessagesReply{Messages: msgs, HasMore: len(msgs) == limit})
}

func (s *MessageService) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "query"); err != nil {
		return nil, err
	}
	limit := pageLimit(req)
	msgs, err := s.db.SearchMessages(str(req, "query"), str(req, "room_id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return reply(MessagesReply{Messages: msgs, HasMore: len(msgs) == limit})
}

func (s *MessageService) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	text := str(req, "text")
	var att *model.Attachment
	if link := str(req, "attachment_link"); link != "" {
		att = &model.Attachment{Link: link, Type: str(req, "attachment_type")}
	}
	if text == "" && att == nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "text or attachment is required")
	}
	id, err := s.chat.SendMessage(ctx, str(req, "room_id"), text, att)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return reply(SendReply{MessageID: id})
}

func (s *MessageService) StartTyping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "room_id"); err != nil {
		return nil, err
	}
	if err := s.chat.StartTyping(ctx, str(req, "room_id")); err != nil {
		return nil, toStatus("start typing", err)
	}
	return &structpb.Struct{}, nil
}
