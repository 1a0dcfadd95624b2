package api

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatkit/internal/chatkit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to a daemon.
type Client struct {
	conn     *grpc.ClientConn
	Session  SessionServiceClient
	Rooms    RoomServiceClient
	Messages MessageServiceClient
}

// NewClient dials the daemon's Unix domain socket and returns typed service
// clients. The connection is established lazily.
func NewClient(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient("unix://"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:     conn,
		Session:  NewSessionServiceClient(conn),
		Rooms:    NewRoomServiceClient(conn),
		Messages: NewMessageServiceClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type unaryCall func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

// call encodes req, invokes fn and decodes the reply into out. out may be nil.
func call(ctx context.Context, fn unaryCall, req map[string]any, out any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := fn(ctx, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return FromStruct(resp, out)
}

func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var r StatusReply
	err := call(ctx, c.Session.GetStatus, nil, &r)
	return r, err
}

func (c *Client) ListRooms(ctx context.Context, limit int) (RoomsReply, error) {
	var r RoomsReply
	err := call(ctx, c.Rooms.ListRooms, map[string]any{"limit": limit}, &r)
	return r, err
}

func (c *Client) CreateRoom(ctx context.Context, name string, private bool, memberIDs []string) (RoomReply, error) {
	members := make([]any, len(memberIDs))
	for i, id := range memberIDs {
		members[i] = id
	}
	var r RoomReply
	err := call(ctx, c.Rooms.CreateRoom, map[string]any{
		"name":       name,
		"private":    private,
		"member_ids": members,
	}, &r)
	return r, err
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) (RoomReply, error) {
	var r RoomReply
	err := call(ctx, c.Rooms.JoinRoom, map[string]any{"room_id": roomID}, &r)
	return r, err
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return call(ctx, c.Rooms.LeaveRoom, map[string]any{"room_id": roomID}, nil)
}

// UpdateRoom sends only the fields set in upd.
func (c *Client) UpdateRoom(ctx context.Context, roomID string, upd chatkit.RoomUpdate) error {
	req := map[string]any{"room_id": roomID}
	if upd.Name != nil {
		req["name"] = *upd.Name
	}
	if upd.Private != nil {
		req["private"] = *upd.Private
	}
	if upd.CustomData != nil {
		req["custom_data"] = upd.CustomData
	}
	return call(ctx, c.Rooms.UpdateRoom, req, nil)
}

func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return call(ctx, c.Rooms.DeleteRoom, map[string]any{"room_id": roomID}, nil)
}

func (c *Client) SetCursor(ctx context.Context, roomID string, position int64) error {
	return call(ctx, c.Rooms.SetCursor, map[string]any{"room_id": roomID, "position": position}, nil)
}

func (c *Client) ListMessages(ctx context.Context, roomID string, beforeID int64, limit int) (MessagesReply, error) {
	var r MessagesReply
	err := call(ctx, c.Messages.ListMessages, map[string]any{
		"room_id":   roomID,
		"before_id": beforeID,
		"limit":     limit,
	}, &r)
	return r, err
}

func (c *Client) Search(ctx context.Context, query, roomID string, limit int) (MessagesReply, error) {
	var r MessagesReply
	err := call(ctx, c.Messages.SearchMessages, map[string]any{
		"query":   query,
		"room_id": roomID,
		"limit":   limit,
	}, &r)
	return r, err
}

func (c *Client) Send(ctx context.Context, roomID, text string) (SendReply, error) {
	var r SendReply
	err := call(ctx, c.Messages.SendMessage, map[string]any{"room_id": roomID, "text": text}, &r)
	return r, err
}

func (c *Client) StartTyping(ctx context.Context, roomID string) error {
	return call(ctx, c.Messages.StartTyping, map[string]any{"room_id": roomID}, nil)
}

// Watch streams events matching prefix to fn until ctx ends, the stream
// fails or fn returns an error.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(Envelope) error) error {
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	stream, err := c.Session.Watch(ctx, in)
	if err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		var env Envelope
		if err := FromStruct(msg, &env); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
