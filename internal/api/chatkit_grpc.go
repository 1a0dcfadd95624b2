package api

// Service stubs for proto/chatkit/v1/chatkit.proto, laid out the way
// protoc-gen-go-grpc emits them. Keep the two in step.

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	SessionService_GetStatus_FullMethodName = "/chatkit.v1.SessionService/GetStatus"
	SessionService_Watch_FullMethodName     = "/chatkit.v1.SessionService/Watch"

	RoomService_ListRooms_FullMethodName  = "/chatkit.v1.RoomService/ListRooms"
	RoomService_CreateRoom_FullMethodName = "/chatkit.v1.RoomService/CreateRoom"
	RoomService_JoinRoom_FullMethodName   = "/chatkit.v1.RoomService/JoinRoom"
	RoomService_LeaveRoom_FullMethodName  = "/chatkit.v1.RoomService/LeaveRoom"
	RoomService_UpdateRoom_FullMethodName = "/chatkit.v1.RoomService/UpdateRoom"
	RoomService_DeleteRoom_FullMethodName = "/chatkit.v1.RoomService/DeleteRoom"
	RoomService_SetCursor_FullMethodName  = "/chatkit.v1.RoomService/SetCursor"

	MessageService_ListMessages_FullMethodName   = "/chatkit.v1.MessageService/ListMessages"
	MessageService_SearchMessages_FullMethodName = "/chatkit.v1.MessageService/SearchMessages"
	MessageService_SendMessage_FullMethodName    = "/chatkit.v1.MessageService/SendMessage"
	MessageService_StartTyping_FullMethodName    = "/chatkit.v1.MessageService/StartTyping"
)

// SessionServiceClient is the client API for SessionService.
type SessionServiceClient interface {
	GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type sessionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionServiceClient(cc grpc.ClientConnInterface) SessionServiceClient {
	return &sessionServiceClient{cc}
}

func (c *sessionServiceClient) GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SessionService_GetStatus_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sessionServiceClient) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &SessionService_ServiceDesc.Streams[0], SessionService_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

func _SessionService_Watch_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SessionServiceServer).Watch(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "chatkit.v1.SessionService",
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler: unaryHandler(SessionService_GetStatus_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(SessionServiceServer).GetStatus(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       _SessionService_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "chatkit/v1/chatkit.proto",
}

// RoomServiceClient is the client API for RoomService.
type RoomServiceClient interface {
	ListRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CreateRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	JoinRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	LeaveRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeleteRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetCursor(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type roomServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomServiceClient(cc grpc.ClientConnInterface) RoomServiceClient {
	return &roomServiceClient{cc}
}

func (c *roomServiceClient) ListRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_ListRooms_FullMethodName, in, opts)
}

func (c *roomServiceClient) CreateRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_CreateRoom_FullMethodName, in, opts)
}

func (c *roomServiceClient) JoinRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_JoinRoom_FullMethodName, in, opts)
}

func (c *roomServiceClient) LeaveRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_LeaveRoom_FullMethodName, in, opts)
}

func (c *roomServiceClient) UpdateRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_UpdateRoom_FullMethodName, in, opts)
}

func (c *roomServiceClient) DeleteRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_DeleteRoom_FullMethodName, in, opts)
}

func (c *roomServiceClient) SetCursor(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, RoomService_SetCursor_FullMethodName, in, opts)
}

// RoomServiceServer is the server API for RoomService.
type RoomServiceServer interface {
	ListRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LeaveRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetCursor(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterRoomServiceServer(s grpc.ServiceRegistrar, srv RoomServiceServer) {
	s.RegisterService(&RoomService_ServiceDesc, srv)
}

var RoomService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "chatkit.v1.RoomService",
	HandlerType: (*RoomServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListRooms",
			Handler: unaryHandler(RoomService_ListRooms_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).ListRooms(ctx, in)
			}),
		},
		{
			MethodName: "CreateRoom",
			Handler: unaryHandler(RoomService_CreateRoom_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).CreateRoom(ctx, in)
			}),
		},
		{
			MethodName: "JoinRoom",
			Handler: unaryHandler(RoomService_JoinRoom_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).JoinRoom(ctx, in)
			}),
		},
		{
			MethodName: "LeaveRoom",
			Handler: unaryHandler(RoomService_LeaveRoom_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).LeaveRoom(ctx, in)
			}),
		},
		{
			MethodName: "UpdateRoom",
			Handler: unaryHandler(RoomService_UpdateRoom_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).UpdateRoom(ctx, in)
			}),
		},
		{
			MethodName: "DeleteRoom",
			Handler: unaryHandler(RoomService_DeleteRoom_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).DeleteRoom(ctx, in)
			}),
		},
		{
			MethodName: "SetCursor",
			Handler: unaryHandler(RoomService_SetCursor_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(RoomServiceServer).SetCursor(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatkit/v1/chatkit.proto",
}

// MessageServiceClient is the client API for MessageService.
type MessageServiceClient interface {
	ListMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SearchMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StartTyping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type messageServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMessageServiceClient(cc grpc.ClientConnInterface) MessageServiceClient {
	return &messageServiceClient{cc}
}

func (c *messageServiceClient) ListMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, MessageService_ListMessages_FullMethodName, in, opts)
}

func (c *messageServiceClient) SearchMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, MessageService_SearchMessages_FullMethodName, in, opts)
}

func (c *messageServiceClient) SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, MessageService_SendMessage_FullMethodName, in, opts)
}

func (c *messageServiceClient) StartTyping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, MessageService_StartTyping_FullMethodName, in, opts)
}

// MessageServiceServer is the server API for MessageService.
type MessageServiceServer interface {
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterMessageServiceServer(s grpc.ServiceRegistrar, srv MessageServiceServer) {
	s.RegisterService(&MessageService_ServiceDesc, srv)
}

var MessageService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "chatkit.v1.MessageService",
	HandlerType: (*MessageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListMessages",
			Handler: unaryHandler(MessageService_ListMessages_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(MessageServiceServer).ListMessages(ctx, in)
			}),
		},
		{
			MethodName: "SearchMessages",
			Handler: unaryHandler(MessageService_SearchMessages_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(MessageServiceServer).SearchMessages(ctx, in)
			}),
		},
		{
			MethodName: "SendMessage",
			Handler: unaryHandler(MessageService_SendMessage_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(MessageServiceServer).SendMessage(ctx, in)
			}),
		},
		{
			MethodName: "StartTyping",
			Handler: unaryHandler(MessageService_StartTyping_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(MessageServiceServer).StartTyping(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatkit/v1/chatkit.proto",
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// unaryHandler builds the decode and interceptor plumbing every unary
// method shares.
func unaryHandler(fullMethod string, call func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
