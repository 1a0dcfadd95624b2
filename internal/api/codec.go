// Package api is the daemon's gRPC surface, described by
// proto/chatkit/v1/chatkit.proto. Requests and responses are
// google.protobuf.Struct values.
package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatkit/internal/model"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a Struct into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// reply wraps toStruct for handlers.
func reply(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return s, nil
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func num(req *structpb.Struct, key string) int64 {
	return int64(req.GetFields()[key].GetNumberValue())
}

func boolean(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func strs(req *structpb.Struct, key string) []string {
	var out []string
	for _, v := range req.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func required(req *structpb.Struct, keys ...string) error {
	for _, k := range keys {
		if str(req, k) == "" {
			return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", k)
		}
	}
	return nil
}

// toStatus maps session errors onto gRPC codes.
func toStatus(op string, err error) error {
	var (
		rejected *model.CommandRejected
		authErr  *model.AuthError
		protoErr *model.ProtocolError
	)
	code := codes.Internal
	switch {
	case errors.Is(err, model.ErrUnknownRoom):
		code = codes.NotFound
	case errors.Is(err, model.ErrNoCurrentUser):
		code = codes.FailedPrecondition
	case errors.Is(err, model.ErrSessionClosed), errors.Is(err, model.ErrNotConnected):
		code = codes.Unavailable
	case errors.Is(err, model.ErrCommandTimeout):
		code = codes.DeadlineExceeded
	case errors.As(err, &rejected):
		code = codes.FailedPrecondition
		if rejected.Status == 404 {
			code = codes.NotFound
		} else if rejected.Status == 403 {
			code = codes.PermissionDenied
		}
	case errors.As(err, &authErr):
		code = codes.Unauthenticated
	case errors.As(err, &protoErr):
		code = codes.DataLoss
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
