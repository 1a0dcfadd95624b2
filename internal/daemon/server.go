package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/matheus3301/chatkit/internal/api"
	"github.com/matheus3301/chatkit/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"
)

// Server is the daemon's gRPC endpoint on the session's unix socket.
type Server struct {
	srv        *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the socket (owner-only) and registers the API services.
func NewServer(
	p Params,
	logger *zap.Logger,
	sessionSvc *api.SessionService,
	roomSvc *api.RoomService,
	messageSvc *api.MessageService,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	if err := session.ValidateSocketPath(socketPath); err != nil {
		return nil, err
	}

	// The session lock is held, so a socket left here belongs to a dead daemon.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{listener: listener, socketPath: socketPath, logger: logger.Named("grpc")}
	s.srv = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.logUnary),
		grpc.ChainStreamInterceptor(s.logStream),
	)
	api.RegisterSessionServiceServer(s.srv, sessionSvc)
	api.RegisterRoomServiceServer(s.srv, roomSvc)
	api.RegisterMessageServiceServer(s.srv, messageSvc)
	return s, nil
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("call",
		zap.String("method", info.FullMethod),
		zap.Stringer("code", grpcstatus.Code(err)),
		zap.Duration("took", time.Since(start)),
	)
	return resp, err
}

func (s *Server) logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	s.logger.Debug("stream opened", zap.String("method", info.FullMethod))
	err := handler(srv, ss)
	s.logger.Debug("stream closed", zap.String("method", info.FullMethod), zap.Stringer("code", grpcstatus.Code(err)))
	return err
}

// Start serves until Stop.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.srv.Serve(s.listener)
}

// Stop drains in-flight calls and removes the socket file. Calls still
// running when ctx ends are cut off.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}
