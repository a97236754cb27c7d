// Package grpc serves the dispatch stream to field units and the dispatch
// monitor to admins over gRPC with a JSON codec.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/go-green-corridor/internal/auth"
	"github.com/mr1hm/go-green-corridor/internal/dispatch"
	"github.com/mr1hm/go-green-corridor/internal/models"
)

const stopGrace = 5 * time.Second

// Runner delivers notifications for one unit until ctx ends.
type Runner interface {
	Run(ctx context.Context, uid string, notify func(dispatch.Notification)) error
}

// Users resolves the profile behind an identity.
type Users interface {
	User(ctx context.Context, uid string) (*models.UserProfile, error)
}

// StreamObserver is told when streams open and close.
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

type Server struct {
	auth       auth.Provider
	users      Users
	dispatcher Runner
	monitor    *Broadcaster[dispatch.Notification]
	observer   StreamObserver
	grpcServer *grpc.Server
}

var _ DispatchServer = (*Server)(nil)

func NewServer(provider auth.Provider, users Users, dispatcher Runner, monitor *Broadcaster[dispatch.Notification], observer StreamObserver) *Server {
	s := &Server{
		auth:       provider,
		users:      users,
		dispatcher: dispatcher,
		monitor:    monitor,
		observer:   observer,
	}
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop drains in-flight calls for up to stopGrace, then closes the
// remaining streams.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpcServer.Stop()
		<-done
	}
}

func (s *Server) StreamDispatches(req *StreamRequest, stream grpc.ServerStream) error {
	id, profile, err := s.authenticate(stream.Context())
	if err != nil {
		return err
	}
	if !profile.Role.IsField() {
		return status.Error(codes.PermissionDenied, "dispatch stream is for field units")
	}

	s.opened()
	defer s.closed()
	slog.Info("unit subscribed to dispatch stream", "uid", id.UID, "role", profile.Role)

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	var sendErr error
	err = s.dispatcher.Run(ctx, id.UID, func(n dispatch.Notification) {
		if sendErr != nil || !req.accepts(&n) {
			return
		}
		if err := stream.SendMsg(&n); err != nil {
			sendErr = err
			cancel()
		}
	})
	if sendErr != nil {
		slog.Error("failed to send dispatch to stream", "uid", id.UID, "error", sendErr)
		return sendErr
	}
	if err != nil {
		return status.Errorf(codes.Internal, "dispatch failed: %v", err)
	}
	slog.Info("unit disconnected from dispatch stream", "uid", id.UID)
	return nil
}

func (s *Server) MonitorDispatches(req *StreamRequest, stream grpc.ServerStream) error {
	_, profile, err := s.authenticate(stream.Context())
	if err != nil {
		return err
	}
	if profile.Role != models.RoleAdmin {
		return status.Error(codes.PermissionDenied, "dispatch monitor is for admins")
	}

	s.opened()
	defer s.closed()

	subID, ch := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(subID)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if !req.accepts(&n) {
				continue
			}
			if err := stream.SendMsg(&n); err != nil {
				slog.Error("failed to send dispatch to monitor", "subscriber_id", subID, "error", err)
				return err
			}
		}
	}
}

// authenticate reads the bearer token from the authorization metadata.
func (s *Server) authenticate(ctx context.Context) (auth.Identity, *models.UserProfile, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if v := md.Get("authorization"); len(v) > 0 {
		header = v[0]
	}
	token := auth.BearerToken(header)
	if token == "" {
		return auth.Identity{}, nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	id, err := s.auth.Verify(ctx, token)
	if err != nil {
		return auth.Identity{}, nil, status.Error(codes.Unauthenticated, err.Error())
	}
	profile, err := s.users.User(ctx, id.UID)
	if err != nil {
		return id, nil, status.Errorf(codes.PermissionDenied, "no profile for %s", id.UID)
	}
	if profile.Status != models.StatusVerified {
		return id, nil, status.Error(codes.PermissionDenied, "account is not verified")
	}
	return id, profile, nil
}

func (s *Server) opened() {
	if s.observer != nil {
		s.observer.StreamOpened()
	}
}

func (s *Server) closed() {
	if s.observer != nil {
		s.observer.StreamClosed()
	}
}
