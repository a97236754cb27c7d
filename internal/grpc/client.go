package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/mr1hm/go-green-corridor/internal/dispatch"
)

// Client opens dispatch streams against a Server.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Codec{}.Name())))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Stream receives notifications until the server ends it or ctx is cancelled.
type Stream struct {
	cs grpc.ClientStream
}

func (s *Stream) Recv() (*dispatch.Notification, error) {
	n := new(dispatch.Notification)
	if err := s.cs.RecvMsg(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *Client) StreamDispatches(ctx context.Context, token string, req *StreamRequest) (*Stream, error) {
	return c.open(ctx, 0, StreamDispatchesMethod, token, req)
}

func (c *Client) MonitorDispatches(ctx context.Context, token string, req *StreamRequest) (*Stream, error) {
	return c.open(ctx, 1, MonitorDispatchesMethod, token, req)
}

func (c *Client) open(ctx context.Context, desc int, method, token string, req *StreamRequest) (*Stream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[desc], method)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &StreamRequest{}
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}
