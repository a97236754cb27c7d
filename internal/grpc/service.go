package grpc

import (
	"google.golang.org/grpc"

	"github.com/mr1hm/go-green-corridor/internal/dispatch"
)

const (
	ServiceName             = "greencorridor.v1.DispatchService"
	StreamDispatchesMethod  = "/" + ServiceName + "/StreamDispatches"
	MonitorDispatchesMethod = "/" + ServiceName + "/MonitorDispatches"
)

// StreamRequest opens a dispatch stream. Types, when set, limits the
// alert types delivered.
type StreamRequest struct {
	Types []string `json:"types,omitempty"`
}

// DispatchServer is the service implemented by Server.
type DispatchServer interface {
	StreamDispatches(req *StreamRequest, stream grpc.ServerStream) error
	MonitorDispatches(req *StreamRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamDispatches",
			Handler:       streamDispatchesHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "MonitorDispatches",
			Handler:       monitorDispatchesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "greencorridor/v1/dispatch.proto",
}

func streamDispatchesHandler(srv any, stream grpc.ServerStream) error {
	req := new(StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(DispatchServer).StreamDispatches(req, stream)
}

func monitorDispatchesHandler(srv any, stream grpc.ServerStream) error {
	req := new(StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(DispatchServer).MonitorDispatches(req, stream)
}

func (r *StreamRequest) accepts(n *dispatch.Notification) bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, t := range r.Types {
		if string(n.Alert.Type) == t {
			return true
		}
	}
	return false
}
