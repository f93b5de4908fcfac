package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "timemachine.v1.TimeMachine"

// Method names of the TimeMachine service
const (
	MethodResolveRevision   = "ResolveRevision"
	MethodResolveMoveSource = "ResolveMoveSource"
	MethodWasMovedHere      = "WasMovedHere"
	MethodResolveIdentity   = "ResolveIdentity"
	MethodDecideView        = "DecideView"
	MethodRecordRename      = "RecordRename"
	MethodFilterTitles      = "FilterTitles"
)

// TimeMachineServer is the server API of the TimeMachine service. Messages
// are structpb.Struct values; field names are documented on Server.
type TimeMachineServer interface {
	ResolveRevision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveMoveSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WasMovedHere(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveIdentity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecideView(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordRename(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FilterTitles(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(TimeMachineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TimeMachineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TimeMachineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the TimeMachine service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimeMachineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodResolveRevision, Handler: unaryHandler(MethodResolveRevision, TimeMachineServer.ResolveRevision)},
		{MethodName: MethodResolveMoveSource, Handler: unaryHandler(MethodResolveMoveSource, TimeMachineServer.ResolveMoveSource)},
		{MethodName: MethodWasMovedHere, Handler: unaryHandler(MethodWasMovedHere, TimeMachineServer.WasMovedHere)},
		{MethodName: MethodResolveIdentity, Handler: unaryHandler(MethodResolveIdentity, TimeMachineServer.ResolveIdentity)},
		{MethodName: MethodDecideView, Handler: unaryHandler(MethodDecideView, TimeMachineServer.DecideView)},
		{MethodName: MethodRecordRename, Handler: unaryHandler(MethodRecordRename, TimeMachineServer.RecordRename)},
		{MethodName: MethodFilterTitles, Handler: unaryHandler(MethodFilterTitles, TimeMachineServer.FilterTitles)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "timemachine/v1/timemachine.proto",
}

// RegisterTimeMachineServer registers srv on s
func RegisterTimeMachineServer(s grpc.ServiceRegistrar, srv TimeMachineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the TimeMachine service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in and returns the reply
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CallMap builds the request from a plain map, see structpb.NewStruct
func (c *Client) CallMap(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, method, req, opts...)
}
