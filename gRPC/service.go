package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// service cheatdet.CheatDetectService {
//   rpc Detect(google.protobuf.BytesValue) returns (google.protobuf.Struct);
//   rpc CheckEngine(google.protobuf.Empty) returns (google.protobuf.Struct);
//   rpc Shutdown(google.protobuf.Empty) returns (google.protobuf.Empty);
// }
const (
	ServiceName           = "cheatdet.CheatDetectService"
	DetectFullMethod      = "/" + ServiceName + "/Detect"
	CheckEngineFullMethod = "/" + ServiceName + "/CheckEngine"
	ShutdownFullMethod    = "/" + ServiceName + "/Shutdown"
)

type CheatDetectServiceServer interface {
	Detect(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	CheckEngine(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

type UnimplementedCheatDetectServiceServer struct{}

func (UnimplementedCheatDetectServiceServer) Detect(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Detect not implemented")
}

func (UnimplementedCheatDetectServiceServer) CheckEngine(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CheckEngine not implemented")
}

func (UnimplementedCheatDetectServiceServer) Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Shutdown not implemented")
}

func RegisterCheatDetectServiceServer(s grpc.ServiceRegistrar, srv CheatDetectServiceServer) {
	s.RegisterService(&CheatDetectService_ServiceDesc, srv)
}

func _CheatDetectService_Detect_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheatDetectServiceServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheatDetectServiceServer).Detect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _CheatDetectService_CheckEngine_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheatDetectServiceServer).CheckEngine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckEngineFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheatDetectServiceServer).CheckEngine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _CheatDetectService_Shutdown_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheatDetectServiceServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ShutdownFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheatDetectServiceServer).Shutdown(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var CheatDetectService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheatDetectServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: _CheatDetectService_Detect_Handler},
		{MethodName: "CheckEngine", Handler: _CheatDetectService_CheckEngine_Handler},
		{MethodName: "Shutdown", Handler: _CheatDetectService_Shutdown_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cheatdet.proto",
}

type CheatDetectServiceClient interface {
	Detect(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	CheckEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type cheatDetectServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCheatDetectServiceClient(cc grpc.ClientConnInterface) CheatDetectServiceClient {
	return &cheatDetectServiceClient{cc}
}

func (c *cheatDetectServiceClient) Detect(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DetectFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cheatDetectServiceClient) CheckEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CheckEngineFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cheatDetectServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ShutdownFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
