package grpcx

import (
	"context"
	"strings"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/transport/ws"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	censusServiceName = "telecare.signaling.v1.Census"

	methodGetRoom   = "/" + censusServiceName + "/GetRoom"
	methodListRooms = "/" + censusServiceName + "/ListRooms"
)

// CensusServer exposes live room membership. Messages are protobuf
// well-known types, so no generated stubs are needed on either side.
type CensusServer interface {
	GetRoom(ctx context.Context, roomID *wrapperspb.StringValue) (*structpb.Struct, error)
	ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error)
}

type Server struct {
	registry *ws.Registry
}

func NewServer(registry *ws.Registry) *Server {
	return &Server{registry: registry}
}

func Register(grpcServer *grpc.Server, s CensusServer) {
	grpcServer.RegisterService(&censusServiceDesc, s)
}

func (s *Server) GetRoom(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	roomID := strings.TrimSpace(in.GetValue())
	if roomID == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}

	ps := s.registry.ListParticipants(roomID)
	out, err := structpb.NewStruct(map[string]any{
		"room_id":      roomID,
		"count":        len(ps),
		"participants": participantsValue(ps),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Server) ListRooms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.registry.Rooms()
	rooms := make([]any, 0, len(stats))
	for _, st := range stats {
		rooms = append(rooms, map[string]any{
			"room_id": st.RoomID,
			"count":   st.Count,
		})
	}

	out, err := structpb.NewStruct(map[string]any{"rooms": rooms})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func participantsValue(ps []domain.Participant) []any {
	out := make([]any, 0, len(ps))
	for _, p := range ps {
		out = append(out, map[string]any{
			"room_id":   p.RoomID,
			"user_id":   p.UserID,
			"user_role": string(p.Role),
		})
	}
	return out
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

var censusServiceDesc = grpc.ServiceDesc{
	ServiceName: censusServiceName,
	HandlerType: (*CensusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRoom", Handler: getRoomHandler},
		{MethodName: "ListRooms", Handler: listRoomsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "telecare/signaling/v1/census.proto",
}

func getRoomHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CensusServer).GetRoom(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetRoom}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CensusServer).GetRoom(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CensusServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListRooms}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CensusServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// CensusClient calls the census service over an existing connection.
type CensusClient struct {
	cc grpc.ClientConnInterface
}

func NewCensusClient(cc grpc.ClientConnInterface) *CensusClient {
	return &CensusClient{cc: cc}
}

func (c *CensusClient) GetRoom(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetRoom, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CensusClient) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListRooms, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
