package grpcx

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer builds the census listener with logging, recovery and the
// configured auth policy, plus the standard health service.
func NewGRPCServer(census CensusServer, v TokenVerifier, requireAuth bool) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			UnaryServerInterceptor(),
			AuthUnaryInterceptor(v, requireAuth),
		),
	)
	Register(srv, census)

	hs := health.NewServer()
	hs.SetServingStatus(censusServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}
