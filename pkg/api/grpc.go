package api

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes standard gRPC health checking and reflection
// without any generated service stubs, since the RPC method table
// itself is served over HTTP+JSON (pkg/api.Server). This still gives
// operators and load balancers a conventional gRPC health endpoint.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewGRPCServer builds a GRPCServer guarded by interceptor.
func NewGRPCServer(interceptor grpc.UnaryServerInterceptor) *GRPCServer {
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	return &GRPCServer{grpcServer: srv, health: healthSrv}
}

// SetServing marks the node's overall health status.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Serve blocks accepting connections on lis.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.grpcServer.Serve(lis)
}

// Stop gracefully stops the server.
func (g *GRPCServer) Stop() {
	g.grpcServer.GracefulStop()
}
