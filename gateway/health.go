package gateway

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthServer implements grpc_health_v1.HealthServer backed by a
// Gateway's readiness flag: NOT_SERVING until Setup completes, SERVING
// afterward. Watch is unsupported, matching the source's own
// poll-don't-push health semantics.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	gateway *Gateway
}

// NewHealthServer wraps g as a grpc_health_v1.HealthServer.
func NewHealthServer(g *Gateway) *HealthServer {
	return &HealthServer{gateway: g}
}

func (h *HealthServer) Check(context.Context, *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	servingStatus := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if h.gateway.Ready() {
		servingStatus = grpc_health_v1.HealthCheckResponse_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: servingStatus}, nil
}

func (h *HealthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, _ grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
