package gateway

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jina-ai/gateway-streamer-go/wire"
)

// ExecutorFunc implements one executor's RPC endpoint: given a request, it
// returns a response (or an error, translated into a transport failure by
// the pool).
type ExecutorFunc func(ctx context.Context, req *wire.Request) (*wire.Response, error)

// jinaServiceDesc describes the single RPC method every executor in this
// system exposes. There is no generated stub to implement against — the
// handler decodes straight into wire.Request using the pool's registered
// "json" codec subtype, the same trick pool.invoke relies on when calling
// out.
var jinaServiceDesc = grpc.ServiceDesc{
	ServiceName: "jina.JinaRPC",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				var req wire.Request
				if err := dec(&req); err != nil {
					return nil, err
				}
				fn := srv.(ExecutorFunc)
				if interceptor == nil {
					return fn(ctx, &req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/jina.JinaRPC/Call"}
				handler := func(ctx context.Context, req any) (any, error) {
					return fn(ctx, req.(*wire.Request))
				}
				return interceptor(ctx, &req, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterExecutorStub starts an in-process gRPC server exposing fn as a
// single executor's jina.JinaRPC/Call handler plus a standard health
// endpoint (always SERVING), and returns its listen address. This is the
// explicit, call-site-visible way to stand up a test or demo executor
// alongside a Gateway — there is no package-level auto-registration.
// Callers (such as package tests wanting a real gRPC round trip) must call
// stop() when done.
func RegisterExecutorStub(fn ExecutorFunc) (addr string, stop func(), err error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}

	srv := grpc.NewServer()
	srv.RegisterService(&jinaServiceDesc, fn)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)

	go func() { _ = srv.Serve(lis) }()

	return lis.Addr().String(), srv.Stop, nil
}
