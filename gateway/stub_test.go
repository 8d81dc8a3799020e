package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/jina-ai/gateway-streamer-go/topology"
	"github.com/jina-ai/gateway-streamer-go/wire"
)

// TestGateway_EndToEndOverRealGRPC is the one test in this module that
// exercises the full stack over an actual gRPC connection: a stub
// executor, a pool dialed against it, a compiled topology, and the
// handler's dispatch path, all driven through Gateway.ProcessSingleData.
func TestGateway_EndToEndOverRealGRPC(t *testing.T) {
	addr, stop, err := RegisterExecutorStub(func(_ context.Context, req *wire.Request) (*wire.Response, error) {
		docs := make(wire.DocSet, len(req.Docs))
		for i, d := range req.Docs {
			clone := d.Clone()
			if clone.Attributes == nil {
				clone.Attributes = make(map[string]any)
			}
			clone.Attributes["seen_by"] = "stub"
			docs[i] = clone
		}
		return &wire.Response{Docs: docs, Status: wire.OK()}, nil
	})
	if err != nil {
		t.Fatalf("register stub: %v", err)
	}
	defer stop()

	g, err := New(Config{
		Representation: map[string][]string{
			topology.Start: {"echo"},
			"echo":         {topology.End},
		},
		Deployments: map[string]*topology.Deployment{
			"echo": {Name: "echo", Addresses: []string{addr}},
		},
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Setup(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !g.Ready() {
		t.Fatal("expected gateway to be ready after a successful warmup")
	}

	resp, err := g.ProcessSingleData(ctx, &wire.Request{Docs: wire.DocSet{{ID: "d1"}}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Status.Code != wire.StatusOK {
		t.Fatalf("expected OK, got %v", resp.Status)
	}
	if len(resp.Docs) != 1 || resp.Docs[0].Attributes["seen_by"] != "stub" {
		t.Fatalf("expected doc round-tripped through the stub executor, got %+v", resp.Docs)
	}

	if err := g.Teardown(ctx); err != nil {
		t.Fatalf("teardown: %v", err)
	}
}
