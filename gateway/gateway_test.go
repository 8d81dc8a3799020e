package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jina-ai/gateway-streamer-go/topology"
	"github.com/jina-ai/gateway-streamer-go/wire"
)

func passthroughConfig() Config {
	return Config{
		Representation: map[string][]string{
			topology.Start: {topology.End},
		},
		Deployments: map[string]*topology.Deployment{},
	}
}

func TestNew_ConfigErrorOnInvalidGraph(t *testing.T) {
	_, err := New(Config{Representation: map[string][]string{"a": {topology.End}}})
	if err == nil {
		t.Fatal("expected a ConfigError for a graph missing the start node")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestGateway_ReadyFlipsAfterSetup(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if g.Ready() {
		t.Fatal("expected Ready() to be false before Setup")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Setup(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !g.Ready() {
		t.Fatal("expected Ready() to be true after Setup")
	}
}

func TestGateway_ProcessSingleData_Passthrough(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	req := &wire.Request{Docs: wire.DocSet{{ID: "d1"}}}
	resp, err := g.ProcessSingleData(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Status.Code != wire.StatusOK {
		t.Fatalf("expected OK, got %v", resp.Status)
	}
	if len(resp.Docs) != 1 || resp.Docs[0].ID != "d1" {
		t.Fatalf("unexpected docs: %+v", resp.Docs)
	}
}

func collectStreamDocs(t *testing.T, g *Gateway, docs wire.DocSet, requestSize int, returnResults bool) []StreamDocsResult {
	t.Helper()
	ch, err := g.StreamDocs(context.Background(), docs, requestSize, "/default", "", nil, returnResults, true)
	if err != nil {
		t.Fatalf("stream_docs: %v", err)
	}
	var out []StreamDocsResult
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestGateway_StreamDocs_RequestSizeZero_FailsWithConfigError(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = g.StreamDocs(context.Background(), wire.DocSet{{ID: "a"}}, 0, "/default", "", nil, false, false)
	if err == nil {
		t.Fatal("expected a ConfigError for request_size=0")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

// Scenario 1: docs=[d1,d2,d3], request_size=2 yields two batches, [d1,d2]
// then [d3].
func TestGateway_StreamDocs_ChunksByRequestSize(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	docs := wire.DocSet{{ID: "d1"}, {ID: "d2"}, {ID: "d3"}}
	results := collectStreamDocs(t, g, docs, 2, false)
	if len(results) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(results))
	}
	if len(results[0].Docs) != 2 || results[0].Docs[0].ID != "d1" || results[0].Docs[1].ID != "d2" {
		t.Fatalf("unexpected first batch: %+v", results[0].Docs)
	}
	if len(results[1].Docs) != 1 || results[1].Docs[0].ID != "d3" {
		t.Fatalf("unexpected second batch: %+v", results[1].Docs)
	}
}

// stream_docs(docs, request_size=k) ... yields exactly docs, for every k
// that splits them into at least one batch.
func TestGateway_StreamDocs_RoundTrip(t *testing.T) {
	docs := wire.DocSet{{ID: "d1"}, {ID: "d2"}, {ID: "d3"}, {ID: "d4"}}
	for _, k := range []int{1, len(docs) / 2, len(docs), len(docs) + 1} {
		k := k
		t.Run(fmt.Sprintf("size=%d", k), func(t *testing.T) {
			g, err := New(passthroughConfig())
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			results := collectStreamDocs(t, g, docs, k, false)

			var got wire.DocSet
			for _, r := range results {
				got = append(got, r.Docs...)
			}
			if len(got) != len(docs) {
				t.Fatalf("expected %d docs back, got %d", len(docs), len(got))
			}
			for i, d := range docs {
				if got[i].ID != d.ID {
					t.Fatalf("docs out of order/lost: got %+v", got)
				}
			}
		})
	}
}

func TestGateway_StreamDocs_ReturnResultsPopulatesResponse(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	results := collectStreamDocs(t, g, wire.DocSet{{ID: "a"}}, 1, true)
	if len(results) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(results))
	}
	if results[0].Response == nil {
		t.Fatal("expected Response to be populated when returnResults is true")
	}
	if results[0].Response.Status.Code != wire.StatusOK {
		t.Fatalf("expected OK, got %v", results[0].Response.Status)
	}
}

func TestGateway_StreamDocs_NotReturnResultsLeavesResponseNil(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	results := collectStreamDocs(t, g, wire.DocSet{{ID: "a"}}, 1, false)
	if len(results) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(results))
	}
	if results[0].Response != nil {
		t.Fatal("expected Response to be nil when returnResults is false")
	}
}

func TestGateway_Stream_UnpacksExceptionIntoError(t *testing.T) {
	g, err := New(Config{
		Representation: map[string][]string{
			topology.Start: {"broken"},
			"broken":       {topology.End},
		},
		Deployments: map[string]*topology.Deployment{
			"broken": {Addresses: []string{"127.0.0.1:0"}, TimeoutSend: 50 * time.Millisecond},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ch, err := g.Stream(context.Background(), wire.DocSet{{ID: "a"}}, 1, "/default", "", nil, false)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var got StreamResult
	for r := range ch {
		got = r
	}
	if got.Err == nil {
		t.Fatal("expected an unreachable deployment to surface a non-nil error")
	}
}

func TestGateway_CancelWarmup_SafeBeforeAndAfterSetup(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g.CancelWarmup()
	g.CancelWarmup() // must not panic on double-close

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Setup(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	g.CancelWarmup() // must not panic after Setup either
}

func TestGateway_Teardown_Idempotent(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := g.Teardown(ctx); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := g.Teardown(ctx); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
}

func TestGateway_RunForever_ReturnsOnCancel(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.RunForever(ctx); err == nil {
		t.Fatal("expected RunForever to return an error once ctx is cancelled")
	}
}

func TestGateway_Cancel_StopsRunForever(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.RunForever(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	g.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected RunForever to return an error once cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after Cancel")
	}
}

func TestArgs_EncodeDecodeRoundTrip(t *testing.T) {
	args := Args{
		Representation: map[string][]string{topology.Start: {topology.End}},
		Deployments:    map[string]*topology.Deployment{},
		PoolRetries:    2,
		StreamerPrefetch: 4,
	}
	encoded, err := args.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeArgs(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.PoolRetries != 2 || decoded.StreamerPrefetch != 4 {
		t.Fatalf("round trip lost fields: %+v", decoded)
	}
}

func TestHealthServer_ReflectsReadiness(t *testing.T) {
	g, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h := NewHealthServer(g)

	resp, err := h.Check(context.Background(), nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status.String() != "NOT_SERVING" {
		t.Fatalf("expected NOT_SERVING before setup, got %v", resp.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Setup(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}

	resp, err = h.Check(context.Background(), nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status.String() != "SERVING" {
		t.Fatalf("expected SERVING after setup, got %v", resp.Status)
	}
}
