// Package handler drives a single client request through a topology
// graph: one DAG walk per request, concurrent dispatch within each
// topological layer, edge-condition filtering, id-keyed reduction at
// fan-in, and error-as-data propagation.
package handler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jina-ai/gateway-streamer-go/emit"
	"github.com/jina-ai/gateway-streamer-go/streamer"
	"github.com/jina-ai/gateway-streamer-go/topology"
	"github.com/jina-ai/gateway-streamer-go/wire"
)

// Poster is the subset of pool.Pool the handler depends on, so the
// handler package can be tested against a fake without importing the
// gRPC-backed pool implementation.
type Poster interface {
	SendRequestsOnce(ctx context.Context, deployment, endpoint string, req *wire.Request) (*wire.Response, error)
}

// Handler walks one topology.Graph per request.
type Handler struct {
	graph    *topology.Graph
	pool     Poster
	floating *streamer.FloatingRegistry
	emitter  emit.Emitter
	metrics  *emit.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithEmitter wires an event sink for per-node dispatch events.
func WithEmitter(e emit.Emitter) Option {
	return func(h *Handler) { h.emitter = e }
}

// WithMetrics wires Prometheus counters/histogram updated per dispatch.
func WithMetrics(m *emit.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New builds a Handler over graph and pool, sharing floating with the
// streamer; the gateway facade owns it.
func New(graph *topology.Graph, p Poster, floating *streamer.FloatingRegistry, opts ...Option) *Handler {
	h := &Handler{graph: graph, pool: p, floating: floating, emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// nodeOutcome is the per-node result of one request's DAG walk.
type nodeOutcome struct {
	docs wire.DocSet
	err  *wire.Exception
}

// Handle drives req through the graph to completion, returning the
// response reduced at the End sentinel plus the first error observed, if
// any.
func (h *Handler) Handle(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	var mu sync.Mutex
	outcomes := make(map[string]nodeOutcome, len(h.graph.Layers()))
	outcomes[topology.Start] = nodeOutcome{docs: req.Docs}

	for _, layer := range h.graph.Layers() {
		g, gctx := errgroup.WithContext(ctx)

		for _, name := range layer {
			name := name
			if name == topology.Start {
				continue
			}

			mu.Lock()
			if name == topology.End {
				outcomes[topology.End] = h.reduceAt(name, outcomes)
				mu.Unlock()
				continue
			}

			kind, _ := h.graph.Kind(name)
			branches, firstErr := h.branchesFor(name, outcomes)

			if firstErr != nil {
				outcomes[name] = nodeOutcome{err: firstErr}
				mu.Unlock()
				continue
			}

			dep := h.graph.Deployment(name)
			reduced := topology.Reduce(branches, dep != nil && dep.NoReduce)
			mu.Unlock()

			if kind == topology.NodeFloating {
				done := h.floating.Register()
				go func(n string, d *topology.Deployment, docs wire.DocSet) {
					defer done()
					_, _ = h.dispatch(ctx, n, d, req, docs)
				}(name, dep, reduced)
				mu.Lock()
				outcomes[name] = nodeOutcome{}
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				out, err := h.dispatch(gctx, name, dep, req, reduced)
				mu.Lock()
				outcomes[name] = out
				mu.Unlock()
				return err
			})
		}

		if err := g.Wait(); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	final := outcomes[topology.End]
	resp := &wire.Response{
		Header:     req.Header,
		Parameters: req.Parameters,
		Docs:       final.docs,
		Status:     wire.OK(),
	}
	if final.err != nil {
		resp.Status = wire.Err(final.err)
	}
	return resp, nil
}

// branchesFor collects the filtered doc sets arriving at name over its
// incoming edges, in edge-registration order, along with the first error
// encountered (also in edge order) — either a predecessor's propagated
// error, per the "downstream nodes on a failing path are skipped" rule, or
// a ConditionError synthesized here when an edge's Condition itself fails
// to evaluate a document.
func (h *Handler) branchesFor(name string, outcomes map[string]nodeOutcome) ([]wire.DocSet, *wire.Exception) {
	edges := h.graph.Incoming(name)
	branches := make([]wire.DocSet, 0, len(edges))
	var firstErr *wire.Exception
	for _, e := range edges {
		src := outcomes[e.From]
		if src.err != nil {
			if firstErr == nil {
				firstErr = src.err
			}
			continue
		}
		filtered, err := topology.Filter(src.docs, e.Condition)
		if err != nil {
			if firstErr == nil {
				firstErr = &wire.Exception{Name: wire.ExceptionCondition, Args: []string{err.Error()}, Executor: name}
			}
			continue
		}
		branches = append(branches, filtered)
	}
	return branches, firstErr
}

// reduceAt computes the End sentinel's outcome: reduction over every
// successful incoming branch, plus the first error found among failed
// branches (by edge-registration order) so it can still be surfaced even
// though reduction only includes successful ones.
func (h *Handler) reduceAt(name string, outcomes map[string]nodeOutcome) nodeOutcome {
	branches, firstErr := h.branchesFor(name, outcomes)
	return nodeOutcome{docs: topology.Reduce(branches, false), err: firstErr}
}

// dispatch sends the reduced input to one deployment via the pool,
// recording metrics/tracing, and returns the node's outcome.
func (h *Handler) dispatch(ctx context.Context, name string, dep *topology.Deployment, req *wire.Request, docs wire.DocSet) (nodeOutcome, error) {
	start := time.Now()

	params := req.Parameters
	if dep != nil && len(dep.Metadata) > 0 {
		params = mergeParams(req.Parameters, dep.Metadata)
	}

	resp, err := h.pool.SendRequestsOnce(ctx, name, req.Header.ExecEndpoint, &wire.Request{
		Header:     req.Header,
		Parameters: params,
		Docs:       docs,
	})

	status := "success"
	if err != nil || (resp != nil && resp.Status.Code == wire.StatusError) {
		status = "error"
	}
	h.emitter.Emit(emit.Event{RunID: req.Header.RequestID, NodeID: name, Msg: "dispatch", Meta: map[string]interface{}{
		"duration_ms": float64(time.Since(start).Milliseconds()),
		"status":      status,
	}})
	if h.metrics != nil {
		h.metrics.RecordDispatch(name, status, float64(time.Since(start).Milliseconds()))
		if status == "error" {
			h.metrics.RecordError(name, status)
		}
	}

	if err != nil {
		return nodeOutcome{err: &wire.Exception{Name: wire.ExceptionTransport, Args: []string{err.Error()}, Executor: name}}, nil
	}
	if resp.Status.Code == wire.StatusError {
		return nodeOutcome{err: resp.Status.Exception}, nil
	}
	return nodeOutcome{docs: resp.Docs}, nil
}

func mergeParams(base map[string]any, metadata map[string]string) map[string]any {
	out := make(map[string]any, len(base)+len(metadata))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
