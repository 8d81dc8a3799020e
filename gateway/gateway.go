// Package gateway is the facade binding topology, pool, streamer, and
// handler into the single entry point an RPC-framework shell or an
// embedding Go program talks to: construct one Gateway, Setup it, drive
// requests through RPCStream/StreamDocs/Stream/ProcessSingleData, then
// Teardown.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jina-ai/gateway-streamer-go/emit"
	"github.com/jina-ai/gateway-streamer-go/handler"
	"github.com/jina-ai/gateway-streamer-go/pool"
	"github.com/jina-ai/gateway-streamer-go/streamer"
	"github.com/jina-ai/gateway-streamer-go/topology"
	"github.com/jina-ai/gateway-streamer-go/wire"
)

// ConfigError reports a problem with the graph representation or
// deployment set supplied to New, detected before any connection is
// opened.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("gateway: %s", e.Reason) }

// Config is the static description of a gateway: the topology
// representation (node name -> outgoing node names), one Deployment per
// non-sentinel node, and optional edge conditions keyed by "from->to".
type Config struct {
	Representation map[string][]string
	Deployments    map[string]*topology.Deployment
	Conditions     map[string]topology.Condition
}

// Gateway is the bound-together runtime: a compiled topology, a
// connection pool, and the handler walking one request through the DAG at
// a time. Each streaming entry point builds its own *streamer.Streamer
// sharing this Gateway's floating registry, since results_in_order is a
// per-call parameter, not a fixed construction-time setting. Construct
// with New.
type Gateway struct {
	graph    *topology.Graph
	pool     *pool.Pool
	handler  *handler.Handler
	floating *streamer.FloatingRegistry

	emitter  emit.Emitter
	metrics  *emit.Metrics
	prefetch int

	ready    atomic.Bool
	stopWarm chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Gateway at construction time.
type Option func(*gatewayOptions)

type gatewayOptions struct {
	poolOpts []pool.Option
	prefetch int
	emitter  emit.Emitter
	metrics  *emit.Metrics
}

// WithPoolOptions forwards options to the underlying pool.New.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *gatewayOptions) { o.poolOpts = append(o.poolOpts, opts...) }
}

// WithPrefetch bounds in-flight requests for every streaming call on this
// Gateway. Zero (the default) means unbounded.
func WithPrefetch(n int) Option {
	return func(o *gatewayOptions) { o.prefetch = n }
}

// WithEmitter wires one observability sink shared by the handler and every
// streamer this Gateway builds.
func WithEmitter(e emit.Emitter) Option {
	return func(o *gatewayOptions) { o.emitter = e }
}

// WithMetrics wires Prometheus counters/histogram into the handler.
func WithMetrics(m *emit.Metrics) Option {
	return func(o *gatewayOptions) { o.metrics = m }
}

// New compiles cfg's topology, builds a connection pool with one
// replica-set per deployment, and wires the handler. No network connection
// is attempted until Setup is called.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	o := &gatewayOptions{emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		opt(o)
	}

	graph, err := topology.Build(cfg.Representation, cfg.Deployments, cfg.Conditions)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	p := pool.New(o.poolOpts...)
	for name, dep := range cfg.Deployments {
		for _, addr := range dep.Addresses {
			if err := p.AddConnection(name, addr, dep.Metadata, dep.NoReduce, dep.TimeoutSend); err != nil {
				return nil, &ConfigError{Reason: fmt.Sprintf("deployment %q: %v", name, err)}
			}
		}
	}

	floating := streamer.NewFloatingRegistry()
	h := handler.New(graph, p, floating, handler.WithEmitter(o.emitter), handler.WithMetrics(o.metrics))

	return &Gateway{
		graph:    graph,
		pool:     p,
		handler:  h,
		floating: floating,
		emitter:  o.emitter,
		metrics:  o.metrics,
		prefetch: o.prefetch,
		stopWarm: make(chan struct{}),
	}, nil
}

// Setup warms up every deployment's replicas and flips the readiness flag
// once warmup returns (warmup is best-effort and always returns, per
// pool.Pool.Warmup's contract — Setup never blocks past the global warmup
// budget).
func (g *Gateway) Setup(ctx context.Context) error {
	g.pool.WarmupAll(ctx, g.stopWarm)
	g.ready.Store(true)
	return nil
}

// Ready reports whether Setup has completed. A health responder built on
// grpc_health_v1 should report NOT_SERVING while this is false.
func (g *Gateway) Ready() bool { return g.ready.Load() }

// CancelWarmup stops any in-flight Warmup/WarmupAll call without waiting
// for the remainder of the global warmup budget. Safe to call once;
// additional calls are no-ops.
func (g *Gateway) CancelWarmup() {
	select {
	case <-g.stopWarm:
	default:
		close(g.stopWarm)
	}
}

// process is the streamer.ProcessFunc driving one request through the
// handler's DAG walk, assigning a RequestID when the caller didn't supply
// one.
func (g *Gateway) process(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if req.Header.RequestID == "" {
		req.Header.RequestID = uuid.NewString()
	}
	return g.handler.Handle(ctx, req)
}

// newStreamer builds a Streamer scoped to a single call, sharing this
// Gateway's floating registry and emitter. resultsInOrder is a per-call
// argument on every streaming entry point, not a fixed setting, so a
// Streamer is cheap to build fresh each time: New only sets fields, and no
// goroutine starts until Stream is invoked.
func (g *Gateway) newStreamer(resultsInOrder bool) *streamer.Streamer {
	opts := []streamer.Option{
		streamer.WithFloatingRegistry(g.floating),
		streamer.WithEmitter(g.emitter),
		streamer.WithResultsInOrder(resultsInOrder),
	}
	if g.prefetch > 0 {
		opts = append(opts, streamer.WithPrefetch(g.prefetch))
	}
	return streamer.New(opts...)
}

// RPCStream drives reqs through the topology with bounded concurrency and
// the requested delivery order, returning a channel of responses closed
// once every request has been answered or ctx is cancelled.
func (g *Gateway) RPCStream(ctx context.Context, reqs <-chan *wire.Request, resultsInOrder bool) <-chan *wire.Response {
	return g.newStreamer(resultsInOrder).Stream(ctx, reqs, g.process)
}

// Call is an alias for RPCStream, matching the RPC-framework entry point
// the source binds both names to.
func (g *Gateway) Call(ctx context.Context, reqs <-chan *wire.Request, resultsInOrder bool) <-chan *wire.Response {
	return g.RPCStream(ctx, reqs, resultsInOrder)
}

// batchRequests chunks docs into requestSize-sized batches and wraps each
// in a Request addressed to execEndpoint/targetExecutor with params. A
// requestSize of zero or less is a configuration error caught here, before
// wire.Batch ever runs — wire.Batch treats size<=0 leniently as "one big
// batch", which is not the contract StreamDocs/Stream promise callers.
func batchRequests(docs wire.DocSet, requestSize int, execEndpoint, targetExecutor string, params map[string]any) ([]*wire.Request, error) {
	if requestSize <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("request_size must be positive, got %d", requestSize)}
	}
	batches := wire.Batch(docs, requestSize)
	reqs := make([]*wire.Request, len(batches))
	for i, b := range batches {
		reqs[i] = &wire.Request{
			Header:     wire.Header{ExecEndpoint: execEndpoint, TargetExecutor: targetExecutor},
			Parameters: params,
			Docs:       b,
		}
	}
	return reqs, nil
}

// StreamDocsResult pairs the documents delivered by one StreamDocs batch
// with its full Response when returnResults was requested.
type StreamDocsResult struct {
	Docs     wire.DocSet
	Response *wire.Response
}

// StreamDocs chunks docs into requestSize-sized batches, dispatches one
// request per batch through the topology, and streams back one
// StreamDocsResult per response. When returnResults is false, Response is
// left nil and only Docs is populated, matching the lighter-weight
// document-only delivery mode callers can ask for.
func (g *Gateway) StreamDocs(ctx context.Context, docs wire.DocSet, requestSize int, execEndpoint, targetExecutor string, params map[string]any, returnResults, resultsInOrder bool) (<-chan StreamDocsResult, error) {
	reqs, err := batchRequests(docs, requestSize, execEndpoint, targetExecutor, params)
	if err != nil {
		return nil, err
	}

	in := make(chan *wire.Request, len(reqs))
	for _, r := range reqs {
		in <- r
	}
	close(in)

	out := make(chan StreamDocsResult)
	go func() {
		defer close(out)
		for resp := range g.RPCStream(ctx, in, resultsInOrder) {
			res := StreamDocsResult{Docs: resp.Docs}
			if returnResults {
				res.Response = resp
			}
			out <- res
		}
	}()
	return out, nil
}

// StreamResult pairs one batch's documents with the error unpacked from its
// Response.Status.Exception, or a nil Err on success.
type StreamResult struct {
	Docs wire.DocSet
	Err  error
}

// Stream is StreamDocs's error-unpacking counterpart: it chunks docs the
// same way, but instead of a raw Response it yields a (docs, error) pair
// per batch, reading the error out of Response.Status.Exception (which
// implements error) so callers never have to inspect Status themselves.
func (g *Gateway) Stream(ctx context.Context, docs wire.DocSet, requestSize int, execEndpoint, targetExecutor string, params map[string]any, resultsInOrder bool) (<-chan StreamResult, error) {
	reqs, err := batchRequests(docs, requestSize, execEndpoint, targetExecutor, params)
	if err != nil {
		return nil, err
	}

	in := make(chan *wire.Request, len(reqs))
	for _, r := range reqs {
		in <- r
	}
	close(in)

	out := make(chan StreamResult)
	go func() {
		defer close(out)
		for resp := range g.RPCStream(ctx, in, resultsInOrder) {
			res := StreamResult{Docs: resp.Docs}
			if resp.Status.Code != wire.StatusOK {
				res.Err = resp.Status.Exception
			}
			out <- res
		}
	}()
	return out, nil
}

// ProcessSingleData drives exactly one request through the DAG, bypassing
// any streaming machinery.
func (g *Gateway) ProcessSingleData(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return g.process(ctx, req)
}

// Teardown waits for in-flight floating tasks to finish (bounded by ctx),
// then closes the connection pool. Calling Teardown more than once is
// safe: pool.Pool.Close is idempotent.
func (g *Gateway) Teardown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.floating.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return g.pool.Close()
}

// RunForever blocks until ctx is cancelled or Cancel is called, polling
// every 100ms so platforms without direct OS-signal delivery to this loop
// still observe cancellation promptly. Callers typically derive ctx from
// signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM).
func (g *Gateway) RunForever(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel stops a RunForever loop started on this Gateway. It is a no-op
// if RunForever has not been called yet.
func (g *Gateway) Cancel() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
