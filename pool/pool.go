// Package pool implements the sharded, health-aware connection pool that
// sits between the gateway and a DAG of executor deployments: one gRPC
// channel per replica, round-robin selection with retry-to-next-replica,
// warmup, and graceful close.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // registers the "gzip" compressor by name
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jina-ai/gateway-streamer-go/wire"
)

// callMethod is the single RPC method every executor in this system
// exposes. There is no generated service definition to target a more
// specific method name against — the wire.Request/wire.Response pair
// carries its own routing (Header.ExecEndpoint, Header.TargetExecutor).
const callMethod = "/jina.JinaRPC/Call"

// replica is one gRPC channel to one address of a deployment.
type replica struct {
	addr    string
	conn    *grpc.ClientConn
	healthy atomic.Bool
}

// deployment groups the replicas backing one named deployment and the
// per-deployment round-robin cursor.
type deployment struct {
	name        string
	metadata    map[string]string
	noReduce    bool
	timeoutSend time.Duration

	mu       sync.RWMutex
	replicas []*replica
	cursor   atomic.Uint64
}

// Pool is the connection pool. Construct with New; the zero value is not
// usable.
type Pool struct {
	retries     int
	compression string
	dialOpts    []grpc.DialOption

	mu          sync.RWMutex
	deployments map[string]*deployment

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithRetries sets how many additional replicas a failed send may try
// before giving up. Zero means one attempt, no retry.
func WithRetries(n int) Option {
	return func(p *Pool) { p.retries = n }
}

// WithCompression sets the gRPC compressor name (e.g. "gzip") applied to
// every call uniformly. Empty disables compression.
func WithCompression(name string) Option {
	return func(p *Pool) { p.compression = name }
}

// WithDialOptions appends extra grpc.DialOptions applied to every new
// replica connection, e.g. custom credentials in place of the insecure
// default.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(p *Pool) { p.dialOpts = append(p.dialOpts, opts...) }
}

// New constructs an empty Pool. Replicas are added with AddConnection.
func New(opts ...Option) *Pool {
	p := &Pool{
		deployments: make(map[string]*deployment),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if p.compression != "" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor(p.compression)))
	}
	opts = append(opts, p.dialOpts...)
	return opts
}

// AddConnection adds a replica address to a deployment, dialing lazily
// (gRPC channels connect on first use) and reusing the channel if the
// address is already present — idempotent per the contract in spec.md.
func (p *Pool) AddConnection(name, address string, metadata map[string]string, noReduce bool, timeoutSend time.Duration) error {
	if p.closed.Load() {
		return &ClosedError{}
	}

	p.mu.Lock()
	dep, ok := p.deployments[name]
	if !ok {
		dep = &deployment{name: name, metadata: metadata, noReduce: noReduce, timeoutSend: timeoutSend}
		p.deployments[name] = dep
	}
	p.mu.Unlock()

	dep.mu.Lock()
	defer dep.mu.Unlock()
	for _, r := range dep.replicas {
		if r.addr == address {
			return nil
		}
	}

	conn, err := grpc.NewClient(address, p.dialOptions()...)
	if err != nil {
		return &TransportError{Deployment: name, Attempts: 1, Cause: err}
	}
	r := &replica{addr: address, conn: conn}
	r.healthy.Store(true)
	dep.replicas = append(dep.replicas, r)
	return nil
}

// Deployment reports the metadata/no-reduce/timeout record registered for
// a deployment name, or false if unknown.
func (p *Pool) Deployment(name string) (metadata map[string]string, noReduce bool, timeoutSend time.Duration, ok bool) {
	p.mu.RLock()
	dep, found := p.deployments[name]
	p.mu.RUnlock()
	if !found {
		return nil, false, 0, false
	}
	return dep.metadata, dep.noReduce, dep.timeoutSend, true
}

// pickReplica returns the next replica in round-robin order, preferring
// healthy ones but falling back to the full ring (half-open: an unhealthy
// replica gets re-tried on its next scheduled turn).
func (d *deployment) pickReplica() *replica {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.replicas)
	if n == 0 {
		return nil
	}

	healthy := make([]*replica, 0, n)
	for _, r := range d.replicas {
		if r.healthy.Load() {
			healthy = append(healthy, r)
		}
	}

	ring := d.replicas
	if len(healthy) > 0 {
		ring = healthy
	}

	idx := d.cursor.Add(1) - 1
	return ring[idx%uint64(len(ring))]
}

// SendRequestsOnce sends one logical request to one replica of a
// deployment, retrying on transport failure against the next replica in
// the ring up to p.retries additional times. If the deployment was
// registered with a timeout, it bounds each attempt separately.
func (p *Pool) SendRequestsOnce(ctx context.Context, name, endpoint string, req *wire.Request) (*wire.Response, error) {
	if p.closed.Load() {
		return errorResponse(req, &wire.Exception{Name: wire.ExceptionPoolClosed, Executor: name}), &ClosedError{}
	}

	p.mu.RLock()
	dep, ok := p.deployments[name]
	p.mu.RUnlock()
	if !ok {
		return nil, &UnknownDeploymentError{Deployment: name}
	}

	var lastErr error
	attempts := 0
	for attempts <= p.retries {
		attempts++
		r := dep.pickReplica()
		if r == nil {
			lastErr = &UnknownDeploymentError{Deployment: name}
			break
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if dep.timeoutSend > 0 {
			callCtx, cancel = context.WithTimeout(ctx, dep.timeoutSend)
		}
		resp, err := p.invoke(callCtx, r.conn, endpoint, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			r.healthy.Store(true)
			return resp, nil
		}
		r.healthy.Store(false)
		lastErr = err
	}

	return errorResponse(req, &wire.Exception{Name: wire.ExceptionTransport, Args: []string{lastErr.Error()}, Executor: name}),
		&TransportError{Deployment: name, Attempts: attempts, Cause: lastErr}
}

func (p *Pool) invoke(ctx context.Context, conn *grpc.ClientConn, endpoint string, req *wire.Request) (*wire.Response, error) {
	if req.Header.ExecEndpoint == "" {
		req.Header.ExecEndpoint = endpoint
	}
	var resp wire.Response
	if err := conn.Invoke(ctx, callMethod, req, &resp, grpc.CallContentSubtype(jsonSubtype)); err != nil {
		return nil, err
	}
	return &resp, nil
}

func errorResponse(req *wire.Request, exc *wire.Exception) *wire.Response {
	return &wire.Response{
		Header:     req.Header,
		Parameters: req.Parameters,
		Status:     wire.Err(exc),
	}
}

// PostDirect sends inputs to a single deployment without going through a
// topology walk, batching into request_size-sized requests and
// concatenating the responses. This is the direct-post escape hatch for
// callers that want to reach one deployment without building a graph.
func (p *Pool) PostDirect(ctx context.Context, name, endpoint string, inputs wire.DocSet, requestSize int) (wire.DocSet, error) {
	batches := wire.Batch(inputs, requestSize)
	var out wire.DocSet
	for _, batch := range batches {
		resp, err := p.SendRequestsOnce(ctx, name, endpoint, &wire.Request{
			Header: wire.Header{ExecEndpoint: endpoint, TargetExecutor: name},
			Docs:   batch,
		})
		if err != nil {
			return out, err
		}
		out = append(out, resp.Docs...)
	}
	return out, nil
}

// Close marks the pool closed, rejecting further sends, and closes every
// channel. Calling Close twice is a no-op the second time.
func (p *Pool) Close() error {
	var firstErr error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.mu.RLock()
		defer p.mu.RUnlock()
		for _, dep := range p.deployments {
			dep.mu.RLock()
			for _, r := range dep.replicas {
				if err := r.conn.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			dep.mu.RUnlock()
		}
	})
	return firstErr
}

// healthCheck issues a standard gRPC health-check RPC against a replica.
func healthCheck(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(checkCtx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return &TransportError{Cause: context.DeadlineExceeded}
	}
	return nil
}
