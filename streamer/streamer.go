// Package streamer converts a client-supplied request iterator into a
// response iterator with bounded in-flight concurrency, optional
// order-preserving delivery, and a shared floating-task registry drained
// on close.
package streamer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/jina-ai/gateway-streamer-go/emit"
	"github.com/jina-ai/gateway-streamer-go/wire"
)

// SlotState is the per-request lifecycle state the streamer tracks:
//
//	PENDING --dispatch--> IN_FLIGHT --complete--> READY --deliver--> DONE
//	                           |
//	                           +--cancel--> CANCELLED
type SlotState int

const (
	SlotPending SlotState = iota
	SlotInFlight
	SlotReady
	SlotDone
	SlotCancelled
)

func (s SlotState) String() string {
	switch s {
	case SlotPending:
		return "PENDING"
	case SlotInFlight:
		return "IN_FLIGHT"
	case SlotReady:
		return "READY"
	case SlotDone:
		return "DONE"
	case SlotCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ProcessFunc drives one request through the handler and returns its
// response. Implementations must respect ctx cancellation.
type ProcessFunc func(ctx context.Context, req *wire.Request) (*wire.Response, error)

// result pairs a handler outcome with the request it answers.
type result struct {
	resp *wire.Response
	err  error
}

// Streamer bounds concurrency over a ProcessFunc and optionally restores
// input order on delivery.
type Streamer struct {
	prefetch       int
	resultsInOrder bool
	floating       *FloatingRegistry
	emitter        emit.Emitter
	sem            *semaphore.Weighted
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithPrefetch bounds in-flight requests. Zero means unbounded.
func WithPrefetch(n int) Option {
	return func(s *Streamer) {
		s.prefetch = n
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithResultsInOrder requests input-order delivery instead of the default
// completion-order delivery.
func WithResultsInOrder(enabled bool) Option {
	return func(s *Streamer) { s.resultsInOrder = enabled }
}

// WithFloatingRegistry shares an existing registry (normally owned by the
// gateway facade) instead of creating a private one.
func WithFloatingRegistry(r *FloatingRegistry) Option {
	return func(s *Streamer) { s.floating = r }
}

// WithEmitter wires an observability sink for slot-state transitions.
func WithEmitter(e emit.Emitter) Option {
	return func(s *Streamer) { s.emitter = e }
}

// New constructs a Streamer.
func New(opts ...Option) *Streamer {
	s := &Streamer{floating: NewFloatingRegistry(), emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Floating returns the registry this streamer drains in
// WaitFloatingRequestsEnd, shared with the handler that registers floating
// dispatches in it.
func (s *Streamer) Floating() *FloatingRegistry { return s.floating }

func (s *Streamer) emit(requestID string, seq uint64, state SlotState) {
	s.emitter.Emit(emit.Event{RunID: requestID, Step: int(seq), Msg: state.String()})
}

// Stream consumes reqs until it is closed or ctx is cancelled, dispatching
// each request to process with at most s.prefetch concurrently in flight,
// and returns every response on the returned channel. If resultsInOrder is
// set, responses are delivered in the same order requests arrived on reqs
// (by arrival sequence, not by request id); otherwise delivery order is
// completion order.
//
// The returned channel is closed once every dispatched request has been
// delivered and reqs has been drained or ctx cancelled.
func (s *Streamer) Stream(ctx context.Context, reqs <-chan *wire.Request, process ProcessFunc) <-chan *wire.Response {
	out := make(chan *wire.Response)

	completions := make(chan sequenced)
	var wg sync.WaitGroup

	go func() {
		var seq uint64
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				close(completions)
				return
			case req, ok := <-reqs:
				if !ok {
					wg.Wait()
					close(completions)
					return
				}
				mySeq := seq
				seq++
				if s.sem != nil {
					if err := s.sem.Acquire(ctx, 1); err != nil {
						completions <- sequenced{seq: mySeq, resp: result{err: err}}
						continue
					}
				}
				wg.Add(1)
				s.emit(req.Header.RequestID, mySeq, SlotInFlight)
				go func(r *wire.Request, sequence uint64) {
					defer wg.Done()
					if s.sem != nil {
						defer s.sem.Release(1)
					}
					resp, err := process(ctx, r)
					state := SlotReady
					if ctx.Err() != nil {
						state = SlotCancelled
					}
					s.emit(r.Header.RequestID, sequence, state)
					completions <- sequenced{seq: sequence, resp: result{resp: resp, err: err}}
				}(req, mySeq)
			}
		}
	}()

	go func() {
		defer close(out)
		buf := newOrderBuffer()
		for c := range completions {
			if !s.resultsInOrder {
				deliver(out, c.resp)
				s.emit("", c.seq, SlotDone)
				continue
			}
			buf.Push(c.seq, c.resp)
			first := buf.next
			for i, r := range buf.Drain() {
				deliver(out, r)
				s.emit("", first+uint64(i), SlotDone)
			}
		}
	}()

	return out
}

func deliver(out chan<- *wire.Response, r result) {
	if r.err != nil {
		out <- &wire.Response{Status: wire.Err(&wire.Exception{Name: wire.ExceptionCancelled, Args: []string{r.err.Error()}})}
		return
	}
	out <- r.resp
}

// ProcessSingleData is the degenerate one-request-in, one-response-out
// path: same error semantics as Stream, no prefetch or ordering machinery
// involved.
func (s *Streamer) ProcessSingleData(ctx context.Context, req *wire.Request, process ProcessFunc) (*wire.Response, error) {
	return process(ctx, req)
}

// WaitFloatingRequestsEnd drains the floating-task registry, returning
// once every floating task registered so far has completed.
func (s *Streamer) WaitFloatingRequestsEnd() {
	s.floating.Wait()
}
