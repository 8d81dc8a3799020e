// Package emit provides the observability seam shared by the connection
// pool, the request/response handler and the streamer: a small event sink
// abstraction with log, no-op and OpenTelemetry-backed implementations.
package emit

import "context"

// Emitter receives observability events from the gateway core. Emit must
// not block the caller for long and must never panic; EmitBatch exists for
// backends that benefit from amortizing I/O across many events. Flush
// blocks until buffered events have been delivered, or until ctx expires.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
