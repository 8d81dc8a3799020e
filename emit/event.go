package emit

// Event is a single observability point emitted while a request moves
// through the core: a dispatch, a completion, a retry, a slot-state
// transition.
type Event struct {
	// RunID identifies the request (or stream) this event belongs to.
	RunID string

	// Step is a sequence number within RunID — arrival order for
	// streamer events. Handler events do not set it and leave it zero.
	Step int

	// NodeID names the deployment or topology node the event concerns.
	// Empty for stream-level events.
	NodeID string

	// Msg is the event kind, e.g. "dispatch", "retry", "IN_FLIGHT".
	Msg string

	// Meta carries event-specific structured data (duration_ms, error,
	// replica address, ...).
	Meta map[string]interface{}
}
