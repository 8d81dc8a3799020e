package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable
// key=value lines or as JSON lines (one event per line).
type LogEmitter struct {
	w    io.Writer
	json bool
}

// NewLogEmitter returns a LogEmitter writing to w (os.Stdout if nil) in
// JSON mode when jsonMode is true, text mode otherwise.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, json: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.json {
		l.writeJSON(event)
		return
	}
	l.writeText(event)
}

func (l *LogEmitter) writeJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.w, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintf(l.w, "%s\n", data)
}

func (l *LogEmitter) writeText(event Event) {
	fmt.Fprintf(l.w, "[%s] runID=%s step=%d nodeID=%s", event.Msg, event.RunID, event.Step, event.NodeID)
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.w, " meta=%s", metaJSON)
		}
	}
	fmt.Fprint(l.w, "\n")
}

// EmitBatch writes every event in order; LogEmitter has no internal buffer
// so this is equivalent to calling Emit in a loop.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously.
func (l *LogEmitter) Flush(context.Context) error { return nil }
