// Package progress writes machine-readable progress events for wrapping
// processes. Each event is one line: Prefix followed by a JSON object.
package progress

import (
	"encoding/json"
	"io"
	"math"
	"sync"
)

// Prefix marks progress lines so callers can tell them apart from logs.
const Prefix = "__ACE_STEP_PROGRESS__"

// Event is the JSON payload of a progress line.
type Event struct {
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage,omitempty"`
}

// Reporter emits progress events to a writer, usually stderr.
// A nil *Reporter discards events.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReporter returns a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Report writes one event. Progress is clamped to [0, 1]; NaN is dropped.
func (r *Reporter) Report(progress float64, stage string) {
	if r == nil || r.w == nil || math.IsNaN(progress) {
		return
	}
	payload, err := json.Marshal(Event{Progress: max(0, min(1, progress)), Stage: stage})
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	line := make([]byte, 0, len(Prefix)+len(payload)+1)
	line = append(line, Prefix...)
	line = append(line, payload...)
	line = append(line, '\n')
	_, _ = r.w.Write(line)
}

// Func adapts the reporter to a plain callback.
func (r *Reporter) Func() func(progress float64, stage string) {
	return r.Report
}
