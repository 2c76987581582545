package runner

import (
	"encoding/json"
	"fmt"
	"time"
)

// Loop detection knobs. The history window bounds memory, the block
// threshold ends a turn, and the warning threshold surfaces a heads-up
// while letting the turn continue.
const (
	loopHistorySize    = 30
	loopBlockThreshold = 5
	loopWarnThreshold  = 3
	pingPongWindow     = 6
)

// toolCallRecord is one observed tool invocation.
type toolCallRecord struct {
	name     string
	argsHash string
	at       time.Time
}

// Verdict is the detector's judgement after recording one call.
type Verdict struct {
	Blocked bool
	Warning bool
	Message string
}

// LoopDetector watches the stream of tool calls within one turn and flags
// pathological repetition. Each turn owns its own detector; state is never
// shared across turns or sessions.
type LoopDetector struct {
	history []toolCallRecord
}

// NewLoopDetector returns a detector with empty history.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{}
}

// Reset clears the history. Called at the start of a new turn, never mid-turn.
func (d *LoopDetector) Reset() {
	d.history = d.history[:0]
}

// Record notes one tool call and reports whether the turn should stop.
// The blocking rules, checked in order:
//
//  1. The same (name, args) pair fills the last loopBlockThreshold records.
//  2. The last pingPongWindow records strictly alternate between exactly
//     two tool names, arguments ignored.
//
// Three identical records among the last five produce a warning instead.
func (d *LoopDetector) Record(name string, args map[string]any) Verdict {
	d.history = append(d.history, toolCallRecord{
		name:     name,
		argsHash: hashArgs(args),
		at:       time.Now(),
	})
	if len(d.history) > loopHistorySize {
		d.history = d.history[len(d.history)-loopHistorySize:]
	}

	current := d.history[len(d.history)-1]
	window := d.history
	if len(window) > loopBlockThreshold {
		window = window[len(window)-loopBlockThreshold:]
	}

	identical := 0
	for _, rec := range window {
		if rec.name == current.name && rec.argsHash == current.argsHash {
			identical++
		}
	}

	if identical >= loopBlockThreshold {
		return Verdict{
			Blocked: true,
			Message: fmt.Sprintf("tool %q was called %d times in a row with identical arguments", name, identical),
		}
	}

	if a, b, ok := d.pingPong(); ok {
		return Verdict{
			Blocked: true,
			Message: fmt.Sprintf("tools %q and %q are alternating without making progress", a, b),
		}
	}

	if identical >= loopWarnThreshold {
		return Verdict{
			Warning: true,
			Message: fmt.Sprintf("tool %q repeated %d times with identical arguments", name, identical),
		}
	}

	return Verdict{}
}

// pingPong reports whether the newest pingPongWindow records strictly
// alternate between two distinct tool names (A,B,A,B,A,B).
func (d *LoopDetector) pingPong() (string, string, bool) {
	if len(d.history) < pingPongWindow {
		return "", "", false
	}
	win := d.history[len(d.history)-pingPongWindow:]
	a, b := win[0].name, win[1].name
	if a == b {
		return "", "", false
	}
	for i, rec := range win {
		want := a
		if i%2 == 1 {
			want = b
		}
		if rec.name != want {
			return "", "", false
		}
	}
	return a, b, true
}

// hashArgs fingerprints an argument map. json.Marshal sorts map keys, so
// the same logical call hashes identically regardless of key order.
// Unserializable arguments degrade to the empty-object hash instead of
// failing the record.
func hashArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
