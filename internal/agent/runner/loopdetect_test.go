package runner

import (
	"fmt"
	"strings"
	"testing"
)

func TestLoopDetectorBlocksIdenticalRepetition(t *testing.T) {
	d := NewLoopDetector()
	args := map[string]any{"path": "/tmp/x"}

	for i := 1; i <= 4; i++ {
		if v := d.Record("read_file", args); v.Blocked {
			t.Fatalf("call %d should not block yet", i)
		}
	}
	v := d.Record("read_file", args)
	if !v.Blocked {
		t.Fatal("5th identical call should block")
	}
	if !strings.Contains(v.Message, "read_file") {
		t.Errorf("message %q should name the tool", v.Message)
	}
}

func TestLoopDetectorWarnsBeforeBlocking(t *testing.T) {
	d := NewLoopDetector()
	args := map[string]any{"q": "same"}

	d.Record("search", args)
	d.Record("search", args)
	v := d.Record("search", args)
	if !v.Warning || v.Blocked {
		t.Errorf("3rd identical call: want warning without block, got %+v", v)
	}
	v = d.Record("search", args)
	if !v.Warning || v.Blocked {
		t.Errorf("4th identical call: want warning without block, got %+v", v)
	}
}

func TestLoopDetectorVaryingArgsNeverBlock(t *testing.T) {
	d := NewLoopDetector()
	for i := 0; i < 10; i++ {
		v := d.Record("read_file", map[string]any{"path": fmt.Sprintf("/tmp/%d", i)})
		if v.Blocked || v.Warning {
			t.Fatalf("varying arguments should stay clean, flagged at call %d: %+v", i+1, v)
		}
	}
}

func TestLoopDetectorPingPongBlocks(t *testing.T) {
	d := NewLoopDetector()
	for i := 0; i < 5; i++ {
		name := "list_dir"
		if i%2 == 1 {
			name = "read_file"
		}
		// Arguments change every call; the alternation rule is name-based.
		if v := d.Record(name, map[string]any{"n": i}); v.Blocked {
			t.Fatalf("call %d should not block yet", i+1)
		}
	}
	v := d.Record("read_file", map[string]any{"n": 5})
	if !v.Blocked {
		t.Fatal("6th strictly alternating call should block")
	}
	if !strings.Contains(v.Message, "alternating") {
		t.Errorf("message %q should mention the alternation", v.Message)
	}
}

func TestLoopDetectorPingPongRequiresStrictAlternation(t *testing.T) {
	d := NewLoopDetector()
	var v Verdict
	for i, n := range []string{"a", "b", "a", "a", "b", "a"} {
		v = d.Record(n, map[string]any{"i": i})
	}
	if v.Blocked {
		t.Error("broken alternation should not block")
	}

	d.Reset()
	for i, n := range []string{"a", "b", "c", "a", "b", "c"} {
		v = d.Record(n, map[string]any{"i": i})
	}
	if v.Blocked {
		t.Error("a three-tool rotation should not block")
	}
}

func TestLoopDetectorReset(t *testing.T) {
	d := NewLoopDetector()
	args := map[string]any{"k": "v"}
	for i := 0; i < 4; i++ {
		d.Record("x", args)
	}
	d.Reset()
	if v := d.Record("x", args); v.Blocked || v.Warning {
		t.Errorf("first call after reset should be clean, got %+v", v)
	}
}

func TestLoopDetectorHistoryBounded(t *testing.T) {
	d := NewLoopDetector()
	for i := 0; i < loopHistorySize+10; i++ {
		d.Record("t", map[string]any{"i": i})
	}
	if len(d.history) != loopHistorySize {
		t.Errorf("history length = %d, want %d", len(d.history), loopHistorySize)
	}
}

func TestHashArgs(t *testing.T) {
	if got := hashArgs(nil); got != "{}" {
		t.Errorf("hashArgs(nil) = %q, want {}", got)
	}
	if got := hashArgs(map[string]any{}); got != "{}" {
		t.Errorf("hashArgs(empty) = %q, want {}", got)
	}
	// Unserializable values degrade to the empty-object hash instead of
	// poisoning the detector.
	if got := hashArgs(map[string]any{"ch": make(chan int)}); got != "{}" {
		t.Errorf("hashArgs(chan) = %q, want {}", got)
	}
	// Maps marshal with sorted keys, so logically equal arguments hash equal.
	a := hashArgs(map[string]any{"x": 1, "y": "z"})
	b := hashArgs(map[string]any{"y": "z", "x": 1})
	if a != b {
		t.Errorf("hashes differ for the same logical arguments: %q vs %q", a, b)
	}
	if a == hashArgs(map[string]any{"x": 2, "y": "z"}) {
		t.Error("different argument values should hash differently")
	}
}
