package loopdetect

import "testing"

// Given 15 consecutive records with identical (name, args_hash),
// the detector returns Block{detector: "generic_repeat_critical", count >= 15}.
func TestGenericRepeatBlocksAt15(t *testing.T) {
	d := New(DefaultConfig())
	argsHash := CanonicalArgsHash(map[string]any{"path": "/tmp/x"})

	for i := 0; i < 15; i++ {
		d.RecordCall("exec", argsHash)
		d.RecordOutcome("exec", argsHash, "varying output "+string(rune('a'+i)))
	}
	verdict := d.Check("exec", argsHash)
	if verdict.Kind != Block {
		t.Fatalf("want Block, got %v", verdict.Kind)
	}
	if verdict.Detector != "generic_repeat_critical" {
		t.Fatalf("want generic_repeat_critical, got %s", verdict.Detector)
	}
	if verdict.Count < 15 {
		t.Fatalf("want count >= 15, got %d", verdict.Count)
	}
}

// Given 25 consecutive records with identical (name, args_hash) AND
// identical result_hash, the detector returns Block{detector: "circuit_breaker"}.
func TestNoProgressCircuitBreakerAt25(t *testing.T) {
	d := New(DefaultConfig())
	argsHash := CanonicalArgsHash(map[string]any{"path": "/nonexistent"})

	for i := 0; i < 25; i++ {
		d.RecordCall("read", argsHash)
		d.RecordOutcome("read", argsHash, "file not found") // identical result every time
	}
	verdict := d.Check("read", argsHash)
	if verdict.Kind != Block {
		t.Fatalf("want Block, got %v (%s)", verdict.Kind, verdict.Message)
	}
	if verdict.Detector != "circuit_breaker" {
		t.Fatalf("want circuit_breaker, got %s", verdict.Detector)
	}
}

func TestAllowBelowThresholds(t *testing.T) {
	d := New(DefaultConfig())
	argsHash := CanonicalArgsHash(map[string]any{"path": "/tmp/x"})
	for i := 0; i < 3; i++ {
		d.RecordCall("read", argsHash)
		d.RecordOutcome("read", argsHash, "ok")
	}
	if v := d.Check("read", argsHash); v.Kind != Allow {
		t.Fatalf("want Allow below threshold, got %v", v.Kind)
	}
}

func TestPingPongDetectsAlternation(t *testing.T) {
	d := New(DefaultConfig())
	aArgs := CanonicalArgsHash(map[string]any{"cmd": "ls"})
	bArgs := CanonicalArgsHash(map[string]any{"cmd": "pwd"})
	for i := 0; i < 8; i++ {
		if i%2 == 0 {
			d.RecordCall("exec", aArgs)
			d.RecordOutcome("exec", aArgs, "out-a")
		} else {
			d.RecordCall("exec", bArgs)
			d.RecordOutcome("exec", bArgs, "out-b")
		}
	}
	// Next call continues the alternation.
	next := aArgs
	v := d.Check("exec", next)
	if v.Kind == Allow {
		t.Fatalf("expected ping-pong to be flagged after a long alternating run, got Allow")
	}
}

func TestCanonicalArgsHashIgnoresKeyOrder(t *testing.T) {
	h1 := CanonicalArgsHash(map[string]any{"a": 1, "b": 2})
	h2 := CanonicalArgsHash(map[string]any{"b": 2, "a": 1})
	if h1 != h2 {
		t.Fatal("expected key-order-independent hashing")
	}
}
