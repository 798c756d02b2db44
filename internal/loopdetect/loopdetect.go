// Package loopdetect recognises stuck tool-call repetition: a sliding
// window over recent calls and their observed outputs classifies the
// next call as Allow/Warn/Block before it executes.
package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

const (
	DefaultWindowSize        = 30
	DefaultWarnThreshold     = 8
	DefaultCriticalThreshold = 15
	DefaultCircuitBreaker    = 25
)

// Record is one entry in the sliding window.
type Record struct {
	Name       string
	ArgsHash   string
	ResultHash string // empty until the call's outcome is recorded
}

// Config holds the detector's thresholds.
type Config struct {
	WindowSize        int
	WarnThreshold     int
	CriticalThreshold int
	CircuitBreaker    int
}

func DefaultConfig() Config {
	return Config{
		WindowSize:        DefaultWindowSize,
		WarnThreshold:     DefaultWarnThreshold,
		CriticalThreshold: DefaultCriticalThreshold,
		CircuitBreaker:    DefaultCircuitBreaker,
	}
}

// Verdict tags the sum type `Allow | Warn{...} | Block{...}`.
type VerdictKind int

const (
	Allow VerdictKind = iota
	Warn
	Block
)

type Verdict struct {
	Kind     VerdictKind
	Message  string
	Detector string
	Count    int
}

// Detector holds the sliding window and blocked-call counter.
type Detector struct {
	cfg     Config
	history []Record
	blocked int
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// CanonicalArgsHash hashes the canonical JSON form of args: keys are
// sorted so argument order never affects the hash.
func CanonicalArgsHash(args map[string]any) string {
	return hashString(canonicalJSON(args))
}

func canonicalJSON(v map[string]any) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, v[k])
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ResultHash hashes observed tool output text.
func ResultHash(output string) string { return hashString(output) }

func callHash(name, argsHash string) string { return hashString(name + "\x00" + argsHash) }

// Check classifies the pending call (name, argsHash) against the
// current history, before execution.
func (d *Detector) Check(name, argsHash string) Verdict {
	// checkNoProgress runs first: its streak is always a subset of the
	// generic-repeat count (it additionally requires matching result
	// hashes), so it is the more specific detector. Checking generic
	// repeat first would shadow no_progress_critical/circuit_breaker
	// forever, since generic-repeat's own critical threshold is always
	// reached no later than no-progress's.
	if v := d.checkNoProgress(name, argsHash); v.Kind != Allow {
		return v
	}
	if v := d.checkGenericRepeat(name, argsHash); v.Kind != Allow {
		return v
	}
	if v := d.checkPingPong(name, argsHash); v.Kind != Allow {
		return v
	}
	return Verdict{Kind: Allow}
}

// checkGenericRepeat counts history records matching (name, argsHash).
func (d *Detector) checkGenericRepeat(name, argsHash string) Verdict {
	count := 0
	for _, r := range d.history {
		if r.Name == name && r.ArgsHash == argsHash {
			count++
		}
	}
	switch {
	case count >= d.cfg.CriticalThreshold:
		return Verdict{Kind: Block, Detector: "generic_repeat_critical", Count: count, Message: blockMsg("generic_repeat_critical", count)}
	case count >= d.cfg.WarnThreshold:
		return Verdict{Kind: Warn, Detector: "generic_repeat", Count: count, Message: warnMsg("generic_repeat", count)}
	}
	return Verdict{Kind: Allow}
}

// checkNoProgress walks backwards from the tail counting consecutive
// records with matching (name, argsHash) whose result_hash equals the
// most recent matching record's result_hash; the streak breaks on a
// differing result.
func (d *Detector) checkNoProgress(name, argsHash string) Verdict {
	var lastResult string
	haveLast := false
	streak := 0
	for i := len(d.history) - 1; i >= 0; i-- {
		r := d.history[i]
		if r.Name != name || r.ArgsHash != argsHash {
			continue
		}
		if !haveLast {
			lastResult = r.ResultHash
			haveLast = true
			streak = 1
			continue
		}
		if r.ResultHash == lastResult {
			streak++
		} else {
			break
		}
	}
	switch {
	case streak >= d.cfg.CircuitBreaker:
		return Verdict{Kind: Block, Detector: "circuit_breaker", Count: streak, Message: blockMsg("circuit_breaker", streak)}
	case streak >= d.cfg.CriticalThreshold:
		return Verdict{Kind: Block, Detector: "no_progress_critical", Count: streak, Message: blockMsg("no_progress_critical", streak)}
	case streak >= d.cfg.WarnThreshold:
		return Verdict{Kind: Warn, Detector: "no_progress", Count: streak, Message: warnMsg("no_progress", streak)}
	}
	return Verdict{Kind: Allow}
}

// checkPingPong detects strict alternation between exactly two call
// hashes; three or more distinct patterns alternating never count.
func (d *Detector) checkPingPong(name, argsHash string) Verdict {
	if len(d.history) < 1 {
		return Verdict{Kind: Allow}
	}
	currentHash := callHash(name, argsHash)
	lastHash := callHash(d.history[len(d.history)-1].Name, d.history[len(d.history)-1].ArgsHash)
	if currentHash == lastHash {
		return Verdict{Kind: Allow}
	}

	// Walk backwards checking strict alternation between currentHash and lastHash.
	length := 1 // the pending call continues the pattern
	want := lastHash
	for i := len(d.history) - 1; i >= 0; i-- {
		h := callHash(d.history[i].Name, d.history[i].ArgsHash)
		if h != want {
			break
		}
		length++
		if want == lastHash {
			want = currentHash
		} else {
			want = lastHash
		}
	}

	switch {
	case length >= d.cfg.CriticalThreshold:
		return Verdict{Kind: Block, Detector: "ping_pong_critical", Count: length, Message: blockMsg("ping_pong_critical", length)}
	case length >= d.cfg.WarnThreshold:
		return Verdict{Kind: Warn, Detector: "ping_pong", Count: length, Message: warnMsg("ping_pong", length)}
	}
	return Verdict{Kind: Allow}
}

// RecordCall appends (name, argsHash) to the window with an empty
// result_hash (filled in later by RecordOutcome), trimming to WindowSize.
func (d *Detector) RecordCall(name, argsHash string) {
	d.history = append(d.history, Record{Name: name, ArgsHash: argsHash})
	d.trim()
}

// RecordOutcome fills in the result hash of the most recently appended
// matching record.
func (d *Detector) RecordOutcome(name, argsHash, output string) {
	rh := ResultHash(output)
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].Name == name && d.history[i].ArgsHash == argsHash && d.history[i].ResultHash == "" {
			d.history[i].ResultHash = rh
			return
		}
	}
}

// RecordBlock increments the blocked-call counter.
func (d *Detector) RecordBlock() { d.blocked++ }

func (d *Detector) Blocked() int { return d.blocked }

func (d *Detector) trim() {
	if len(d.history) > d.cfg.WindowSize {
		d.history = d.history[len(d.history)-d.cfg.WindowSize:]
	}
}

func blockMsg(detector string, count int) string {
	return "Blocked: detected " + detector + " pattern (" + strconv.Itoa(count) + " occurrences). Try a different approach."
}

func warnMsg(detector string, count int) string {
	return "Warning: possible " + detector + " pattern detected (" + strconv.Itoa(count) + " occurrences)."
}
