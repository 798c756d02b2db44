// Package sandbox implements the declarative policy gating tool
// execution: stateless allow/deny queries over a configuration, no
// interactive prompting, no persisted state.
package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Policy is read-only within a turn; callers never mutate it mid-turn.
type Policy struct {
	ReadAllow         []string
	WriteAllow        []string
	CommandBlocklist  []string
	MaxExecTimeoutSecs int // 0 = unlimited
	MaxOutputBytes    int
	NetworkAllowed    bool
	TurnTimeoutSecs   int
}

// DefaultCommandBlocklist seeds the destructive/dangerous fragments a
// policy should reject by default: destructive filesystem commands,
// privilege escalation, remote code execution primitives, crypto
// miners, fork bombs, credential theft, and global package manager
// writes.
func DefaultCommandBlocklist() []string {
	return []string{
		"rm -rf /", "rm -rf /*", "mkfs", "dd if=", ":(){ :|:& };:",
		"sudo ", "su -", "chmod -r 777 /", "chown -r",
		"*curl *| sh*", "*curl *| bash*", "*wget *| sh*", "*wget -o- *| sh*",
		"xmrig", "minerd", "cgminer",
		"cat /etc/shadow", "cat ~/.ssh/id_rsa", "cat ~/.aws/credentials",
		"npm install -g", "pip install --user ", "gem install ",
	}
}

func Default() Policy {
	return Policy{
		MaxExecTimeoutSecs: 300,
		MaxOutputBytes:     64 * 1024,
		CommandBlocklist:   DefaultCommandBlocklist(),
		TurnTimeoutSecs:    600,
	}
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(abs)
}

func underAnyRoot(path string, roots []string) bool {
	if len(roots) == 0 {
		return true // empty list means unrestricted
	}
	p := canonical(path)
	for _, root := range roots {
		r := canonical(root)
		if p == r || strings.HasPrefix(p, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// CanRead reports whether path is under a ReadAllow root (or the list
// is empty, meaning unrestricted).
func (p Policy) CanRead(path string) bool { return underAnyRoot(path, p.ReadAllow) }

// CanWrite mirrors CanRead against WriteAllow.
func (p Policy) CanWrite(path string) bool { return underAnyRoot(path, p.WriteAllow) }

// IsCommandBlocked matches cmd against the blocklist case-insensitively.
// Entries containing glob metacharacters (*, ?, [) are compiled with
// gobwas/glob and matched against the whole command, then against each
// whitespace-separated token (so "rm -rf *" catches "rm -rf /tmp/foo"
// through the whole-command match); plain entries fall back to a
// substring match. Returns the matched fragment on hit.
func (p Policy) IsCommandBlocked(cmd string) (string, bool) {
	lower := strings.ToLower(cmd)
	for _, frag := range p.CommandBlocklist {
		lowerFrag := strings.ToLower(frag)
		if strings.ContainsAny(lowerFrag, "*?[") {
			g, err := glob.Compile(lowerFrag)
			if err != nil {
				continue
			}
			if g.Match(lower) {
				return frag, true
			}
			for _, tok := range strings.Fields(lower) {
				if g.Match(tok) {
					return frag, true
				}
			}
			continue
		}
		if strings.Contains(lower, lowerFrag) {
			return frag, true
		}
	}
	return "", false
}

// ClampTimeout returns min(requested, MaxExecTimeoutSecs), with 0
// (either side) meaning unlimited.
func (p Policy) ClampTimeout(requestedSecs int) int {
	if p.MaxExecTimeoutSecs == 0 {
		return requestedSecs
	}
	if requestedSecs == 0 || requestedSecs > p.MaxExecTimeoutSecs {
		return p.MaxExecTimeoutSecs
	}
	return requestedSecs
}
