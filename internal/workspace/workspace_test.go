package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func seed(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

func TestLoad_ConcatenatesInDeclaredOrder(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "SOUL.md", "soul body")
	seed(t, dir, "AGENTS.md", "agents body")
	seed(t, dir, "TOOLS.md", "tools body")

	ws, err := Load(dir, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	prompt := ws.SystemPrompt

	soulIdx := strings.Index(prompt, "<!-- SOUL.md -->")
	agentsIdx := strings.Index(prompt, "<!-- AGENTS.md -->")
	toolsIdx := strings.Index(prompt, "<!-- TOOLS.md -->")
	if soulIdx < 0 || agentsIdx < 0 || toolsIdx < 0 {
		t.Fatalf("missing filename markers in prompt:\n%s", prompt)
	}
	if !(soulIdx < agentsIdx && agentsIdx < toolsIdx) {
		t.Fatalf("bootstrap files out of declared order:\n%s", prompt)
	}
	if !strings.Contains(prompt, "<!-- runtime:") {
		t.Fatal("missing runtime timestamp marker")
	}
}

func TestLoad_MinimalContextSubset(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "SOUL.md", "soul body")
	seed(t, dir, "AGENTS.md", "agents body")

	ws, err := Load(dir, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Contains(ws.SystemPrompt, "soul body") {
		t.Fatal("minimal context must not include SOUL.md")
	}
	if !strings.Contains(ws.SystemPrompt, "agents body") {
		t.Fatal("minimal context must include AGENTS.md")
	}
}

func TestLoad_StripsYAMLFrontMatter(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "AGENTS.md", "---\ntitle: agents\norder: 1\n---\nthe real body")

	ws, err := Load(dir, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Contains(ws.SystemPrompt, "title: agents") {
		t.Fatal("front matter leaked into prompt")
	}
	if !strings.Contains(ws.SystemPrompt, "the real body") {
		t.Fatal("body lost while stripping front matter")
	}
}

func TestLoad_KeepsNonYAMLRule(t *testing.T) {
	dir := t.TempDir()
	// Opens with a horizontal rule, not YAML front matter.
	seed(t, dir, "AGENTS.md", "---\njust a divider, [not yaml\n---\nrest")

	ws, err := Load(dir, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(ws.SystemPrompt, "just a divider") {
		t.Fatal("non-YAML leading block was wrongly stripped")
	}
}

func TestRefresh_CacheHitOnlyUpdatesTimestamp(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "AGENTS.md", "agents body")

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clockNow = func() time.Time { return fixed }
	defer func() { clockNow = time.Now }()

	ws, err := Load(dir, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	later := fixed.Add(time.Minute)
	clockNow = func() time.Time { return later }

	refreshed, err := ws.Refresh(false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(refreshed.SystemPrompt, later.Format(time.RFC3339)) {
		t.Fatal("runtime timestamp not refreshed on cache hit")
	}
	if strings.Contains(refreshed.SystemPrompt, fixed.Format(time.RFC3339)) {
		t.Fatal("stale runtime timestamp left in prompt")
	}
	wantBody := strings.SplitN(ws.SystemPrompt, "<!-- runtime:", 2)[0]
	if !strings.HasPrefix(refreshed.SystemPrompt, wantBody) {
		t.Fatal("cache hit rebuilt more than the runtime timestamp")
	}
}

func TestRefresh_RebuildsOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "AGENTS.md", "old body")

	ws, err := Load(dir, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	seed(t, dir, "AGENTS.md", "new body")
	// Force an mtime difference even on coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(dir, "AGENTS.md"), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	refreshed, err := ws.Refresh(false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(refreshed.SystemPrompt, "new body") {
		t.Fatal("refresh did not pick up the changed bootstrap file")
	}
}
