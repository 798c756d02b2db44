// Package workspace loads the on-disk workspace: a directory of
// optional markdown bootstrap files whose concatenation (front matter
// stripped, each wrapped by a filename comment marker, followed by a
// runtime timestamp) forms the system prompt.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBootstrapFiles is the declared order of the full bootstrap
// set, used whenever minimal context is off.
var DefaultBootstrapFiles = []string{"SOUL.md", "IDENTITY.md", "USER.md", "AGENTS.md", "TOOLS.md", "MEMORY.md"}

// MinimalBootstrapFiles is the reduced set used under "minimal context".
var MinimalBootstrapFiles = []string{"AGENTS.md", "TOOLS.md"}

// Workspace holds the assembled system prompt and the directory it was
// built from.
type Workspace struct {
	Dir          string
	SystemPrompt string

	mtimes map[string]time.Time
}

// clockNow is overridable in tests.
var clockNow = time.Now

// Load assembles the system prompt from dir's bootstrap files. If
// minimal is true, only MinimalBootstrapFiles are included.
func Load(dir string, minimal bool) (*Workspace, error) {
	files := DefaultBootstrapFiles
	if minimal {
		files = MinimalBootstrapFiles
	}

	var sb strings.Builder
	mtimes := make(map[string]time.Time)
	for _, name := range files {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue // optional: absent bootstrap files are simply skipped
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("workspace: read %s: %w", path, err)
		}
		body := stripFrontMatter(string(data))
		sb.WriteString(fmt.Sprintf("<!-- %s -->\n", name))
		sb.WriteString(body)
		sb.WriteString("\n")
		mtimes[name] = info.ModTime()
	}
	sb.WriteString(fmt.Sprintf("<!-- runtime: %s -->\n", clockNow().UTC().Format(time.RFC3339)))

	return &Workspace{Dir: dir, SystemPrompt: sb.String(), mtimes: mtimes}, nil
}

// Refresh re-reads the workspace only if a bootstrap file's mtime
// changed; on a cache hit only the runtime timestamp line is refreshed.
func (w *Workspace) Refresh(minimal bool) (*Workspace, error) {
	files := DefaultBootstrapFiles
	if minimal {
		files = MinimalBootstrapFiles
	}
	for _, name := range files {
		path := filepath.Join(w.Dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if _, had := w.mtimes[name]; had {
				return Load(w.Dir, minimal) // file removed: rebuild
			}
			continue
		}
		if prev, ok := w.mtimes[name]; !ok || !info.ModTime().Equal(prev) {
			return Load(w.Dir, minimal)
		}
	}
	// cache hit: only the runtime timestamp changes
	lines := strings.Split(strings.TrimRight(w.SystemPrompt, "\n"), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "<!-- runtime:") {
		lines = lines[:len(lines)-1]
	}
	lines = append(lines, fmt.Sprintf("<!-- runtime: %s -->", clockNow().UTC().Format(time.RFC3339)))
	return &Workspace{Dir: w.Dir, SystemPrompt: strings.Join(lines, "\n") + "\n", mtimes: w.mtimes}, nil
}

// stripFrontMatter removes a leading "---\n...\n---\n" block from
// content. The block is only treated as front matter when it parses as
// a YAML mapping; a file that merely opens with a horizontal rule keeps
// its content untouched.
func stripFrontMatter(content string) string {
	const marker = "---"
	if !strings.HasPrefix(content, marker) {
		return content
	}
	rest := content[len(marker):]
	rest = strings.TrimPrefix(rest, "\n")
	idx := strings.Index(rest, "\n"+marker)
	if idx < 0 {
		return content
	}
	var meta map[string]any
	if err := yaml.Unmarshal([]byte(rest[:idx]), &meta); err != nil || meta == nil {
		return content
	}
	body := rest[idx+1+len(marker):]
	return strings.TrimPrefix(body, "\n")
}
