package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

const grepMaxResults = 200
const grepOutputCap = 64 * 1024

// GrepTool line-matches a pattern, preferring ripgrep and falling back
// to an in-process walk when rg is not installed.
type GrepTool struct{}

func NewGrepTool() *GrepTool { return &GrepTool{} }

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

type grepMatch struct {
	Path    string
	Line    int
	Context string
}

func (t *GrepTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents for a regex pattern (RE2 syntax). Returns up to 200 matches with surrounding context.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "RE2 regular expression"},
				"path":    map[string]any{"type": "string", "description": "File or directory to search (default: workspace root)"},
				"include": map[string]any{"type": "string", "description": "Glob filter, e.g. '*.go'"},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GrepTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a grepArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.Pattern == "" {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "pattern is required")), nil
	}

	searchPath := a.Path
	tc := toolctx.From(ctx)
	if searchPath == "" {
		if tc != nil && tc.WorkspaceDir != "" {
			searchPath = tc.WorkspaceDir
		} else {
			searchPath, _ = os.Getwd()
		}
	}
	policy := sandbox.Default()
	if tc != nil {
		policy = tc.Sandbox
	}
	if !policy.CanRead(searchPath) {
		return llm.ErrorOutput(toolErr(ErrPathDenied, "%s is outside the allowed read roots", searchPath)), nil
	}

	if ripgrepAvailable() {
		matches, err := runRipgrep(ctx, a.Pattern, searchPath, a.Include)
		if err == nil {
			return llm.TextOutput(formatGrepMatches(matches)), nil
		}
		if ctx.Err() != nil {
			return llm.ErrorOutput(toolErr(ErrTimeout, "grep timed out after 1 minute")), nil
		}
	}

	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "invalid pattern: %v", err)), nil
	}
	files, err := collectSearchFiles(searchPath, a.Include)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
	}
	sort.Slice(files, func(i, j int) bool {
		fi, _ := os.Stat(files[i])
		fj, _ := os.Stat(files[j])
		if fi == nil || fj == nil {
			return false
		}
		return fi.ModTime().After(fj.ModTime())
	})

	var matches []grepMatch
	for _, f := range files {
		if ctx.Err() != nil {
			return llm.ErrorOutput(toolErr(ErrTimeout, "grep timed out after 1 minute")), nil
		}
		if len(matches) >= grepMaxResults {
			break
		}
		fm, err := grepFile(f, re, grepMaxResults-len(matches))
		if err != nil {
			continue
		}
		matches = append(matches, fm...)
	}
	return llm.TextOutput(formatGrepMatches(matches)), nil
}

func ripgrepAvailable() bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

type rgEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rgData struct {
	Path struct {
		Text string `json:"text"`
	} `json:"path"`
	Lines struct {
		Text string `json:"text"`
	} `json:"lines"`
	LineNumber int `json:"line_number"`
}

func runRipgrep(ctx context.Context, pattern, searchPath, include string) ([]grepMatch, error) {
	args := []string{"--json", "--max-count", strconv.Itoa(grepMaxResults), "--context", "3", "--hidden", "--glob", "!.git"}
	if include != "" {
		args = append(args, "--glob", include)
	}
	args = append(args, pattern, searchPath)
	out, err := exec.CommandContext(ctx, "rg", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parseRipgrepJSON(out)
}

func parseRipgrepJSON(out []byte) ([]grepMatch, error) {
	type pending struct {
		path   string
		line   int
		before []string
		after  []string
		text   string
	}
	var matches []grepMatch
	var cur *pending
	flush := func() {
		if cur == nil {
			return
		}
		var sb strings.Builder
		start := cur.line - len(cur.before)
		for i, l := range cur.before {
			fmt.Fprintf(&sb, "  %d: %s\n", start+i, l)
		}
		fmt.Fprintf(&sb, "> %d: %s\n", cur.line, cur.text)
		for i, l := range cur.after {
			fmt.Fprintf(&sb, "  %d: %s\n", cur.line+1+i, l)
		}
		matches = append(matches, grepMatch{Path: cur.path, Line: cur.line, Context: strings.TrimSuffix(sb.String(), "\n")})
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		var ev rgEvent
		if json.Unmarshal([]byte(line), &ev) != nil {
			continue
		}
		var d rgData
		switch ev.Type {
		case "match":
			flush()
			if json.Unmarshal(ev.Data, &d) != nil {
				cur = nil
				continue
			}
			cur = &pending{path: d.Path.Text, line: d.LineNumber, text: strings.TrimSuffix(d.Lines.Text, "\n")}
		case "context":
			if cur == nil || json.Unmarshal(ev.Data, &d) != nil {
				continue
			}
			text := strings.TrimSuffix(d.Lines.Text, "\n")
			if d.LineNumber < cur.line {
				cur.before = append(cur.before, text)
			} else {
				cur.after = append(cur.after, text)
			}
		}
	}
	flush()
	return matches, nil
}

func collectSearchFiles(searchPath, include string) ([]string, error) {
	info, err := os.Stat(searchPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{searchPath}, nil
	}
	var files []string
	err = filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != searchPath {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if include != "" {
			if ok, _ := doublestar.Match(include, d.Name()); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func grepFile(path string, re *regexp.Regexp, maxMatches int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	ct := http.DetectContentType(head[:n])
	if !strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "json") && !strings.Contains(ct, "xml") {
		return nil, fmt.Errorf("binary file")
	}
	f.Seek(0, 0)

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}

	var matches []grepMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		matches = append(matches, grepMatch{Path: path, Line: i + 1, Context: buildGrepContext(lines, i, 3)})
		if len(matches) >= maxMatches {
			break
		}
	}
	return matches, nil
}

func buildGrepContext(lines []string, idx, n int) string {
	start := idx - n
	if start < 0 {
		start = 0
	}
	end := idx + n + 1
	if end > len(lines) {
		end = len(lines)
	}
	var sb strings.Builder
	for i := start; i < end; i++ {
		prefix := "  "
		if i == idx {
			prefix = "> "
		}
		fmt.Fprintf(&sb, "%s%d: %s\n", prefix, i+1, lines[i])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatGrepMatches(matches []grepMatch) string {
	if len(matches) == 0 {
		return "No matches found."
	}
	if len(matches) > grepMaxResults {
		matches = matches[:grepMaxResults]
	}
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "%s:%d\n%s\n", m.Path, m.Line, m.Context)
	}
	out := sb.String()
	if len(matches) >= grepMaxResults {
		out += "\n[results truncated at 200 matches]"
	}
	if len(out) > grepOutputCap {
		out = out[:grepOutputCap] + "\n[output truncated at 64KiB]"
	}
	return out
}
