package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

// MemoryTool backs {get,set,list,delete} by a flat JSON map file named
// after the agent ({workspace}/.memory-{agent}.json), written atomically
// via temp-then-rename. get/list additionally merge a read-only
// knowledge-graph JSONL file of {name, entityType, observations}
// entities.
type MemoryTool struct{}

func NewMemoryTool() *MemoryTool { return &MemoryTool{} }

type memoryArgs struct {
	Action string `json:"action"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
}

// kgEntity is one line of the knowledge-graph JSONL file.
type kgEntity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

func (t *MemoryTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "memory",
		Description: "Read or write the agent's persistent key/value memory. get/list also search a read-only knowledge-graph file and merge results.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"set", "get", "list", "delete"}},
				"key":    map[string]any{"type": "string"},
				"value":  map[string]any{"type": "string"},
			},
			"required":             []string{"action"},
			"additionalProperties": false,
		},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a memoryArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}

	tc := toolctx.From(ctx)
	workspaceDir := "."
	agent := "default"
	if tc != nil {
		if tc.WorkspaceDir != "" {
			workspaceDir = tc.WorkspaceDir
		}
		if tc.AgentName != "" {
			agent = tc.AgentName
		}
	}
	memPath := filepath.Join(workspaceDir, fmt.Sprintf(".memory-%s.json", agent))

	switch a.Action {
	case "set":
		if a.Key == "" {
			return llm.ErrorOutput(toolErr(ErrMissingField, "key is required for set")), nil
		}
		store, err := loadMemoryFile(memPath)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		store[a.Key] = a.Value
		if err := saveMemoryFile(memPath, store); err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		return llm.TextOutput(fmt.Sprintf("Set %s", a.Key)), nil

	case "delete":
		if a.Key == "" {
			return llm.ErrorOutput(toolErr(ErrMissingField, "key is required for delete")), nil
		}
		store, err := loadMemoryFile(memPath)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		if _, ok := store[a.Key]; !ok {
			return llm.TextOutput(fmt.Sprintf("No such key: %s", a.Key)), nil
		}
		delete(store, a.Key)
		if err := saveMemoryFile(memPath, store); err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		return llm.TextOutput(fmt.Sprintf("Deleted %s", a.Key)), nil

	case "get":
		if a.Key == "" {
			return llm.ErrorOutput(toolErr(ErrMissingField, "key is required for get")), nil
		}
		store, err := loadMemoryFile(memPath)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		var parts []string
		if v, ok := store[a.Key]; ok {
			parts = append(parts, v)
		}
		if ent, ok := lookupKGEntity(knowledgeGraphPath(), a.Key); ok {
			parts = append(parts, fmt.Sprintf("[%s] %s", ent.EntityType, strings.Join(ent.Observations, "; ")))
		}
		if len(parts) == 0 {
			return llm.TextOutput(fmt.Sprintf("No value for %s", a.Key)), nil
		}
		return llm.TextOutput(strings.Join(parts, "\n")), nil

	case "list":
		store, err := loadMemoryFile(memPath)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		keys := make([]string, 0, len(store))
		for k := range store {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entities := loadKGEntities(knowledgeGraphPath())
		var sb strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s = %s\n", k, store[k])
		}
		for _, e := range entities {
			fmt.Fprintf(&sb, "%s [%s] = %s\n", e.Name, e.EntityType, strings.Join(e.Observations, "; "))
		}
		out := strings.TrimSuffix(sb.String(), "\n")
		if out == "" {
			out = "(empty)"
		}
		return llm.TextOutput(out), nil

	default:
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "unknown action %q", a.Action)), nil
	}
}

func knowledgeGraphPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentrun", "knowledge-graph.jsonl")
}

func loadMemoryFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	store := map[string]string{}
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, err
	}
	return store, nil
}

func saveMemoryFile(path string, store map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadKGEntities(path string) []kgEntity {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entities []kgEntity
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e kgEntity
		if json.Unmarshal([]byte(line), &e) == nil {
			entities = append(entities, e)
		}
	}
	return entities
}

// lookupKGEntity ranks entity names against name with the fuzzy package
// and returns the best-scoring match, so a get for "sam" still finds an
// entity named "samsaffron" rather than requiring exact equality.
func lookupKGEntity(path, name string) (kgEntity, bool) {
	entities := loadKGEntities(path)
	if len(entities) == 0 {
		return kgEntity{}, false
	}
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return kgEntity{}, false
	}
	return entities[matches[0].Index], true
}
