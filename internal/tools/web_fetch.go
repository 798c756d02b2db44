package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/samsaffron/agentrun/internal/llm"
)

const webFetchCap = 128 * 1024

// WebFetchTool fetches an HTTP(S) URL directly and optionally strips
// HTML to text in-process, with no remote reader service in the path.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

type webFetchArgs struct {
	URL string `json:"url"`
	Raw bool   `json:"raw,omitempty"`
}

func (t *WebFetchTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch an HTTP(S) URL. Body is truncated at 128KiB. By default, HTML is stripped to plain text; set raw=true to get the unmodified body.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "http:// or https:// URL to fetch"},
				"raw": map[string]any{"type": "boolean", "description": "Return the unmodified response body instead of stripping HTML"},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a webFetchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.URL == "" {
		return llm.ErrorOutput(toolErr(ErrMissingField, "url is required")), nil
	}
	if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return llm.ErrorOutput(toolErr(ErrBadScheme, "url must start with http:// or https://")), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	req.Header.Set("User-Agent", "agentrun/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return llm.ErrorOutput(toolErr(ErrTimeout, "request timed out")), nil
		}
		return llm.ErrorOutput(toolErr(ErrHTTPError, "%v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.ErrorOutput(toolErr(ErrHTTPError, "HTTP %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchCap+1))
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrHTTPError, "reading body: %v", err)), nil
	}
	truncated := len(body) > webFetchCap
	if truncated {
		body = body[:webFetchCap]
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if !a.Raw && strings.Contains(contentType, "html") {
		content = stripHTML(content)
	}
	if truncated {
		content += "\n[body truncated at 128KiB]"
	}
	return llm.TextOutput(content), nil
}

var (
	htmlScriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlBlankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML does a best-effort removal of script/style blocks and tags,
// then decodes a fixed small set of entities. Nested script-inside-style
// or malformed markup is not specially handled.
func stripHTML(s string) string {
	s = htmlScriptStyleRe.ReplaceAllString(s, "")
	s = htmlTagRe.ReplaceAllString(s, "\n")
	s = decodeHTMLEntities(s)
	s = htmlBlankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func decodeHTMLEntities(s string) string {
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&apos;", "'",
		"&nbsp;", " ",
	)
	return replacer.Replace(s)
}
