package debuglog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatOptions controls how session output is formatted.
type FormatOptions struct {
	ShowTools     bool // Highlight tool calls/results
	RequestsOnly  bool // Only show requests, not streaming events
	NoColor       bool // Disable colors
	ShowTimestamp bool // Show timestamp for each entry
}

// FormatSessionList formats a list of sessions as a table.
func FormatSessionList(w io.Writer, sessions []SessionSummary, days int) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No debug sessions found.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Enable debug logging by setting a debug log directory (AGENTRUN_DEBUG_LOG_DIR for agentrund).")
		return
	}

	fmt.Fprintf(w, "Debug Sessions (last %d days)\n\n", days)

	var totPrompt, totCompletion int
	for i, s := range sessions {
		num := i + 1

		providerModel := s.Provider
		if s.Model != "" {
			providerModel = fmt.Sprintf("%s / %s", s.Provider, s.Model)
		}
		if len(providerModel) > 40 {
			providerModel = providerModel[:37] + "..."
		}

		totPrompt += s.Prompt
		totCompletion += s.Completion

		errMark := " "
		if s.HasErrors {
			errMark = "!"
		}

		tokenStr := formatTokens(s.Prompt, s.Completion)

		timeStr := s.StartTime.Local().Format("Jan 02 15:04")
		fmt.Fprintf(w, "%s%2d. %s  %-40s  %s\n", errMark, num, timeStr, providerModel, tokenStr)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d sessions  %s\n", len(sessions), formatTokens(totPrompt, totCompletion))
}

// formatTokens formats prompt/completion token counts compactly.
func formatTokens(prompt, completion int) string {
	if prompt == 0 && completion == 0 {
		return "0 tokens"
	}
	return fmt.Sprintf("%s→%s", compactNum(prompt), compactNum(completion))
}

// compactNum formats a number in a compact way (1.2K, 1.5M, etc.)
func compactNum(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 10000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000 {
		return fmt.Sprintf("%dK", n/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatSession formats a full session for display.
func FormatSession(w io.Writer, session *Session, opts FormatOptions) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Session: %s\n", session.ID)

	fmt.Fprintf(w, "Provider: %s/%s\n", session.Provider, session.Model)
	fmt.Fprintf(w, "Started: %s\n", session.StartTime.Local().Format("2006-01-02 15:04:05"))
	if !session.EndTime.IsZero() && session.EndTime.After(session.StartTime) {
		duration := session.EndTime.Sub(session.StartTime).Round(time.Millisecond)
		fmt.Fprintf(w, "Duration: %s\n", duration)
	}
	fmt.Fprintf(w, "Rounds: %d\n", session.Turns)
	fmt.Fprintf(w, "Tokens: prompt=%s completion=%s total=%s\n",
		formatNumber(session.TotalUsage.Prompt),
		formatNumber(session.TotalUsage.Completion),
		formatNumber(session.TotalUsage.Total),
	)
	if session.HasErrors {
		fmt.Fprintln(w, "Has errors")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 78))
	fmt.Fprintln(w)

	for _, entry := range session.Entries {
		switch e := entry.(type) {
		case RequestEntry:
			formatRequestEntry(w, e, opts)
		case EventEntry:
			if !opts.RequestsOnly {
				formatEventEntry(w, e, opts)
			}
		}
	}
}

// formatRequestEntry formats a single round's request entry.
func formatRequestEntry(w io.Writer, req RequestEntry, opts FormatOptions) {
	ts := ""
	if opts.ShowTimestamp {
		ts = req.Timestamp.Local().Format("15:04:05") + " "
	}

	fmt.Fprintf(w, "%sREQUEST %s/%s\n", ts, req.Provider, req.Model)

	msgCount := len(req.Request.Messages)
	toolCount := len(req.Request.Tools)
	if toolCount == 0 {
		fmt.Fprintf(w, "         Messages: %d, Tools: none\n", msgCount)
	} else {
		var toolNames []string
		for _, t := range req.Request.Tools {
			toolNames = append(toolNames, t.Name)
		}
		toolsStr := strings.Join(toolNames, ", ")
		if len(toolsStr) > 80 {
			toolsStr = toolsStr[:77] + "..."
		}
		fmt.Fprintf(w, "         Messages: %d, Tools: %s\n", msgCount, toolsStr)
	}

	for _, msg := range req.Request.Messages {
		if msg.Role == "system" {
			if msg.Content != "" {
				text := msg.Content
				if len(text) > 500 {
					text = text[:497] + "..."
				}
				text = strings.ReplaceAll(text, "\n", " ")
				fmt.Fprintf(w, "         System: %s\n", text)
			}
			break
		}
	}

	for i := msgCount - 1; i >= 0; i-- {
		msg := req.Request.Messages[i]
		if msg.Role == "user" && msg.Content != "" {
			text := msg.Content
			if len(text) > 200 {
				text = text[:197] + "..."
			}
			text = strings.ReplaceAll(text, "\n", " ")
			fmt.Fprintf(w, "         User: %s\n", text)
			break
		}
	}

	if opts.ShowTools {
		for _, msg := range req.Request.Messages {
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(w, "         ToolCall: %s [%s]\n", tc.Name, tc.ID)
			}
		}
	}
	fmt.Fprintln(w)
}

// formatEventEntry formats a single logged event: the vocabulary
// internal/engine actually emits (tool_result, tool_blocked, usage,
// error). Nothing here replays text deltas or phase/retry bookkeeping.
func formatEventEntry(w io.Writer, evt EventEntry, opts FormatOptions) {
	ts := ""
	if opts.ShowTimestamp {
		ts = evt.Timestamp.Local().Format("15:04:05") + " "
	}

	switch evt.EventType {
	case "tool_result":
		name, _ := evt.Data["name"].(string)
		callID, _ := evt.Data["call_id"].(string)
		isError, _ := evt.Data["is_error"].(bool)
		status := "ok"
		if isError {
			status = "error"
		}
		fmt.Fprintf(w, "%sTOOL_RESULT %s [%s] (%s)\n", ts, name, callID, status)

	case "tool_blocked":
		name, _ := evt.Data["name"].(string)
		detector, _ := evt.Data["detector"].(string)
		fmt.Fprintf(w, "%sTOOL_BLOCKED %s (%s)\n", ts, name, detector)

	case "usage":
		prompt, _ := evt.Data["prompt_tokens"].(float64)
		completion, _ := evt.Data["completion_tokens"].(float64)
		total, _ := evt.Data["total_tokens"].(float64)
		fmt.Fprintf(w, "%sUSAGE prompt=%d completion=%d total=%d\n", ts, int(prompt), int(completion), int(total))

	case "error":
		errMsg, _ := evt.Data["error"].(string)
		fmt.Fprintf(w, "%sERROR %s\n", ts, errMsg)

	default:
		if opts.ShowTools {
			data, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "%s%s %s\n", ts, evt.EventType, string(data))
		}
	}
}

// FormatTailEntry formats a single entry for tail mode (compact).
func FormatTailEntry(w io.Writer, line []byte) {
	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return
	}

	timeStr := ts.Local().Format("15:04:05")

	switch entry.Type {
	case "request":
		fmt.Fprintf(w, "[%s] REQUEST %s/%s\n", timeStr, entry.Provider, entry.Model)

		var req RequestData
		if entry.Request != nil {
			json.Unmarshal(entry.Request, &req)
			if len(req.Tools) == 0 {
				fmt.Fprintf(w, "           Messages: %d, Tools: none\n", len(req.Messages))
			} else {
				var toolNames []string
				for _, t := range req.Tools {
					toolNames = append(toolNames, t.Name)
				}
				toolsStr := strings.Join(toolNames, ", ")
				if len(toolsStr) > 60 {
					toolsStr = toolsStr[:57] + "..."
				}
				fmt.Fprintf(w, "           Messages: %d, Tools: %s\n", len(req.Messages), toolsStr)
			}
		}

	case "event":
		var data map[string]any
		if entry.Data != nil {
			json.Unmarshal(entry.Data, &data)
		}

		switch entry.EventType {
		case "tool_result":
			name, _ := data["name"].(string)
			isError, _ := data["is_error"].(bool)
			status := "ok"
			if isError {
				status = "error"
			}
			fmt.Fprintf(w, "[%s] TOOL_RESULT %s (%s)\n", timeStr, name, status)

		case "tool_blocked":
			name, _ := data["name"].(string)
			fmt.Fprintf(w, "[%s] TOOL_BLOCKED %s\n", timeStr, name)

		case "usage":
			prompt, _ := data["prompt_tokens"].(float64)
			completion, _ := data["completion_tokens"].(float64)
			fmt.Fprintf(w, "[%s] USAGE prompt=%d completion=%d\n", timeStr, int(prompt), int(completion))

		case "error":
			errMsg, _ := data["error"].(string)
			fmt.Fprintf(w, "[%s] ERROR %s\n", timeStr, errMsg)
		}
	}
}

// formatNumber formats a number with comma separators.
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	s := fmt.Sprintf("%d", n)
	result := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
