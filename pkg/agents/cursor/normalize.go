package cursor

import (
	"encoding/json"
	"strings"

	"github.com/agusx1211/liteagent/pkg/logs"
)

// normalizer converts cursor-agent stream-json lines into normalized entries.
type normalizer struct {
	onSessionID func(id string)
}

// parseLine maps one raw line to zero or more entries. A line that fails to
// decode becomes a parse Error entry, never a failure.
func (n *normalizer) parseLine(line []byte) []logs.Entry {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return []logs.Entry{
			logs.ErrorEntry(logs.ErrorKindParse, string(line), AgentType).WithMetadata(rawCopy(line)),
		}
	}

	if ev.SessionID != "" && n.onSessionID != nil {
		n.onSessionID(ev.SessionID)
	}

	switch ev.Type {
	case "system":
		content := "session started"
		if ev.Model != "" {
			content += " (model " + ev.Model + ")"
		}
		return []logs.Entry{logs.NewEntry(logs.EntrySystem, content, AgentType).WithMetadata(rawCopy(line))}

	case "user":
		if text := ev.Message.TextContent(); text != "" {
			return []logs.Entry{logs.NewEntry(logs.EntryInput, text, AgentType)}
		}
		return nil

	case "assistant":
		if text := ev.Message.TextContent(); text != "" {
			return []logs.Entry{logs.NewEntry(logs.EntryOutput, text, AgentType)}
		}
		return nil

	case "thinking":
		if strings.TrimSpace(ev.Text) != "" {
			return []logs.Entry{logs.NewEntry(logs.EntryThinking, ev.Text, AgentType)}
		}
		return nil

	case "tool_call":
		status := logs.ActionStarted
		if ev.Subtype == "completed" {
			status = logs.ActionCompleted
		}
		return []logs.Entry{logs.ActionEntry(logs.Action{
			Tool:      toolName(ev.ToolCall),
			Status:    status,
			Arguments: rawCopy(ev.ToolCall),
		}, toolName(ev.ToolCall), AgentType)}

	case "result":
		content := resultText(ev.Result)
		if ev.IsError {
			return []logs.Entry{logs.ErrorEntry(logs.ErrorKindOther, content, AgentType).WithMetadata(rawCopy(line))}
		}
		return []logs.Entry{logs.NewEntry(logs.EntryOutput, content, AgentType).WithMetadata(rawCopy(line))}

	default:
		return []logs.Entry{logs.NewEntry(logs.EntrySystem, ev.Type, AgentType).WithMetadata(rawCopy(line))}
	}
}

// toolName extracts the single wrapper key cursor uses to tag a tool call
// (e.g. "shellToolCall", "editToolCall").
func toolName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown"
	}
	var wrapper map[string]json.RawMessage
	if json.Unmarshal(raw, &wrapper) != nil {
		return "unknown"
	}
	for key := range wrapper {
		return strings.TrimSuffix(key, "ToolCall")
	}
	return "unknown"
}

func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func rawCopy(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), raw...))
}
