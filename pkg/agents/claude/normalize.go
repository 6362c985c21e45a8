package claude

import (
	"encoding/json"
	"strings"

	"github.com/agusx1211/liteagent/pkg/logs"
)

// normalizer converts claude stream-json lines into normalized entries.
// Partial-message deltas are consumed but not emitted: the assistant event
// repeats their final text, and duplicating it would double every response
// in the store.
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

	switch ev.Type {
	case "system":
		if ev.Subtype == "init" {
			if ev.SessionID != "" && n.onSessionID != nil {
				n.onSessionID(ev.SessionID)
			}
			content := "session started"
			if ev.Model != "" {
				content += " (model " + ev.Model + ")"
			}
			return []logs.Entry{logs.NewEntry(logs.EntrySystem, content, AgentType).WithMetadata(rawCopy(line))}
		}
		return []logs.Entry{logs.NewEntry(logs.EntrySystem, ev.Subtype, AgentType).WithMetadata(rawCopy(line))}

	case "assistant":
		return n.messageEntries(ev.Message, line)

	case "user":
		return n.toolResultEntries(ev.Message)

	case "content_block_start", "content_block_delta", "content_block_stop", "message_start", "message_delta", "message_stop", "stream_event":
		// Partial-message traffic; the complete assistant event follows.
		return nil

	case "result":
		entry := logs.NewEntry(logs.EntryOutput, strings.TrimSpace(ev.ResultText), AgentType).WithMetadata(rawCopy(line))
		if ev.IsError {
			entry = logs.ErrorEntry(logs.ErrorKindOther, strings.TrimSpace(ev.ResultText), AgentType).WithMetadata(rawCopy(line))
		}
		return []logs.Entry{entry}

	default:
		return []logs.Entry{logs.NewEntry(logs.EntrySystem, ev.Type, AgentType).WithMetadata(rawCopy(line))}
	}
}

func (n *normalizer) messageEntries(msg *Message, line []byte) []logs.Entry {
	if msg == nil {
		return nil
	}
	var entries []logs.Entry
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) != "" {
				entries = append(entries, logs.NewEntry(logs.EntryOutput, block.Text, AgentType))
			}
		case "thinking":
			if strings.TrimSpace(block.Thinking) != "" {
				entries = append(entries, logs.NewEntry(logs.EntryThinking, block.Thinking, AgentType))
			}
		case "tool_use":
			entries = append(entries, logs.ActionEntry(logs.Action{
				Tool:      block.Name,
				Status:    logs.ActionStarted,
				Arguments: rawCopy(block.Input),
			}, block.Name, AgentType))
		}
	}
	if len(entries) == 0 {
		return []logs.Entry{logs.NewEntry(logs.EntrySystem, "assistant message", AgentType).WithMetadata(rawCopy(line))}
	}
	return entries
}

func (n *normalizer) toolResultEntries(msg *Message) []logs.Entry {
	if msg == nil {
		return nil
	}
	var entries []logs.Entry
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		status := logs.ActionCompleted
		if block.IsError {
			status = logs.ActionFailed
		}
		entries = append(entries, logs.ActionEntry(logs.Action{
			Tool:   block.Name,
			Status: status,
			Result: rawCopy(block.Content),
		}, contentText(block.Content), AgentType))
	}
	return entries
}

// contentText extracts a readable string from a tool_result content value,
// which may be a plain string or a content-block array.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []ContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func rawCopy(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), raw...))
}
