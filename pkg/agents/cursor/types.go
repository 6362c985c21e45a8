package cursor

import "encoding/json"

// Event is the top-level structure for a cursor-agent stream-json line.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// For system events
	SessionID      string `json:"session_id,omitempty"`
	Model          string `json:"model,omitempty"`
	CWD            string `json:"cwd,omitempty"`
	PermissionMode string `json:"permissionMode,omitempty"`

	// For user/assistant events
	Message *Message `json:"message,omitempty"`

	// For thinking events
	Text string `json:"text,omitempty"`

	// For tool_call events (subtype "started" | "completed")
	CallID   string          `json:"call_id,omitempty"`
	ToolCall json.RawMessage `json:"tool_call,omitempty"`

	// For result events
	IsError    bool            `json:"is_error,omitempty"`
	DurationMS float64         `json:"duration_ms,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Message is the chat payload inside user/assistant events. Content arrives
// either as a plain string or as an array of content items, depending on the
// CLI version.
type Message struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ContentItem is one element of an array-shaped message content.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent flattens the message content to plain text, accepting both shapes.
func (m *Message) TextContent() string {
	if m == nil || len(m.Content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return s
	}
	var items []ContentItem
	if json.Unmarshal(m.Content, &items) == nil {
		out := ""
		for _, item := range items {
			out += item.Text
		}
		return out
	}
	return ""
}
