// Package logs provides the unified event model and in-memory event store
// shared by all agent bindings. Every agent CLI's output is normalized into
// Entry values and appended to a Store, which fans them out live to any
// number of subscribers.
package logs

import (
	"encoding/json"
	"time"
)

// EntryType classifies a normalized entry.
type EntryType string

const (
	EntryInput    EntryType = "input"
	EntryOutput   EntryType = "output"
	EntryThinking EntryType = "thinking"
	EntryAction   EntryType = "action"
	EntrySystem   EntryType = "system"
	EntryError    EntryType = "error"
	EntryProgress EntryType = "progress"
)

// ErrorKind refines an EntryError entry.
type ErrorKind string

const (
	ErrorKindParse            ErrorKind = "parse"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindAuthentication   ErrorKind = "authentication"
	ErrorKindSetupRequired    ErrorKind = "setup_required"
	ErrorKindApproval         ErrorKind = "approval"
	ErrorKindProtocol         ErrorKind = "protocol"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindIo               ErrorKind = "io"
	ErrorKindOther            ErrorKind = "other"
)

// ActionStatus tracks the lifecycle of a tool action.
type ActionStatus string

const (
	ActionStarted    ActionStatus = "started"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionCancelled  ActionStatus = "cancelled"
)

// Action describes a tool invocation carried by an EntryAction entry.
type Action struct {
	Tool      string          `json:"tool"`
	Status    ActionStatus    `json:"status,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Progress carries a completion estimate for an EntryProgress entry.
type Progress struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Entry is the unified log record all agent bindings emit into.
// At most one of Action/ErrorKind/Progress is populated, matching Type;
// input, output, thinking and system entries carry none of them.
type Entry struct {
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Type      EntryType       `json:"type"`
	Content   string          `json:"content"`
	Action    *Action         `json:"action,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Progress  *Progress       `json:"progress,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	AgentType string          `json:"agent_type"`
}

// NewEntry builds an entry stamped with the current time.
func NewEntry(entryType EntryType, content, agentType string) Entry {
	return Entry{
		Timestamp: time.Now().UTC(),
		Type:      entryType,
		Content:   content,
		AgentType: agentType,
	}
}

// WithMetadata attaches raw agent-specific metadata to the entry.
func (e Entry) WithMetadata(metadata json.RawMessage) Entry {
	e.Metadata = metadata
	return e
}

// ErrorEntry builds an error entry with the given kind.
func ErrorEntry(kind ErrorKind, content, agentType string) Entry {
	e := NewEntry(EntryError, content, agentType)
	e.ErrorKind = kind
	return e
}

// ActionEntry builds an action entry for a tool invocation.
func ActionEntry(action Action, content, agentType string) Entry {
	e := NewEntry(EntryAction, content, agentType)
	e.Action = &action
	return e
}

// ProgressEntry builds a progress entry.
func ProgressEntry(percent float64, message, agentType string) Entry {
	e := NewEntry(EntryProgress, message, agentType)
	e.Progress = &Progress{Percent: percent, Message: message}
	return e
}
