// Package protocol implements the newline-delimited JSON control dialect
// spoken over a child agent's stdio. It provides the message envelope, the
// permission model, and a bidirectional Peer that routes child-initiated
// control requests to a host-supplied approval service.
package protocol

import (
	"encoding/json"
)

// Message types recognized on the wire. Anything else is passed through to
// the binding's normalization stage untouched.
const (
	TypeControlRequest  = "control_request"
	TypeControlResponse = "control_response"
	TypeResult          = "result"
	TypeUser            = "user"
)

// Control request subtypes.
const (
	SubtypeInitialize        = "initialize"
	SubtypeSetPermissionMode = "set_permission_mode"
	SubtypeInterrupt         = "interrupt"
	SubtypeCanUseTool        = "can_use_tool"
	SubtypeHookCallback      = "hook_callback"
)

// PermissionMode governs which tool uses are auto-approved vs. escalated.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionPlan        PermissionMode = "plan"
	PermissionBypass      PermissionMode = "bypassPermissions"
)

// Behavior is the outcome of a tool approval decision.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
)

// Permission update operations and destinations.
const (
	UpdateSetMode = "setMode"

	DestinationSession = "session"
)

// PermissionUpdate mutates the child's permission state as part of an allow
// outcome (e.g. flipping the session into bypassPermissions after an
// approved ExitPlanMode).
type PermissionUpdate struct {
	Type        string         `json:"type"`
	Mode        PermissionMode `json:"mode,omitempty"`
	Destination string         `json:"destination,omitempty"`
}

// SetModeUpdate builds the session-wide mode transition update.
func SetModeUpdate(mode PermissionMode) PermissionUpdate {
	return PermissionUpdate{Type: UpdateSetMode, Mode: mode, Destination: DestinationSession}
}

// Envelope is the single wire frame for every line in both directions.
// One JSON object per line; unused fields are omitted. The Type field
// discriminates; control messages carry a Subtype.
type Envelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Library-initiated control request payloads.
	Hooks  HookConfig      `json:"hooks,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
	Mode   PermissionMode  `json:"mode,omitempty"`
	Reason string          `json:"reason,omitempty"`

	// Child-initiated control request payloads.
	ToolName              string             `json:"tool_name,omitempty"`
	Input                 json.RawMessage    `json:"input,omitempty"`
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`
	ToolUseID             string             `json:"tool_use_id,omitempty"`
	CallbackID            string             `json:"callback_id,omitempty"`

	// Control response payload.
	Response *Response `json:"response,omitempty"`

	// User turn payload.
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Response is the payload of a control_response frame, in either direction.
// For acknowledgements only Subtype (and possibly Error) is set; for tool
// approvals the behavior fields carry the decision.
type Response struct {
	Subtype string `json:"subtype,omitempty"` // "success" | "error"
	Error   string `json:"error,omitempty"`

	Behavior           Behavior           `json:"behavior,omitempty"`
	UpdatedInput       json.RawMessage    `json:"updatedInput,omitempty"`
	UpdatedPermissions []PermissionUpdate `json:"updatedPermissions,omitempty"`
	Message            string             `json:"message,omitempty"`
	Interrupt          bool               `json:"interrupt,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// IsError reports whether the response is an error acknowledgement.
func (r *Response) IsError() bool {
	return r != nil && (r.Subtype == "error" || r.Error != "")
}

// UserMessage builds a user-turn frame.
func UserMessage(content string) Envelope {
	return Envelope{Type: TypeUser, Role: "user", Content: content}
}

// EncodeLine marshals an envelope into a newline-terminated JSON line.
func EncodeLine(env Envelope) ([]byte, error) {
	line, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Kind: ErrSerialization, Err: err}
	}
	return append(line, '\n'), nil
}

// DecodeLine parses one JSON line into an envelope.
func DecodeLine(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, &Error{Kind: ErrSerialization, Err: err}
	}
	return env, nil
}
