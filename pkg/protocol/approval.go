package protocol

import (
	"context"
	"encoding/json"
)

// ApprovalRequest is a child-initiated can_use_tool escalation handed to the
// host's approval service.
type ApprovalRequest struct {
	ToolName              string
	Input                 json.RawMessage
	PermissionSuggestions []PermissionUpdate
	ToolUseID             string
}

// ApprovalDecision is the host's verdict on an ApprovalRequest.
//
// An allow decision carries the (possibly rewritten) tool input and optional
// permission updates to apply session-wide. A deny decision carries a
// human-readable reason and whether the child should also interrupt its
// current generation.
type ApprovalDecision struct {
	Behavior           Behavior
	UpdatedInput       json.RawMessage
	UpdatedPermissions []PermissionUpdate
	Message            string
	Interrupt          bool
}

// Allow builds an allow decision passing input through unchanged.
func Allow(input json.RawMessage) ApprovalDecision {
	return ApprovalDecision{Behavior: BehaviorAllow, UpdatedInput: input}
}

// AllowWithUpdates builds an allow decision that also mutates permissions.
func AllowWithUpdates(input json.RawMessage, updates ...PermissionUpdate) ApprovalDecision {
	return ApprovalDecision{Behavior: BehaviorAllow, UpdatedInput: input, UpdatedPermissions: updates}
}

// Deny builds a deny decision with a reason.
func Deny(message string, interrupt bool) ApprovalDecision {
	return ApprovalDecision{Behavior: BehaviorDeny, Message: message, Interrupt: interrupt}
}

// ApprovalService turns a tool-use escalation into an allow/deny decision.
// Implementations are host-supplied and may block on an end-user decision of
// unbounded latency; the peer never serializes concurrent calls, so services
// needing ordering must serialize themselves.
type ApprovalService interface {
	ApproveTool(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)
}

// ApprovalFunc adapts a function to the ApprovalService interface.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

func (f ApprovalFunc) ApproveTool(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	return f(ctx, req)
}

// AllowAll approves every request with its input unchanged.
func AllowAll() ApprovalService {
	return ApprovalFunc(func(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		return Allow(req.Input), nil
	})
}

// HookCallback is a child-initiated hook_callback escalation.
type HookCallback struct {
	CallbackID string
	Input      json.RawMessage
	ToolUseID  string
}

// HookHandler resolves hook callbacks from the child. The returned raw value
// becomes the response data.
type HookHandler interface {
	HandleHook(ctx context.Context, cb HookCallback) (json.RawMessage, error)
}

// HookFunc adapts a function to the HookHandler interface.
type HookFunc func(ctx context.Context, cb HookCallback) (json.RawMessage, error)

func (f HookFunc) HandleHook(ctx context.Context, cb HookCallback) (json.RawMessage, error) {
	return f(ctx, cb)
}
