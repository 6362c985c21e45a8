package protocol

// Hook callback ids carried in PreToolUse matchers. The child echoes the id
// back in its hook_callback control request, which is how the peer tells a
// real approval escalation apart from the auto-approve fast path.
const (
	CallbackToolApproval = "tool_approval"
	CallbackAutoApprove  = "auto_approve"
)

// PreToolUse is the hook event name the bindings register matchers under.
const PreToolUse = "PreToolUse"

// HookMatcher attaches callback ids to tool names matching a regular
// expression, evaluated by the child before each tool execution.
type HookMatcher struct {
	Matcher         string   `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
}

// HookConfig maps a hook event to its matchers.
type HookConfig map[string][]HookMatcher

// ReadOnlyTools never require approval: they cannot mutate the workspace.
var ReadOnlyTools = []string{"Glob", "Grep", "NotebookRead", "Read", "Task", "TodoWrite"}

// PlanModeHooks escalates exactly ExitPlanMode to the approval service and
// auto-approves everything else. Plan mode relies on the child's own
// read-only planning discipline; the single gate is leaving the plan.
func PlanModeHooks() HookConfig {
	return HookConfig{
		PreToolUse: {
			{Matcher: "^ExitPlanMode$", HookCallbackIDs: []string{CallbackToolApproval}},
			{Matcher: "^(?!ExitPlanMode$).*", HookCallbackIDs: []string{CallbackAutoApprove}},
		},
	}
}

// ApprovalHooks escalates every tool except the read-only set.
func ApprovalHooks() HookConfig {
	matcher := "^(?!("
	for i, tool := range ReadOnlyTools {
		if i > 0 {
			matcher += "|"
		}
		matcher += tool
	}
	matcher += ")$).*"
	return HookConfig{
		PreToolUse: {
			{Matcher: matcher, HookCallbackIDs: []string{CallbackToolApproval}},
		},
	}
}
