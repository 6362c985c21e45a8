package claude

import (
	"encoding/json"
	"fmt"

	"github.com/agusx1211/liteagent/pkg/protocol"
)

// Options is the claude-specific slice of an AgentConfig's options blob.
type Options struct {
	// PlanMode starts the session in plan mode: the agent plans without
	// executing, and leaving the plan requires an approved ExitPlanMode.
	PlanMode bool `json:"plan_mode,omitempty"`

	// Approvals escalates every mutating tool use to the approval service.
	Approvals bool `json:"approvals,omitempty"`

	// Model overrides the CLI's default model.
	Model string `json:"model,omitempty"`

	// PermissionMode is the initial mode when neither PlanMode nor
	// Approvals is set. Empty means bypassPermissions.
	PermissionMode protocol.PermissionMode `json:"permission_mode,omitempty"`

	// DangerouslySkipPermissions forwards the CLI flag of the same name.
	DangerouslySkipPermissions bool `json:"dangerously_skip_permissions,omitempty"`

	// CustomPath overrides executable resolution.
	CustomPath string `json:"custom_path,omitempty"`
}

// DecodeOptions parses the opaque options blob. A nil blob yields defaults.
func DecodeOptions(raw json.RawMessage) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("claude options: %w", err)
	}
	return opts, nil
}

// EffectivePermissionMode resolves the initial permission mode.
func (o Options) EffectivePermissionMode() protocol.PermissionMode {
	switch {
	case o.PlanMode:
		return protocol.PermissionPlan
	case o.Approvals:
		return protocol.PermissionDefault
	case o.PermissionMode != "":
		return o.PermissionMode
	default:
		return protocol.PermissionBypass
	}
}

// Hooks returns the initial hook configuration for the effective mode.
// Bypass installs no hooks.
func (o Options) Hooks() protocol.HookConfig {
	switch {
	case o.PlanMode:
		return protocol.PlanModeHooks()
	case o.Approvals:
		return protocol.ApprovalHooks()
	default:
		return nil
	}
}
