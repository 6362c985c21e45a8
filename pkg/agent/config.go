package agent

import (
	"encoding/json"
	"time"

	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/workspace"
)

// Config is the per-execution input handed to an executor's Spawn.
type Config struct {
	// SessionID keys the workspace and tags debug output. The runner fills
	// it in; executors generate a throwaway id when empty.
	SessionID string `json:"session_id,omitempty"`

	// WorkDir is the working directory when no workspace isolation applies.
	WorkDir string `json:"work_dir"`

	// Env is overlaid onto the inherited process environment.
	Env map[string]string `json:"env,omitempty"`

	// Workspace, when set, makes the executor resolve an isolated execution
	// directory through the workspace manager before launching the child.
	Workspace *workspace.Config `json:"workspace,omitempty"`

	// Timeout is the wall-clock budget for the execution. Zero means none.
	// The runner arms it at spawn time and kills the agent when it fires;
	// the interrupt cascade always runs to completion, even past the budget.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Options is the agent-specific configuration blob. The core treats it
	// as opaque; each binding decodes its own shape.
	Options json.RawMessage `json:"options,omitempty"`

	// Store, when set, receives the execution's events. This is how a
	// session's store is shared across executions; bindings create a fresh
	// store when nil.
	Store *logs.Store `json:"-"`

	// Workspaces overrides the workspace manager used to resolve the
	// Workspace config. Nil uses the process-wide default manager.
	Workspaces *workspace.Manager `json:"-"`
}

// StoreOrNew returns the configured store, creating one when unset.
func (c *Config) StoreOrNew() *logs.Store {
	if c.Store != nil {
		return c.Store
	}
	return logs.NewStore()
}

// WorkspaceManager returns the configured manager or the process default.
func (c *Config) WorkspaceManager() *workspace.Manager {
	if c.Workspaces != nil {
		return c.Workspaces
	}
	return workspace.Default()
}
