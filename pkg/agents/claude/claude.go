// Package claude binds Anthropic's Claude Code CLI to the agent executor
// contract. The binding is bidirectional: the child's stdio is hijacked by a
// protocol peer that injects permission decisions mid-execution.
package claude

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/agusx1211/liteagent/internal/debug"
	"github.com/agusx1211/liteagent/internal/detect"
	"github.com/agusx1211/liteagent/internal/hexid"
	"github.com/agusx1211/liteagent/pkg/agent"
	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/protocol"
	"github.com/agusx1211/liteagent/pkg/workspace"
)

// AgentType is the binding's stable tag.
const AgentType = "claude"

// npxPackage is the fetch-and-run fallback when no claude binary is on PATH.
const npxPackage = "@anthropic-ai/claude-code"

// Executor runs the Claude Code CLI.
type Executor struct {
	approvals protocol.ApprovalService
	hooks     protocol.HookHandler
}

// New creates a Claude executor. Without an approval service, escalated tool
// uses are denied.
func New() *Executor {
	return &Executor{}
}

// WithApprovals installs the host's approval service.
func (e *Executor) WithApprovals(svc protocol.ApprovalService) *Executor {
	e.approvals = svc
	return e
}

// WithHookHandler overrides the default hook registry.
func (e *Executor) WithHookHandler(h protocol.HookHandler) *Executor {
	e.hooks = h
	return e
}

// AgentType returns "claude".
func (e *Executor) AgentType() string {
	return AgentType
}

// Capabilities declares session continuation, bidirectional control, and
// workspace isolation.
func (e *Executor) Capabilities() []agent.Capability {
	return []agent.Capability{
		agent.CapSessionContinuation,
		agent.CapBidirectionalControl,
		agent.CapWorkspaceIsolation,
	}
}

// CheckAvailability resolves the CLI and reports whether it can run.
func (e *Executor) CheckAvailability(ctx context.Context) agent.AvailabilityStatus {
	if _, _, err := resolveCLI(Options{}); err != nil {
		return agent.NotFound("claude CLI not found: install it or ensure npx is available")
	}
	return agent.Available()
}

// Spawn launches a new Claude execution with the initial prompt.
func (e *Executor) Spawn(ctx context.Context, cfg agent.Config, input string) (*agent.SpawnedAgent, error) {
	return e.spawn(ctx, cfg, input, "")
}

// SpawnFollowUp resumes a prior session: the child forks the referenced
// conversation and receives the follow-up prompt as its first user turn.
func (e *Executor) SpawnFollowUp(ctx context.Context, cfg agent.Config, input, priorSessionID string) (*agent.SpawnedAgent, error) {
	if priorSessionID == "" {
		return nil, fmt.Errorf("%w: empty prior session id", agent.ErrSessionNotFound)
	}
	return e.spawn(ctx, cfg, input, priorSessionID)
}

// NormalizeLogs converts raw stream-json lines into normalized entries.
func (e *Executor) NormalizeLogs(lines <-chan []byte) <-chan logs.Entry {
	n := &normalizer{}
	return agent.NormalizeWith(lines, n.parseLine)
}

func (e *Executor) spawn(ctx context.Context, cfg agent.Config, input, resume string) (*agent.SpawnedAgent, error) {
	opts, err := DecodeOptions(cfg.Options)
	if err != nil {
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "bad options", Err: err}
	}

	exe, baseArgs, err := resolveCLI(opts)
	if err != nil {
		return nil, err
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = hexid.New()
	}

	// Resolve the workspace before touching the process; a workspace error
	// aborts the spawn with no residue.
	workDir := cfg.WorkDir
	var wsPath workspace.Path
	if cfg.Workspace != nil {
		wsPath, err = cfg.WorkspaceManager().Create(ctx, *cfg.Workspace, sessionID)
		if err != nil {
			return nil, err
		}
		workDir = wsPath.Dir
	}
	rollback := func() {
		if cfg.Workspace != nil {
			cfg.WorkspaceManager().Cleanup(context.Background(), wsPath)
		}
	}

	args := append(baseArgs, buildArgs(opts, resume)...)
	debug.LogKV("agent.claude", "building command",
		"binary", exe,
		"args", fmt.Sprint(args),
		"workdir", workDir,
		"session", sessionID,
		"resume", resume,
		"prompt_len", len(input),
	)

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = workDir
	agent.SetupProcessGroup(cmd)
	agent.SetupEnv(cmd, cfg.Env)
	cmd.Env = debug.PropagatedEnv(cmd.Env, "claude")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "start " + exe, Err: err}
	}

	store := cfg.StoreOrNew()
	collector := logs.NewCollector(AgentType, store)
	collector.CollectStderr(stderr)

	spawned := agent.NewSpawnedAgent(AgentType, cmd, store).
		WithCollector(collector).
		WithWorkspace(wsPath)

	approvals := e.approvals
	if opts.PlanMode {
		approvals = planModeApprovals{inner: approvals}
	}

	norm := &normalizer{onSessionID: spawned.SetAgentSessionID}
	peer := protocol.NewPeer(stdin, stdout, protocol.PeerConfig{
		AgentType: AgentType,
		Store:     store,
		Approvals: approvals,
		Hooks:     e.hooks,
		OnPassthrough: func(line []byte) {
			for _, entry := range norm.parseLine(line) {
				store.Append(entry)
			}
		},
		Cancel: spawned.InterruptChannel(),
	})
	spawned.WithPeer(peer)
	spawned.StartExitMonitor()

	// Wire up the control session: hooks, initial mode, then the prompt.
	if err := peer.Initialize(ctx, opts.Hooks()); err != nil {
		spawned.Kill(context.Background())
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "initialize", Err: err}
	}
	if err := peer.SetPermissionMode(ctx, opts.EffectivePermissionMode()); err != nil {
		spawned.Kill(context.Background())
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "set_permission_mode", Err: err}
	}
	store.Append(logs.NewEntry(logs.EntryInput, input, AgentType))
	if err := peer.SendUserMessage(input); err != nil {
		spawned.Kill(context.Background())
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "send prompt", Err: err}
	}

	return spawned, nil
}

// resolveCLI locates the claude executable: a custom path, then PATH and
// known install dirs, then npx fetch-and-run.
func resolveCLI(opts Options) (string, []string, error) {
	if path, ok := detect.ResolveBinary("claude", opts.CustomPath); ok {
		return path, nil, nil
	}
	if detect.HaveNpx() {
		return "npx", []string{"--yes", npxPackage}, nil
	}
	return "", nil, &agent.NotAvailableError{
		AgentType: AgentType,
		Status:    agent.NotFound("claude CLI not found on PATH and npx is unavailable"),
	}
}

// buildArgs forms the CLI arguments for a spawn.
func buildArgs(opts Options, resume string) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
		"--disallowedTools=AskUserQuestion",
	}

	// Plan/approval modes route permission prompts over stdio; the CLI-side
	// mode stays bypass so every decision funnels through the hooks.
	if opts.PlanMode || opts.Approvals {
		args = append(args,
			"--permission-prompt-tool=stdio",
			"--permission-mode="+string(protocol.PermissionBypass),
		)
	}

	if opts.DangerouslySkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if resume != "" {
		args = append(args, "--fork-session", "--resume", resume)
	}
	return args
}

// planModeApprovals enforces the plan-mode hinge: an approved ExitPlanMode
// must carry a permission update flipping the session into
// bypassPermissions, otherwise the child would stay in plan mode after the
// plan was accepted.
type planModeApprovals struct {
	inner protocol.ApprovalService
}

func (p planModeApprovals) ApproveTool(ctx context.Context, req protocol.ApprovalRequest) (protocol.ApprovalDecision, error) {
	if p.inner == nil {
		return protocol.Deny("no approval service configured", false), nil
	}
	decision, err := p.inner.ApproveTool(ctx, req)
	if err != nil {
		return protocol.ApprovalDecision{}, err
	}
	if decision.Behavior == protocol.BehaviorAllow && req.ToolName == "ExitPlanMode" && !hasSetMode(decision.UpdatedPermissions) {
		decision.UpdatedPermissions = append(decision.UpdatedPermissions,
			protocol.SetModeUpdate(protocol.PermissionBypass))
	}
	return decision, err
}

func hasSetMode(updates []protocol.PermissionUpdate) bool {
	for _, u := range updates {
		if u.Type == protocol.UpdateSetMode {
			return true
		}
	}
	return false
}
