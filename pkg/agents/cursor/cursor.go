// Package cursor binds the Cursor Agent CLI to the agent executor contract.
// The binding is one-shot: the prompt goes to stdin once, stdin closes, and
// the child streams until it exits. There is no control protocol; approvals
// are settled at spawn time by the --force flag.
package cursor

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/agusx1211/liteagent/internal/debug"
	"github.com/agusx1211/liteagent/internal/detect"
	"github.com/agusx1211/liteagent/internal/hexid"
	"github.com/agusx1211/liteagent/pkg/agent"
	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/workspace"
)

// AgentType is the binding's stable tag.
const AgentType = "cursor"

// binaryName is the canonical executable name.
const binaryName = "cursor-agent"

// Executor runs the Cursor Agent CLI.
type Executor struct{}

// New creates a Cursor executor.
func New() *Executor {
	return &Executor{}
}

// AgentType returns "cursor".
func (e *Executor) AgentType() string {
	return AgentType
}

// Capabilities declares session continuation and workspace isolation.
// Cursor has no bidirectional control channel.
func (e *Executor) Capabilities() []agent.Capability {
	return []agent.Capability{
		agent.CapSessionContinuation,
		agent.CapWorkspaceIsolation,
	}
}

// CheckAvailability resolves the CLI and reports whether it can run.
func (e *Executor) CheckAvailability(ctx context.Context) agent.AvailabilityStatus {
	if _, ok := detect.ResolveBinary(binaryName, ""); !ok {
		return agent.NotFound("cursor-agent not found on PATH")
	}
	return agent.Available()
}

// Spawn launches a new Cursor execution with the initial prompt.
func (e *Executor) Spawn(ctx context.Context, cfg agent.Config, input string) (*agent.SpawnedAgent, error) {
	return e.spawn(ctx, cfg, input, "")
}

// SpawnFollowUp resumes a prior session via --resume.
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

	exe, ok := detect.ResolveBinary(binaryName, opts.CustomPath)
	if !ok {
		return nil, &agent.NotAvailableError{
			AgentType: AgentType,
			Status:    agent.NotFound("cursor-agent not found on PATH"),
		}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = hexid.New()
	}

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

	args := buildArgs(opts, resume)
	debug.LogKV("agent.cursor", "building command",
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
	cmd.Env = debug.PropagatedEnv(cmd.Env, "cursor")

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
	store.Append(logs.NewEntry(logs.EntryInput, input, AgentType))

	spawned := agent.NewSpawnedAgent(AgentType, cmd, store).WithWorkspace(wsPath)

	norm := &normalizer{onSessionID: spawned.SetAgentSessionID}
	collector := logs.NewCollector(AgentType, store)
	collector.CollectLines(stdout, norm.parseLine)
	collector.CollectStderr(stderr)
	spawned.WithCollector(collector)

	// One-shot stdin: the prompt goes in once and the pipe closes.
	if err := writePrompt(stdin, input); err != nil {
		spawned.StartExitMonitor()
		spawned.Kill(context.Background())
		rollback()
		return nil, &agent.SpawnError{AgentType: AgentType, Detail: "write prompt", Err: err}
	}

	spawned.StartExitMonitor()
	return spawned, nil
}

func writePrompt(stdin io.WriteCloser, input string) error {
	defer stdin.Close()
	if input == "" {
		return nil
	}
	_, err := io.WriteString(stdin, input)
	return err
}

// buildArgs forms the CLI arguments for a spawn.
func buildArgs(opts Options, resume string) []string {
	args := []string{"-p", "--output-format=stream-json"}
	if opts.Force {
		args = append(args, "--force")
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if resume != "" {
		args = append(args, "--resume", resume)
	}
	return args
}
