package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/agusx1211/liteagent/pkg/agent"
	"github.com/agusx1211/liteagent/pkg/agents/claude"
	"github.com/agusx1211/liteagent/pkg/agents/cursor"
	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/protocol"
	"github.com/agusx1211/liteagent/pkg/workspace"
)

var runFlags struct {
	agentName    string
	configFile   string
	workDir      string
	env          []string
	timeout      time.Duration
	isolation    string
	repoPath     string
	branchPrefix string
	baseBranch   string
	model        string
	planMode     bool
	approvals    bool
	skipPerms    bool
	force        bool
	followUp     string
}

var runCmd = &cobra.Command{
	Use:   "run [flags] <prompt>",
	Short: "Run an agent with a prompt and stream its events",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAgent,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.agentName, "agent", "a", "claude", "agent binding: claude or cursor")
	f.StringVarP(&runFlags.configFile, "config", "c", "", "config file with run defaults (yaml/json/toml)")
	f.StringVarP(&runFlags.workDir, "dir", "d", "", "working directory (defaults to cwd)")
	f.StringArrayVarP(&runFlags.env, "env", "e", nil, "extra environment variables (KEY=VALUE)")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "wall-clock budget (0 = none)")
	f.StringVar(&runFlags.isolation, "workspace", "none", "isolation: none, worktree, or temp")
	f.StringVar(&runFlags.repoPath, "repo", "", "repository to fork a worktree from")
	f.StringVar(&runFlags.branchPrefix, "branch-prefix", "liteagent", "worktree branch prefix")
	f.StringVar(&runFlags.baseBranch, "base-branch", "", "branch the worktree forks from (default HEAD)")
	f.StringVar(&runFlags.model, "model", "", "model override")
	f.BoolVar(&runFlags.planMode, "plan", false, "claude: start in plan mode")
	f.BoolVar(&runFlags.approvals, "approvals", false, "claude: escalate mutating tools for approval")
	f.BoolVar(&runFlags.skipPerms, "dangerously-skip-permissions", false, "claude: forward the flag of the same name")
	f.BoolVar(&runFlags.force, "force", false, "cursor: auto-approve commands")
	f.StringVar(&runFlags.followUp, "follow-up", "", "second prompt resuming the session after the first completes")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := loadRunConfig(cmd); err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	executor, err := buildExecutor()
	if err != nil {
		return err
	}

	cfg, err := buildAgentConfig()
	if err != nil {
		return err
	}

	runner := agent.NewRunner(executor)
	ctx := cmd.Context()

	result, err := streamRun(ctx, runner, prompt, cfg)
	if err != nil {
		return err
	}

	if runFlags.followUp != "" {
		fmt.Println(colorDim + "--- follow-up ---" + colorReset)
		followCfg := cfg
		if cfg.Workspace != nil {
			followCfg.WorkDir = ""
			followCfg.Workspace = nil // reuse the first execution's workspace
		}
		result, err = streamContinue(ctx, runner, result.SessionID, runFlags.followUp, followCfg)
		if err != nil {
			return err
		}
	}

	printSummary(result)
	if !result.Success {
		return fmt.Errorf("agent finished with status %s", result.Exit.State)
	}
	return nil
}

// loadRunConfig overlays config-file defaults under any flags the user did
// not set explicitly.
func loadRunConfig(cmd *cobra.Command) error {
	if runFlags.configFile == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(runFlags.configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", runFlags.configFile, err)
	}

	set := func(flag string, apply func()) {
		if !cmd.Flags().Changed(flag) && v.IsSet(flag) {
			apply()
		}
	}
	set("agent", func() { runFlags.agentName = v.GetString("agent") })
	set("dir", func() { runFlags.workDir = v.GetString("dir") })
	set("timeout", func() { runFlags.timeout = v.GetDuration("timeout") })
	set("workspace", func() { runFlags.isolation = v.GetString("workspace") })
	set("repo", func() { runFlags.repoPath = v.GetString("repo") })
	set("branch-prefix", func() { runFlags.branchPrefix = v.GetString("branch-prefix") })
	set("base-branch", func() { runFlags.baseBranch = v.GetString("base-branch") })
	set("model", func() { runFlags.model = v.GetString("model") })
	set("plan", func() { runFlags.planMode = v.GetBool("plan") })
	set("approvals", func() { runFlags.approvals = v.GetBool("approvals") })
	set("force", func() { runFlags.force = v.GetBool("force") })
	return nil
}

func buildExecutor() (agent.Executor, error) {
	switch strings.ToLower(runFlags.agentName) {
	case claude.AgentType:
		return claude.New().WithApprovals(terminalApprovals{}), nil
	case cursor.AgentType:
		return cursor.New(), nil
	default:
		if e, ok := agent.Get(runFlags.agentName); ok {
			return e, nil
		}
		return nil, fmt.Errorf("unknown agent %q (supported: claude, cursor)", runFlags.agentName)
	}
}

func buildAgentConfig() (agent.Config, error) {
	workDir := runFlags.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return agent.Config{}, err
		}
		workDir = wd
	}

	env := make(map[string]string, len(runFlags.env))
	for _, kv := range runFlags.env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return agent.Config{}, fmt.Errorf("bad --env value %q (want KEY=VALUE)", kv)
		}
		env[key] = value
	}

	cfg := agent.Config{
		WorkDir: workDir,
		Env:     env,
		Timeout: runFlags.timeout,
	}

	switch runFlags.isolation {
	case "", "none":
	case "worktree":
		repo := runFlags.repoPath
		if repo == "" {
			repo = workDir
		}
		ws := workspace.GitWorktree(repo, runFlags.branchPrefix, runFlags.baseBranch)
		cfg.Workspace = &ws
	case "temp":
		ws := workspace.TempDir()
		cfg.Workspace = &ws
	default:
		return agent.Config{}, fmt.Errorf("unknown workspace isolation %q", runFlags.isolation)
	}

	opts, err := buildOptions()
	if err != nil {
		return agent.Config{}, err
	}
	cfg.Options = opts
	return cfg, nil
}

func buildOptions() (json.RawMessage, error) {
	switch strings.ToLower(runFlags.agentName) {
	case claude.AgentType:
		return json.Marshal(claude.Options{
			PlanMode:                   runFlags.planMode,
			Approvals:                  runFlags.approvals,
			Model:                      runFlags.model,
			DangerouslySkipPermissions: runFlags.skipPerms,
		})
	case cursor.AgentType:
		return json.Marshal(cursor.Options{
			Force: runFlags.force,
			Model: runFlags.model,
		})
	default:
		return nil, nil
	}
}

// streamRun starts an execution and prints its events live while waiting for
// the terminal result.
func streamRun(ctx context.Context, runner *agent.Runner, prompt string, cfg agent.Config) (*agent.RunResult, error) {
	sr, err := runner.RunStreamed(ctx, prompt, cfg)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.Go(func() error {
		for entry := range sr.Events {
			printEntry(entry)
		}
		return nil
	})

	exit, err := sr.Agent.Wait(ctx)
	if err != nil {
		sr.Agent.Kill(context.Background())
		g.Wait()
		return nil, err
	}
	g.Wait()

	entries := sr.Agent.Store().Entries()
	return &agent.RunResult{
		SessionID:   sr.SessionID,
		ExecutionID: sr.ExecutionID,
		Exit:        exit,
		Entries:     entries,
		Success:     exit.Success(),
	}, nil
}

// streamContinue resumes the session and prints only the entries the new
// execution appended to the shared store.
func streamContinue(ctx context.Context, runner *agent.Runner, sessionID, prompt string, cfg agent.Config) (*agent.RunResult, error) {
	offset := 0
	if store, ok := runner.Sessions().LogStore(sessionID); ok {
		offset = store.Len()
	}

	result, err := runner.ContinueSession(ctx, sessionID, prompt, cfg)
	if result != nil {
		if offset > len(result.Entries) {
			offset = len(result.Entries)
		}
		for _, entry := range result.Entries[offset:] {
			printEntry(entry)
		}
	}
	return result, err
}

func printEntry(entry logs.Entry) {
	tty := isatty.IsTerminal(os.Stdout.Fd())
	tag := func(color, label string) string {
		if !tty {
			return "[" + label + "]"
		}
		return color + "[" + label + "]" + colorReset
	}

	switch entry.Type {
	case logs.EntryInput:
		fmt.Println(tag(colorCyan, "input"), entry.Content)
	case logs.EntryOutput:
		fmt.Println(tag(colorGreen, "output"), entry.Content)
	case logs.EntryThinking:
		fmt.Println(tag(colorDim, "thinking"), entry.Content)
	case logs.EntryAction:
		name := ""
		if entry.Action != nil {
			name = entry.Action.Tool
		}
		fmt.Println(tag(colorYellow, "action"), name)
	case logs.EntryError:
		fmt.Println(tag(colorRed, "error"), string(entry.ErrorKind)+": "+entry.Content)
	case logs.EntryProgress:
		if entry.Progress != nil {
			fmt.Printf("%s %.0f%% %s\n", tag(colorDim, "progress"), entry.Progress.Percent, entry.Progress.Message)
		}
	default:
		fmt.Println(tag(colorDim, "system"), entry.Content)
	}
}

func printSummary(result *agent.RunResult) {
	fmt.Printf("%ssession%s %s  %sstatus%s %s", colorBold, colorReset, result.SessionID, colorBold, colorReset, result.Exit.State)
	if code, ok := result.Exit.ExitCode(); ok {
		fmt.Printf("  %sexit%s %d", colorBold, colorReset, code)
	}
	fmt.Println()
}

// terminalApprovals asks the user on the controlling terminal. Outside a
// TTY every escalation is denied: unattended runs must opt in via
// --dangerously-skip-permissions or --force instead.
type terminalApprovals struct{}

func (terminalApprovals) ApproveTool(ctx context.Context, req protocol.ApprovalRequest) (protocol.ApprovalDecision, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return protocol.Deny("no terminal available for approval", false), nil
	}

	fmt.Printf("%s[approval]%s allow tool %s%s%s? input: %s [y/N] ",
		colorYellow, colorReset, colorBold, req.ToolName, colorReset, truncate(string(req.Input), 200))

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		text, err := reader.ReadString('\n')
		ch <- answer{text: text, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return protocol.Deny("approval read failed", false), nil
		}
		if t := strings.ToLower(strings.TrimSpace(a.text)); t == "y" || t == "yes" {
			return protocol.Allow(req.Input), nil
		}
		return protocol.Deny("denied by user", false), nil
	case <-ctx.Done():
		return protocol.ApprovalDecision{}, ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
