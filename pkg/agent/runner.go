package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agusx1211/liteagent/internal/debug"
	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/session"
	"github.com/agusx1211/liteagent/pkg/workspace"
)

// Runner is the high-level convenience over one executor: it creates
// sessions, spawns, arms timeouts, waits, collects the normalized stream,
// and records the terminal result.
type Runner struct {
	executor   Executor
	sessions   *session.Manager
	workspaces *workspace.Manager

	wsMu    sync.Mutex
	wsPaths map[string]workspace.Path
}

// NewRunner wraps an executor with a fresh session manager and the process
// default workspace manager.
func NewRunner(executor Executor) *Runner {
	return &Runner{
		executor:   executor,
		sessions:   session.NewManager(),
		workspaces: workspace.Default(),
		wsPaths:    make(map[string]workspace.Path),
	}
}

// WithSessions shares a session manager across runners.
func (r *Runner) WithSessions(m *session.Manager) *Runner {
	r.sessions = m
	return r
}

// WithWorkspaces overrides the workspace manager.
func (r *Runner) WithWorkspaces(m *workspace.Manager) *Runner {
	r.workspaces = m
	return r
}

// Executor returns the wrapped executor.
func (r *Runner) Executor() Executor {
	return r.executor
}

// Sessions returns the runner's session manager.
func (r *Runner) Sessions() *session.Manager {
	return r.sessions
}

// RunResult is the terminal outcome of one execution.
type RunResult struct {
	SessionID   string
	ExecutionID string
	Exit        ExitResult
	Entries     []logs.Entry
	Output      string
	Success     bool
}

// Run spawns the agent with the initial input, waits for completion, and
// returns the collected result. A timeout in cfg is armed at spawn time;
// when it fires the agent is killed through the interrupt cascade and Run
// returns ErrTimeout alongside the partial result.
func (r *Runner) Run(ctx context.Context, input string, cfg Config) (*RunResult, error) {
	sess := r.sessions.Create(r.executor.AgentType())
	return r.runExecution(ctx, sess.ID, input, cfg, func(ctx context.Context, cfg Config) (*SpawnedAgent, error) {
		return r.executor.Spawn(ctx, cfg, input)
	})
}

// ContinueSession resumes an existing session with follow-up input. The new
// execution is appended to the session and shares its log store.
func (r *Runner) ContinueSession(ctx context.Context, sessionID, input string, cfg Config) (*RunResult, error) {
	sess, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.AgentType != r.executor.AgentType() {
		return nil, fmt.Errorf("session %s: agent type mismatch: session is %q, executor is %q",
			sessionID, sess.AgentType, r.executor.AgentType())
	}

	resumeID := sess.AgentSessionID
	if resumeID == "" {
		resumeID = sessionID
	}

	return r.runExecution(ctx, sessionID, input, cfg, func(ctx context.Context, cfg Config) (*SpawnedAgent, error) {
		return r.executor.SpawnFollowUp(ctx, cfg, input, resumeID)
	})
}

// StreamedRun is a live execution handed back by RunStreamed: the spawned
// agent plus a subscription that replays anything already buffered and then
// follows the stream until the store closes.
type StreamedRun struct {
	SessionID   string
	ExecutionID string
	Agent       *SpawnedAgent
	Events      <-chan logs.Entry
}

// RunStreamed spawns the agent and hands back a live handle. The execution
// record is completed in the background when the agent finishes; a timeout
// in cfg is armed exactly as in Run.
func (r *Runner) RunStreamed(ctx context.Context, input string, cfg Config) (*StreamedRun, error) {
	sess := r.sessions.Create(r.executor.AgentType())
	store, _ := r.sessions.LogStore(sess.ID)
	cfg.SessionID = sess.ID
	cfg.Store = store
	cfg.Workspaces = r.workspaces

	exec, err := r.sessions.AddExecution(sess.ID, input)
	if err != nil {
		return nil, err
	}

	spawned, err := r.executor.Spawn(ctx, cfg, input)
	if err != nil {
		r.failExecution(sess.ID, exec.ID, err)
		return nil, err
	}
	r.recordWorkspace(sess.ID, spawned.Workspace())

	sub := store.Subscribe()

	var timer *time.Timer
	if cfg.Timeout > 0 {
		timer = time.AfterFunc(cfg.Timeout, func() {
			debug.LogKV("runner", "timeout fired", "session", sess.ID, "timeout", cfg.Timeout)
			spawned.Kill(context.Background())
		})
	}

	go func() {
		res, waitErr := spawned.Wait(context.Background())
		if timer != nil {
			timer.Stop()
		}
		if waitErr != nil {
			return
		}
		r.completeExecution(sess.ID, exec.ID, res)
		r.sessions.SetAgentSessionID(sess.ID, spawned.AgentSessionID())
	}()

	return &StreamedRun{
		SessionID:   sess.ID,
		ExecutionID: exec.ID,
		Agent:       spawned,
		Events:      sub,
	}, nil
}

// CleanupSession tears down the session's workspace (exactly once) and
// removes the session from the registry.
func (r *Runner) CleanupSession(ctx context.Context, sessionID string) error {
	r.wsMu.Lock()
	path, ok := r.wsPaths[sessionID]
	delete(r.wsPaths, sessionID)
	r.wsMu.Unlock()

	if ok {
		if err := r.workspaces.Cleanup(ctx, path); err != nil {
			return err
		}
	}
	return r.sessions.Delete(sessionID)
}

type spawnFunc func(ctx context.Context, cfg Config) (*SpawnedAgent, error)

func (r *Runner) runExecution(ctx context.Context, sessionID, input string, cfg Config, spawn spawnFunc) (*RunResult, error) {
	store, ok := r.sessions.LogStore(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	cfg.SessionID = sessionID
	cfg.Store = store
	cfg.Workspaces = r.workspaces

	// Follow-ups onto a session that already owns an isolated workspace
	// reuse it instead of materializing a fresh one.
	r.wsMu.Lock()
	if prior, ok := r.wsPaths[sessionID]; ok && cfg.Workspace == nil && cfg.WorkDir == "" {
		cfg.WorkDir = prior.Dir
	}
	r.wsMu.Unlock()

	exec, err := r.sessions.AddExecution(sessionID, input)
	if err != nil {
		return nil, err
	}

	spawned, err := spawn(ctx, cfg)
	if err != nil {
		r.failExecution(sessionID, exec.ID, err)
		return nil, err
	}
	r.recordWorkspace(sessionID, spawned.Workspace())

	var timedOut atomic.Bool
	if cfg.Timeout > 0 {
		timer := time.AfterFunc(cfg.Timeout, func() {
			timedOut.Store(true)
			debug.LogKV("runner", "timeout fired", "session", sessionID, "timeout", cfg.Timeout)
			spawned.Kill(context.Background())
		})
		defer timer.Stop()
	}

	res, err := spawned.Wait(ctx)
	if err != nil {
		// Caller cancelled: reap the child before reporting.
		res, _ = spawned.Kill(context.Background())
	}

	r.completeExecution(sessionID, exec.ID, res)
	r.sessions.SetAgentSessionID(sessionID, spawned.AgentSessionID())

	entries := store.Entries()
	result := &RunResult{
		SessionID:   sessionID,
		ExecutionID: exec.ID,
		Exit:        res,
		Entries:     entries,
		Output:      collectOutput(entries),
		Success:     res.Success(),
	}

	if timedOut.Load() {
		return result, ErrTimeout
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) recordWorkspace(sessionID string, path workspace.Path) {
	if path.Kind == "" || path.Kind == workspace.PathDirect {
		return
	}
	r.wsMu.Lock()
	r.wsPaths[sessionID] = path
	r.wsMu.Unlock()
}

func (r *Runner) completeExecution(sessionID, executionID string, res ExitResult) {
	var status session.ExecutionStatus
	switch res.State {
	case ExitSuccess:
		status = session.ExecutionCompleted
	case ExitInterrupted:
		status = session.ExecutionCancelled
	default:
		status = session.ExecutionFailed
	}

	var codePtr *int
	if code, ok := res.ExitCode(); ok {
		codePtr = &code
	}
	if err := r.sessions.CompleteExecution(sessionID, executionID, status, codePtr); err != nil {
		debug.LogKV("runner", "complete execution failed", "session", sessionID, "error", err)
	}
}

func (r *Runner) failExecution(sessionID, executionID string, cause error) {
	if store, ok := r.sessions.LogStore(sessionID); ok {
		store.AddError(logs.ErrorKindOther, cause.Error(), r.executor.AgentType())
	}
	if err := r.sessions.CompleteExecution(sessionID, executionID, session.ExecutionFailed, nil); err != nil {
		debug.LogKV("runner", "fail execution bookkeeping failed", "session", sessionID, "error", err)
	}
}

func collectOutput(entries []logs.Entry) string {
	var parts []string
	for _, e := range entries {
		if e.Type == logs.EntryOutput && e.Content != "" {
			parts = append(parts, e.Content)
		}
	}
	return strings.Join(parts, "\n")
}
