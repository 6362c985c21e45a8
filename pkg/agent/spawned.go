package agent

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agusx1211/liteagent/internal/debug"
	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/protocol"
	"github.com/agusx1211/liteagent/pkg/workspace"
)

// interruptGrace is the pause between stages of the interrupt cascade.
const interruptGrace = 2 * time.Second

// ExitState classifies how an execution ended.
type ExitState string

const (
	ExitSuccess     ExitState = "success"
	ExitFailure     ExitState = "failure"
	ExitInterrupted ExitState = "interrupted"
)

// ExitResult is the terminal classification of a spawned agent.
// Success means exit code 0 with no interrupt; Failure carries the non-zero
// code; Interrupted covers every path that went through the cascade.
type ExitResult struct {
	State ExitState
	Code  int
}

// ExitCode returns the process exit code. The second return is false for
// interrupted executions, which have no meaningful code.
func (r ExitResult) ExitCode() (int, bool) {
	switch r.State {
	case ExitSuccess:
		return 0, true
	case ExitFailure:
		return r.Code, true
	default:
		return 0, false
	}
}

// Success reports whether the execution completed cleanly.
func (r ExitResult) Success() bool {
	return r.State == ExitSuccess
}

// SpawnedAgent is the handle for one running child process. It exclusively
// owns the reap handle and stdio, exposes the session's log store, and
// supervises the interrupt cascade.
//
// After Wait or Kill resolves, the child is reaped, the read tasks have
// observed end-of-stream, and stdio must not be touched again.
type SpawnedAgent struct {
	agentType string
	cmd       *exec.Cmd
	store     *logs.Store
	wsPath    workspace.Path

	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	peer      *protocol.Peer
	collector *logs.Collector

	agentSessionID atomic.Value // string

	interruptOnce sync.Once
	interruptCh   chan struct{}
	interrupted   atomic.Bool

	exitOnce sync.Once
	exited   chan struct{}
	exit     ExitResult
}

// NewSpawnedAgent wraps an already-started command and its store.
func NewSpawnedAgent(agentType string, cmd *exec.Cmd, store *logs.Store) *SpawnedAgent {
	return &SpawnedAgent{
		agentType:   agentType,
		cmd:         cmd,
		store:       store,
		interruptCh: make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

// WithStdin attaches the child's stdin handle.
func (s *SpawnedAgent) WithStdin(stdin io.WriteCloser) *SpawnedAgent {
	s.stdin = stdin
	return s
}

// WithStdout attaches the child's stdout handle.
func (s *SpawnedAgent) WithStdout(stdout io.ReadCloser) *SpawnedAgent {
	s.stdout = stdout
	return s
}

// WithStderr attaches the child's stderr handle.
func (s *SpawnedAgent) WithStderr(stderr io.ReadCloser) *SpawnedAgent {
	s.stderr = stderr
	return s
}

// WithPeer attaches the binding's protocol peer.
func (s *SpawnedAgent) WithPeer(peer *protocol.Peer) *SpawnedAgent {
	s.peer = peer
	return s
}

// WithCollector attaches the binding's stdio collector.
func (s *SpawnedAgent) WithCollector(collector *logs.Collector) *SpawnedAgent {
	s.collector = collector
	return s
}

// WithWorkspace records the workspace the child executes in.
func (s *SpawnedAgent) WithWorkspace(path workspace.Path) *SpawnedAgent {
	s.wsPath = path
	return s
}

// AgentType returns the binding's tag.
func (s *SpawnedAgent) AgentType() string {
	return s.agentType
}

// Store returns the execution's log store. The store outlives the agent;
// it is closed for writes once the child is reaped and the readers drained.
func (s *SpawnedAgent) Store() *logs.Store {
	return s.store
}

// Workspace returns the workspace the child executes in.
func (s *SpawnedAgent) Workspace() workspace.Path {
	return s.wsPath
}

// Peer returns the protocol peer, or nil for one-shot bindings.
func (s *SpawnedAgent) Peer() *protocol.Peer {
	return s.peer
}

// TakeStdin hands over the child's stdin. Each stdio handle can be taken at
// most once; subsequent calls return false.
func (s *SpawnedAgent) TakeStdin() (io.WriteCloser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.stdin
	s.stdin = nil
	return w, w != nil
}

// TakeStdout hands over the child's stdout, at most once.
func (s *SpawnedAgent) TakeStdout() (io.ReadCloser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.stdout
	s.stdout = nil
	return r, r != nil
}

// TakeStderr hands over the child's stderr, at most once.
func (s *SpawnedAgent) TakeStderr() (io.ReadCloser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.stderr
	s.stderr = nil
	return r, r != nil
}

// InterruptChannel fires once when a cooperative interrupt is requested.
// Bidirectional bindings hand this to their peer as the cancel signal.
func (s *SpawnedAgent) InterruptChannel() <-chan struct{} {
	return s.interruptCh
}

// SetAgentSessionID records the CLI-reported session id (from the child's
// init event) so follow-ups can resume it.
func (s *SpawnedAgent) SetAgentSessionID(id string) {
	if id != "" {
		s.agentSessionID.Store(id)
	}
}

// AgentSessionID returns the CLI-reported session id, if captured.
func (s *SpawnedAgent) AgentSessionID() string {
	if v, ok := s.agentSessionID.Load().(string); ok {
		return v
	}
	return ""
}

// StartExitMonitor begins supervising the child. It must be called exactly
// once, after the read tasks are wired. The agent is finished only after the
// readers have observed end-of-stream AND the child is reaped; then the
// store is closed for writes.
func (s *SpawnedAgent) StartExitMonitor() {
	go func() {
		// Readers first: reaping before the pipes drain would truncate the
		// tail of the stream.
		if s.peer != nil {
			<-s.peer.Done()
		}
		if s.collector != nil {
			s.collector.Wait()
		}

		err := s.cmd.Wait()
		code, waitErr := extractExitCode(err)
		if waitErr != nil {
			debug.LogKV("agent", "wait failed", "agent", s.agentType, "error", waitErr)
			code = -1
		}

		var result ExitResult
		switch {
		case s.interrupted.Load():
			result = ExitResult{State: ExitInterrupted}
		case code == 0:
			result = ExitResult{State: ExitSuccess}
		default:
			result = ExitResult{State: ExitFailure, Code: code}
		}

		s.finish(result)
	}()
}

func (s *SpawnedAgent) finish(result ExitResult) {
	s.exitOnce.Do(func() {
		s.exit = result
		if result.State == ExitFailure {
			s.store.AddError(logs.ErrorKindOther, "agent exited with a non-zero status", s.agentType)
		}
		s.store.Close()
		close(s.exited)
		debug.LogKV("agent", "execution finished", "agent", s.agentType, "state", result.State, "code", result.Code)
	})
}

// Wait blocks until the child is reaped and the stream drained, or ctx
// expires.
func (s *SpawnedAgent) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-s.exited:
		return s.exit, nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

// fireInterrupt requests cooperative interruption exactly once. For
// Claude-bound children the peer reacts by sending an interrupt control
// request and closing stdin.
func (s *SpawnedAgent) fireInterrupt() {
	s.interruptOnce.Do(func() {
		s.interrupted.Store(true)
		close(s.interruptCh)
	})
}

// Kill interrupts the child: first the cooperative channel, then, after a
// grace period, the process-group signal cascade soft → term → kill. Every
// stage is skipped once the child has reaped. Signal errors are logged and
// never abort the cascade; it always runs to completion, even when invoked
// from a timeout shorter than the grace period.
func (s *SpawnedAgent) Kill(ctx context.Context) (ExitResult, error) {
	s.fireInterrupt()
	if s.waitGrace(interruptGrace) {
		return s.exit, nil
	}

	for _, sig := range cascadeSignals() {
		if err := signalGroup(s.cmd, sig); err != nil {
			debug.LogKV("agent", "cascade signal failed", "agent", s.agentType, "signal", sig, "error", err)
		}
		if s.waitGrace(interruptGrace) {
			return s.exit, nil
		}
	}

	if err := killGroup(s.cmd); err != nil {
		debug.LogKV("agent", "group kill failed", "agent", s.agentType, "error", err)
	}

	select {
	case <-s.exited:
		return s.exit, nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

// waitGrace waits up to d for the exit monitor to finish.
func (s *SpawnedAgent) waitGrace(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.exited:
		return true
	case <-timer.C:
		return false
	}
}
