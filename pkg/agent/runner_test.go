//go:build !windows

package agent

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/session"
)

// shellExecutor is a minimal binding over /bin/sh used to exercise the
// runner without any real agent CLI. The script receives the input via the
// PROMPT environment variable; follow-ups expose the resumed id as RESUME.
type shellExecutor struct {
	script string
}

func (e *shellExecutor) AgentType() string {
	return "shell-test"
}

func (e *shellExecutor) Capabilities() []Capability {
	return []Capability{CapSessionContinuation}
}

func (e *shellExecutor) CheckAvailability(ctx context.Context) AvailabilityStatus {
	return Available()
}

func (e *shellExecutor) Spawn(ctx context.Context, cfg Config, input string) (*SpawnedAgent, error) {
	return e.spawn(ctx, cfg, input, "")
}

func (e *shellExecutor) SpawnFollowUp(ctx context.Context, cfg Config, input, priorSessionID string) (*SpawnedAgent, error) {
	return e.spawn(ctx, cfg, input, priorSessionID)
}

func (e *shellExecutor) NormalizeLogs(lines <-chan []byte) <-chan logs.Entry {
	return NormalizeWith(lines, func(line []byte) []logs.Entry {
		return []logs.Entry{logs.NewEntry(logs.EntryOutput, string(line), e.AgentType())}
	})
}

func (e *shellExecutor) spawn(ctx context.Context, cfg Config, input, resume string) (*SpawnedAgent, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", e.script)
	SetupProcessGroup(cmd)
	env := cfg.Env
	if env == nil {
		env = map[string]string{}
	}
	env["PROMPT"] = input
	env["RESUME"] = resume
	SetupEnv(cmd, env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{AgentType: e.AgentType(), Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{AgentType: e.AgentType(), Detail: "stderr pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{AgentType: e.AgentType(), Detail: "start", Err: err}
	}

	store := cfg.StoreOrNew()
	collector := logs.NewCollector(e.AgentType(), store)
	collector.CollectStdout(stdout)
	collector.CollectStderr(stderr)

	spawned := NewSpawnedAgent(e.AgentType(), cmd, store).WithCollector(collector)
	spawned.StartExitMonitor()
	return spawned, nil
}

func TestRunnerRunCollectsOutput(t *testing.T) {
	runner := NewRunner(&shellExecutor{script: `echo "got: $PROMPT"`})

	result, err := runner.Run(context.Background(), "hello", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Output != "got: hello" {
		t.Fatalf("output = %q, want %q", result.Output, "got: hello")
	}

	sess, ok := runner.Sessions().Get(result.SessionID)
	if !ok {
		t.Fatal("session missing after run")
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("session status = %s, want completed", sess.Status)
	}
	if len(sess.Executions) != 1 || sess.Executions[0].Status != session.ExecutionCompleted {
		t.Fatalf("executions = %+v", sess.Executions)
	}
	if code := sess.Executions[0].ExitCode; code == nil || *code != 0 {
		t.Fatalf("exit code = %v, want 0", code)
	}
}

func TestRunnerFailureMarksSessionFailed(t *testing.T) {
	runner := NewRunner(&shellExecutor{script: `echo boom >&2; exit 2`})

	result, err := runner.Run(context.Background(), "x", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatal("want failure")
	}
	if code, _ := result.Exit.ExitCode(); code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}

	sess, _ := runner.Sessions().Get(result.SessionID)
	if sess.Status != session.StatusFailed {
		t.Fatalf("session status = %s, want failed", sess.Status)
	}
}

func TestRunnerTimeoutKillsAndReportsTimeout(t *testing.T) {
	runner := NewRunner(&shellExecutor{script: `sleep 30`})

	start := time.Now()
	result, err := runner.Run(context.Background(), "x", Config{Timeout: 100 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if result == nil || result.Exit.State != ExitInterrupted {
		t.Fatalf("result = %+v, want interrupted", result)
	}
	// Cooperative grace plus the first cascade stage; sleep dies on INT.
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout run took %s", time.Since(start))
	}

	sess, _ := runner.Sessions().Get(result.SessionID)
	if sess.Status != session.StatusCancelled {
		t.Fatalf("session status = %s, want cancelled", sess.Status)
	}
}

func TestRunnerContinueSessionSharesLogStore(t *testing.T) {
	runner := NewRunner(&shellExecutor{script: `echo "resume=$RESUME prompt=$PROMPT"`})

	first, err := runner.Run(context.Background(), "one", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	second, err := runner.ContinueSession(context.Background(), first.SessionID, "two", Config{})
	if err != nil {
		t.Fatalf("ContinueSession: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatal("follow-up must stay in the same session")
	}

	sess, _ := runner.Sessions().Get(first.SessionID)
	if len(sess.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(sess.Executions))
	}

	// Both executions' entries share one store.
	store, _ := runner.Sessions().LogStore(first.SessionID)
	var outputs []string
	for _, e := range store.Entries() {
		if e.Type == logs.EntryOutput {
			outputs = append(outputs, e.Content)
		}
	}
	if len(outputs) != 2 {
		t.Fatalf("outputs = %v, want both executions", outputs)
	}
	if outputs[1] != "resume="+first.SessionID+" prompt=two" {
		t.Fatalf("follow-up output = %q, want resume id %s", outputs[1], first.SessionID)
	}
}

func TestRunnerContinueSessionUnknownID(t *testing.T) {
	runner := NewRunner(&shellExecutor{script: `true`})

	_, err := runner.ContinueSession(context.Background(), "no-such-session", "x", Config{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRunnerRunStreamedDeliversLiveEntries(t *testing.T) {
	runner := NewRunner(&shellExecutor{script: `echo live1; echo live2`})

	sr, err := runner.RunStreamed(context.Background(), "x", Config{})
	if err != nil {
		t.Fatalf("RunStreamed: %v", err)
	}

	var got []string
	for entry := range sr.Events {
		if entry.Type == logs.EntryOutput {
			got = append(got, entry.Content)
		}
	}
	if len(got) != 2 || got[0] != "live1" || got[1] != "live2" {
		t.Fatalf("events = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := sr.Agent.Wait(ctx)
	if err != nil || res.State != ExitSuccess {
		t.Fatalf("Wait = %v %v", res, err)
	}
}

func TestUnsupportedFollowUpError(t *testing.T) {
	err := UnsupportedFollowUp("cursor")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
