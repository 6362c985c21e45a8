package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/agusx1211/liteagent/pkg/logs"
)

// fakeChild simulates the agent side of the control protocol over pipes.
type fakeChild struct {
	stdin  *io.PipeReader // what the library wrote
	stdout *io.PipeWriter // what the child emits

	mu    sync.Mutex
	seen  []Envelope
	lines *bufio.Scanner
}

func newFakeChild(t *testing.T) (*fakeChild, *Peer, *logs.Store) {
	t.Helper()
	return newFakeChildWith(t, PeerConfig{})
}

func newFakeChildWith(t *testing.T, cfg PeerConfig) (*fakeChild, *Peer, *logs.Store) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	child := &fakeChild{stdin: stdinR, stdout: stdoutW}
	child.lines = bufio.NewScanner(stdinR)

	store := logs.NewStore()
	cfg.AgentType = "test"
	cfg.Store = store

	peer := NewPeer(stdinW, stdoutR, cfg)
	t.Cleanup(func() {
		stdoutW.Close()
		stdinR.Close()
	})
	return child, peer, store
}

// next reads the next frame the library wrote to the child's stdin.
func (c *fakeChild) next(t *testing.T) Envelope {
	t.Helper()
	if !c.lines.Scan() {
		t.Fatalf("child stdin closed early: %v", c.lines.Err())
	}
	env, err := DecodeLine(c.lines.Bytes())
	if err != nil {
		t.Fatalf("child got malformed frame %q: %v", c.lines.Text(), err)
	}
	c.mu.Lock()
	c.seen = append(c.seen, env)
	c.mu.Unlock()
	return env
}

// send emits one frame on the child's stdout.
func (c *fakeChild) send(t *testing.T, env Envelope) {
	t.Helper()
	line, err := EncodeLine(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := c.stdout.Write(line); err != nil {
		t.Fatalf("child write: %v", err)
	}
}

func (c *fakeChild) ack(t *testing.T, requestID string) {
	c.send(t, Envelope{
		Type:      TypeControlResponse,
		RequestID: requestID,
		Response:  &Response{Subtype: "success"},
	})
}

func TestInitializeAwaitsAck(t *testing.T) {
	child, peer, _ := newFakeChild(t)

	go func() {
		env := child.next(t)
		if env.Subtype != SubtypeInitialize {
			t.Errorf("subtype = %s, want initialize", env.Subtype)
		}
		child.ack(t, env.RequestID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := peer.Initialize(ctx, PlanModeHooks()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestSetPermissionModeCarriesMode(t *testing.T) {
	child, peer, _ := newFakeChild(t)

	go func() {
		env := child.next(t)
		if env.Subtype != SubtypeSetPermissionMode || env.Mode != PermissionPlan {
			t.Errorf("frame = %+v, want set_permission_mode plan", env)
		}
		child.ack(t, env.RequestID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := peer.SetPermissionMode(ctx, PermissionPlan); err != nil {
		t.Fatalf("SetPermissionMode: %v", err)
	}
}

func TestCanUseToolRoutedToApprovalService(t *testing.T) {
	var gotReq ApprovalRequest
	svc := ApprovalFunc(func(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		gotReq = req
		return AllowWithUpdates(req.Input, SetModeUpdate(PermissionBypass)), nil
	})

	child, _, _ := newFakeChildWith(t, PeerConfig{Approvals: svc})

	child.send(t, Envelope{
		Type:      TypeControlRequest,
		RequestID: "child-1",
		Subtype:   SubtypeCanUseTool,
		ToolName:  "ExitPlanMode",
		Input:     json.RawMessage(`{"plan":"p"}`),
		ToolUseID: "t1",
	})

	env := child.next(t)
	if env.Type != TypeControlResponse || env.RequestID != "child-1" {
		t.Fatalf("response frame = %+v", env)
	}
	if env.Response == nil || env.Response.Behavior != BehaviorAllow {
		t.Fatalf("response = %+v, want allow", env.Response)
	}
	if len(env.Response.UpdatedPermissions) != 1 || env.Response.UpdatedPermissions[0].Mode != PermissionBypass {
		t.Fatalf("updatedPermissions = %+v, want setMode bypassPermissions", env.Response.UpdatedPermissions)
	}
	if gotReq.ToolName != "ExitPlanMode" || gotReq.ToolUseID != "t1" {
		t.Fatalf("service saw %+v", gotReq)
	}
}

func TestDenyCarriesMessageAndInterrupt(t *testing.T) {
	svc := ApprovalFunc(func(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		return Deny("not allowed", true), nil
	})
	child, _, _ := newFakeChildWith(t, PeerConfig{Approvals: svc})

	child.send(t, Envelope{
		Type:      TypeControlRequest,
		RequestID: "child-2",
		Subtype:   SubtypeCanUseTool,
		ToolName:  "Bash",
	})

	env := child.next(t)
	if env.Response == nil || env.Response.Behavior != BehaviorDeny {
		t.Fatalf("response = %+v, want deny", env.Response)
	}
	if env.Response.Message != "not allowed" || !env.Response.Interrupt {
		t.Fatalf("deny payload = %+v", env.Response)
	}
}

func TestHandlersRunConcurrently(t *testing.T) {
	// The first handler blocks until the second one has answered; if the
	// read loop serialized handlers this would deadlock.
	release := make(chan struct{})
	svc := ApprovalFunc(func(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		if req.ToolUseID == "slow" {
			<-release
		} else {
			close(release)
		}
		return Allow(req.Input), nil
	})
	child, _, _ := newFakeChildWith(t, PeerConfig{Approvals: svc})

	child.send(t, Envelope{Type: TypeControlRequest, RequestID: "slow-req", Subtype: SubtypeCanUseTool, ToolName: "Bash", ToolUseID: "slow"})
	child.send(t, Envelope{Type: TypeControlRequest, RequestID: "fast-req", Subtype: SubtypeCanUseTool, ToolName: "Read", ToolUseID: "fast"})

	first := child.next(t)
	second := child.next(t)
	if first.RequestID != "fast-req" || second.RequestID != "slow-req" {
		t.Fatalf("responses out of completion order: %s then %s", first.RequestID, second.RequestID)
	}
}

func TestAutoApproveSentinelBypassesService(t *testing.T) {
	called := false
	svc := ApprovalFunc(func(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		called = true
		return Allow(req.Input), nil
	})
	child, _, _ := newFakeChildWith(t, PeerConfig{Approvals: svc})

	child.send(t, Envelope{
		Type:       TypeControlRequest,
		RequestID:  "hook-1",
		Subtype:    SubtypeHookCallback,
		CallbackID: CallbackAutoApprove,
		Input:      json.RawMessage(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`),
	})

	env := child.next(t)
	if env.Response == nil || env.Response.Behavior != BehaviorAllow {
		t.Fatalf("response = %+v, want allow", env.Response)
	}
	if called {
		t.Fatal("auto-approve sentinel must not reach the approval service")
	}
}

func TestUnmatchedResponseLogsViolationAndContinues(t *testing.T) {
	child, peer, store := newFakeChild(t)

	child.send(t, Envelope{
		Type:      TypeControlResponse,
		RequestID: "never-issued",
		Response:  &Response{Subtype: "success"},
	})

	// The read loop keeps going: a later request still resolves.
	go func() {
		env := child.next(t)
		child.ack(t, env.RequestID)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := peer.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt after violation: %v", err)
	}

	found := false
	for _, e := range store.Entries() {
		if e.Type == logs.EntryError && e.ErrorKind == logs.ErrorKindProtocol {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a protocol Error entry for the unmatched response")
	}
}

func TestChildExitFailsPendingWithConnectionClosed(t *testing.T) {
	child, peer, _ := newFakeChild(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := peer.sendRequest(context.Background(), Envelope{Type: TypeControlRequest, Subtype: SubtypeInterrupt})
		errCh <- err
	}()

	// Swallow the request, then die without answering.
	child.next(t)
	child.stdout.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("pending resolved with %v, want connection closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not resolved after child exit")
	}

	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read task did not terminate")
	}
}

func TestResultStopsReadTaskAndPassesThrough(t *testing.T) {
	var mu sync.Mutex
	var passed []string
	child, peer, _ := newFakeChildWith(t, PeerConfig{
		OnPassthrough: func(line []byte) {
			mu.Lock()
			passed = append(passed, string(line))
			mu.Unlock()
		},
	})

	child.send(t, Envelope{Type: "assistant", Content: "ignored"})
	child.send(t, Envelope{Type: TypeResult})

	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read task did not stop on result frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(passed) != 2 {
		t.Fatalf("passthrough lines = %d, want 2 (assistant + result)", len(passed))
	}
}

func TestEveryRequestGetsExactlyOneResponse(t *testing.T) {
	svc := ApprovalFunc(func(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		return Allow(req.Input), nil
	})
	child, peer, _ := newFakeChildWith(t, PeerConfig{Approvals: svc})

	const n = 5
	for i := 0; i < n; i++ {
		child.send(t, Envelope{
			Type:      TypeControlRequest,
			RequestID: "req-" + string(rune('a'+i)),
			Subtype:   SubtypeCanUseTool,
			ToolName:  "Read",
		})
	}

	seen := make(map[string]int)
	for i := 0; i < n; i++ {
		env := child.next(t)
		seen[env.RequestID]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("request %s answered %d times", id, count)
		}
	}
	if len(seen) != n {
		t.Fatalf("distinct responses = %d, want %d", len(seen), n)
	}

	child.stdout.Close()
	<-peer.Done()
}
