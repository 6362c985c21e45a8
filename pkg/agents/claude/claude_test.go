package claude

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agusx1211/liteagent/pkg/logs"
	"github.com/agusx1211/liteagent/pkg/protocol"
)

func TestBuildArgsDefaults(t *testing.T) {
	args := buildArgs(Options{}, "")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-p",
		"--output-format stream-json",
		"--input-format stream-json",
		"--include-partial-messages",
		"--verbose",
		"--disallowedTools=AskUserQuestion",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if strings.Contains(joined, "--permission-prompt-tool") {
		t.Fatalf("default args should not enable the stdio permission tool: %q", joined)
	}
}

func TestBuildArgsPlanModeEnablesStdioPermissions(t *testing.T) {
	args := buildArgs(Options{PlanMode: true}, "")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--permission-prompt-tool=stdio") {
		t.Fatalf("plan mode args missing stdio permission tool: %q", joined)
	}
	if !strings.Contains(joined, "--permission-mode=bypassPermissions") {
		t.Fatalf("plan mode args missing bypass mode: %q", joined)
	}
}

func TestBuildArgsFollowUpResume(t *testing.T) {
	args := buildArgs(Options{Model: "claude-sonnet-4"}, "sess-123")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--fork-session") {
		t.Fatalf("follow-up args missing --fork-session: %q", joined)
	}
	if !strings.Contains(joined, "--resume sess-123") {
		t.Fatalf("follow-up args missing resume id: %q", joined)
	}
	if !strings.Contains(joined, "--model claude-sonnet-4") {
		t.Fatalf("args missing model: %q", joined)
	}
}

func TestEffectivePermissionMode(t *testing.T) {
	cases := []struct {
		opts Options
		want protocol.PermissionMode
	}{
		{Options{PlanMode: true}, protocol.PermissionPlan},
		{Options{Approvals: true}, protocol.PermissionDefault},
		{Options{PermissionMode: protocol.PermissionAcceptEdits}, protocol.PermissionAcceptEdits},
		{Options{}, protocol.PermissionBypass},
	}
	for _, tc := range cases {
		if got := tc.opts.EffectivePermissionMode(); got != tc.want {
			t.Fatalf("opts %+v: mode = %s, want %s", tc.opts, got, tc.want)
		}
	}
}

func TestHooksPerMode(t *testing.T) {
	if hooks := (Options{}).Hooks(); hooks != nil {
		t.Fatalf("bypass mode hooks = %v, want none", hooks)
	}
	if hooks := (Options{PlanMode: true}).Hooks(); len(hooks[protocol.PreToolUse]) != 2 {
		t.Fatalf("plan hooks = %v", hooks)
	}
	if hooks := (Options{Approvals: true}).Hooks(); len(hooks[protocol.PreToolUse]) != 1 {
		t.Fatalf("approval hooks = %v", hooks)
	}
}

func TestPlanModeApprovalsInjectsBypassOnExitPlanMode(t *testing.T) {
	inner := protocol.ApprovalFunc(func(_ context.Context, req protocol.ApprovalRequest) (protocol.ApprovalDecision, error) {
		return protocol.Allow(req.Input), nil
	})
	svc := planModeApprovals{inner: inner}

	decision, err := svc.ApproveTool(context.Background(), protocol.ApprovalRequest{
		ToolName: "ExitPlanMode",
		Input:    json.RawMessage(`{"plan":"p"}`),
	})
	if err != nil {
		t.Fatalf("ApproveTool: %v", err)
	}
	if len(decision.UpdatedPermissions) != 1 {
		t.Fatalf("updates = %+v, want the injected setMode", decision.UpdatedPermissions)
	}
	u := decision.UpdatedPermissions[0]
	if u.Type != protocol.UpdateSetMode || u.Mode != protocol.PermissionBypass {
		t.Fatalf("update = %+v, want setMode bypassPermissions", u)
	}
}

func TestPlanModeApprovalsLeavesOtherToolsUntouched(t *testing.T) {
	inner := protocol.ApprovalFunc(func(_ context.Context, req protocol.ApprovalRequest) (protocol.ApprovalDecision, error) {
		return protocol.Allow(req.Input), nil
	})
	svc := planModeApprovals{inner: inner}

	decision, err := svc.ApproveTool(context.Background(), protocol.ApprovalRequest{
		ToolName: "Bash",
		Input:    json.RawMessage(`{"command":"ls"}`),
	})
	if err != nil {
		t.Fatalf("ApproveTool: %v", err)
	}
	if len(decision.UpdatedPermissions) != 0 {
		t.Fatalf("updates = %+v, want none", decision.UpdatedPermissions)
	}
	if string(decision.UpdatedInput) != `{"command":"ls"}` {
		t.Fatalf("input rewritten: %s", decision.UpdatedInput)
	}
}

func TestPlanModeApprovalsWithoutServiceDenies(t *testing.T) {
	svc := planModeApprovals{}
	decision, err := svc.ApproveTool(context.Background(), protocol.ApprovalRequest{ToolName: "ExitPlanMode"})
	if err != nil {
		t.Fatalf("ApproveTool: %v", err)
	}
	if decision.Behavior != protocol.BehaviorDeny {
		t.Fatalf("decision = %+v, want deny", decision)
	}
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(json.RawMessage(`{"plan_mode":true,"model":"claude-sonnet-4"}`))
	if err != nil {
		t.Fatalf("DecodeOptions: %v", err)
	}
	if !opts.PlanMode || opts.Model != "claude-sonnet-4" {
		t.Fatalf("opts = %+v", opts)
	}

	if _, err := DecodeOptions(json.RawMessage(`{`)); err == nil {
		t.Fatal("malformed options accepted")
	}

	opts, err = DecodeOptions(nil)
	if err != nil || opts.PlanMode {
		t.Fatalf("nil blob: %+v %v", opts, err)
	}
}

func TestCapabilities(t *testing.T) {
	e := New()
	caps := e.Capabilities()
	for _, want := range []string{"session_continuation", "bidirectional_control", "workspace_isolation"} {
		found := false
		for _, c := range caps {
			if string(c) == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("capabilities %v missing %s", caps, want)
		}
	}
}

func TestNormalizeLogsChannel(t *testing.T) {
	e := New()
	lines := make(chan []byte, 2)
	lines <- []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)
	lines <- []byte(`not json`)
	close(lines)

	var got []logs.Entry
	for entry := range e.NormalizeLogs(lines) {
		got = append(got, entry)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Type != logs.EntryOutput || got[0].Content != "hi" {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Type != logs.EntryError || got[1].ErrorKind != logs.ErrorKindParse {
		t.Fatalf("second = %+v, want parse error", got[1])
	}
}
