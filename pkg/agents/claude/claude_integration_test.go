//go:build !windows

package claude

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agusx1211/liteagent/pkg/agent"
	"github.com/agusx1211/liteagent/pkg/logs"
)

// fakeClaudeScript speaks just enough of the control protocol for a spawn:
// it acks initialize and set_permission_mode, consumes the user turn, then
// streams an init event, one assistant message, and the terminal result.
const fakeClaudeScript = `#!/bin/sh
reply() {
  printf '{"type":"control_response","request_id":"%s","response":{"subtype":"success"}}\n' "$1"
}
IFS= read -r line
reply "$(printf '%s' "$line" | sed 's/.*"request_id":"\([^"]*\)".*/\1/')"
IFS= read -r line
reply "$(printf '%s' "$line" | sed 's/.*"request_id":"\([^"]*\)".*/\1/')"
IFS= read -r line
echo '{"type":"system","subtype":"init","session_id":"cl-55","model":"test-model"}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}'
echo '{"type":"result","result":"hi","num_turns":1}'
exit 0
`

func TestSpawnAgainstFakeCLI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte(fakeClaudeScript), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := json.Marshal(Options{CustomPath: path})
	if err != nil {
		t.Fatalf("marshal opts: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	spawned, err := New().Spawn(ctx, agent.Config{
		WorkDir: t.TempDir(),
		Options: opts,
	}, "print hi")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := spawned.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != agent.ExitSuccess {
		t.Fatalf("state = %s, want success", res.State)
	}
	if spawned.AgentSessionID() != "cl-55" {
		t.Fatalf("agent session id = %q, want cl-55", spawned.AgentSessionID())
	}

	var sawInput, sawOutput bool
	for _, e := range spawned.Store().Entries() {
		switch {
		case e.Type == logs.EntryInput && e.Content == "print hi":
			sawInput = true
		case e.Type == logs.EntryOutput && e.Content == "hi":
			sawOutput = true
		case e.Type == logs.EntryError:
			t.Fatalf("unexpected error entry: %+v", e)
		}
	}
	if !sawInput || !sawOutput {
		t.Fatalf("entries missing input/output: input=%v output=%v", sawInput, sawOutput)
	}
}
