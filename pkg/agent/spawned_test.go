//go:build !windows

package agent

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/agusx1211/liteagent/pkg/logs"
)

// launchShell starts a shell command wired like a binding would wire it:
// process group, piped stdout/stderr, collector into a fresh store.
func launchShell(t *testing.T, script string) *SpawnedAgent {
	t.Helper()

	cmd := exec.CommandContext(context.Background(), "sh", "-c", script)
	SetupProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	store := logs.NewStore()
	collector := logs.NewCollector("test", store)
	collector.CollectStdout(stdout)
	collector.CollectStderr(stderr)

	spawned := NewSpawnedAgent("test", cmd, store).WithCollector(collector)
	spawned.StartExitMonitor()
	return spawned
}

func TestWaitSuccess(t *testing.T) {
	spawned := launchShell(t, "echo hi; exit 0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := spawned.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != ExitSuccess {
		t.Fatalf("state = %s, want success", res.State)
	}
	if code, ok := res.ExitCode(); !ok || code != 0 {
		t.Fatalf("code = %d ok=%v, want 0 true", code, ok)
	}

	found := false
	for _, e := range spawned.Store().Entries() {
		if e.Type == logs.EntryOutput && e.Content == "hi" {
			found = true
		}
	}
	if !found {
		t.Fatal("stdout line not collected before exit classification")
	}
}

func TestWaitFailureKeepsExitCode(t *testing.T) {
	spawned := launchShell(t, "exit 3")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := spawned.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != ExitFailure {
		t.Fatalf("state = %s, want failure", res.State)
	}
	if code, _ := res.ExitCode(); code != 3 {
		t.Fatalf("code = %d, want 3", code)
	}
}

func TestAuthFailureOnStderr(t *testing.T) {
	spawned := launchShell(t, `echo "Authentication required" >&2; exit 1`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := spawned.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != ExitFailure {
		t.Fatalf("state = %s, want failure", res.State)
	}

	found := false
	for _, e := range spawned.Store().Entries() {
		if e.Type == logs.EntryError && e.ErrorKind == logs.ErrorKindSetupRequired {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a setup_required Error entry from stderr")
	}
}

func TestKillCascadeReapsUncooperativeChild(t *testing.T) {
	// The shell ignores INT and TERM and keeps respawning sleeps; only the
	// final KILL reaps the group.
	spawned := launchShell(t, `trap "" INT TERM; while true; do sleep 1; done`)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	res, err := spawned.Kill(ctx)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	elapsed := time.Since(start)

	if res.State != ExitInterrupted {
		t.Fatalf("state = %s, want interrupted", res.State)
	}
	if _, ok := res.ExitCode(); ok {
		t.Fatal("interrupted execution must not report an exit code")
	}
	// Cooperative grace + INT grace + TERM grace + kill, with slack.
	if elapsed > 4*interruptGrace {
		t.Fatalf("cascade took %s, want under %s", elapsed, 4*interruptGrace)
	}
	if spawned.cmd.ProcessState == nil {
		t.Fatal("child not reaped after Kill")
	}
}

func TestKillAfterExitIsImmediate(t *testing.T) {
	spawned := launchShell(t, "exit 0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := spawned.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	start := time.Now()
	res, err := spawned.Kill(ctx)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Kill on a reaped child should return immediately")
	}
	// The classification was fixed at exit time; a late Kill does not
	// rewrite history.
	if res.State != ExitSuccess {
		t.Fatalf("state = %s, want success", res.State)
	}
}

func TestStdioTakeOnce(t *testing.T) {
	cmd := exec.Command("sh", "-c", "cat")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	spawned := NewSpawnedAgent("test", cmd, logs.NewStore()).WithStdin(stdin)
	spawned.StartExitMonitor()

	w, ok := spawned.TakeStdin()
	if !ok || w == nil {
		t.Fatal("first TakeStdin failed")
	}
	if _, ok := spawned.TakeStdin(); ok {
		t.Fatal("second TakeStdin should fail")
	}
	if _, ok := spawned.TakeStdout(); ok {
		t.Fatal("TakeStdout on unattached handle should fail")
	}

	w.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := spawned.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestStoreClosedAfterFinish(t *testing.T) {
	spawned := launchShell(t, "echo done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := spawned.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Subscribers drain the buffer and see the channel close.
	ch := spawned.Store().Subscribe()
	for range ch {
	}
}
