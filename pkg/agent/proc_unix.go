//go:build !windows

package agent

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetupProcessGroup starts the command in its own process group so the
// interrupt cascade can kill the entire tree. Node.js-based CLIs spawn
// helper processes; without group signalling, orphans hold the pipes open
// and hang the supervisor.
func SetupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
		return nil
	}
}

// cascadeSignals returns the staged soft/term signals sent before the final
// unconditional kill.
func cascadeSignals() []os.Signal {
	return []os.Signal{unix.SIGINT, unix.SIGTERM}
}

// signalGroup delivers sig to the child's whole process group.
func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	s, ok := sig.(unix.Signal)
	if !ok {
		return cmd.Process.Signal(sig)
	}
	return unix.Kill(-cmd.Process.Pid, s)
}

// killGroup unconditionally kills the child's process group.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
